// Package news pulls headlines from NewsAPI and keeps only articles whose
// publisher writes in the requested language.
package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrFetch = errors.New("news fetch failed")

const DefaultBaseURL = "https://newsapi.org"

// DefaultTerms are queried when none are configured.
var DefaultTerms = []string{"Covid", "COVID-19", "coronavirus"}

type Article struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Source      string `json:"source"`
}

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewClient(baseURL, apiKey string, hc *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), APIKey: apiKey, HTTP: hc}
}

type apiArticle struct {
	Source struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"source"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

type apiResponse struct {
	Status   string       `json:"status"`
	Code     string       `json:"code"`
	Message  string       `json:"message"`
	Articles []apiArticle `json:"articles"`
	Sources  []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Language string `json:"language"`
	} `json:"sources"`
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (apiResponse, error) {
	q.Set("apiKey", c.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return apiResponse{}, fmt.Errorf("%w: build request: %v", ErrFetch, err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return apiResponse{}, fmt.Errorf("%w: %s: %v", ErrFetch, path, err)
	}
	defer resp.Body.Close()

	var body apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&body); err != nil {
		return apiResponse{}, fmt.Errorf("%w: %s: status %s: decode: %v", ErrFetch, path, resp.Status, err)
	}
	if resp.StatusCode != http.StatusOK || body.Status == "error" {
		return apiResponse{}, fmt.Errorf("%w: %s: status %s: %s %s", ErrFetch, path, resp.Status, body.Code, body.Message)
	}
	return body, nil
}

// SourcesByLanguage returns the names of publishers writing in language.
func (c *Client) SourcesByLanguage(ctx context.Context, language string) (map[string]struct{}, error) {
	body, err := c.get(ctx, "/v2/top-headlines/sources", url.Values{"language": {language}})
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(body.Sources))
	for _, s := range body.Sources {
		out[s.Name] = struct{}{}
	}
	return out, nil
}

// Headlines queries top headlines for each term, merges them by URL, and keeps
// the articles from sources in language. An empty language disables the filter.
func (c *Client) Headlines(ctx context.Context, terms []string, language string) ([]Article, error) {
	if len(terms) == 0 {
		terms = DefaultTerms
	}
	var allowed map[string]struct{}
	if language = strings.TrimSpace(language); language != "" {
		var err error
		if allowed, err = c.SourcesByLanguage(ctx, language); err != nil {
			return nil, err
		}
	}

	seen := map[string]struct{}{}
	var out []Article
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		body, err := c.get(ctx, "/v2/top-headlines", url.Values{"q": {term}})
		if err != nil {
			return nil, err
		}
		for _, a := range body.Articles {
			if allowed != nil {
				if _, ok := allowed[a.Source.Name]; !ok {
					continue
				}
			}
			key := a.URL
			if key == "" {
				key = a.Title
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, Article{Title: a.Title, Description: a.Description, URL: a.URL, Source: a.Source.Name})
		}
	}
	return out, nil
}

// Visible drops dismissed titles and caps the result at limit (0 = no cap).
func Visible(articles []Article, dismissed map[string]struct{}, limit int) []Article {
	out := make([]Article, 0, len(articles))
	for _, a := range articles {
		if _, gone := dismissed[a.Title]; gone {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Content is the one-line summary shown under a headline.
func (a Article) Content() string {
	parts := []string{"Publisher: " + a.Source}
	if a.Description != "" {
		parts = append(parts, a.Description)
	}
	if a.URL != "" {
		parts = append(parts, a.URL)
	}
	return strings.Join(parts, "  |  ")
}
