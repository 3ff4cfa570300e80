package covid

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

// ErrFetch wraps every network, status and decode failure of the client.
var ErrFetch = errors.New("covid fetch failed")

const DefaultBaseURL = "https://api.coronavirus.data.gov.uk"

// Area types understood by the API.
const (
	AreaLTLA   = "ltla"
	AreaNation = "nation"
)

// Day is one row of the API response. Nullable metrics are pointers.
type Day struct {
	Date          string `json:"date"`
	AreaName      string `json:"areaName"`
	NewCases      *int   `json:"newCasesBySpecimenDate"`
	HospitalCases *int   `json:"hospitalCases,omitempty"`
	CumDeaths     *int   `json:"cumDeaths28DaysByDeathDate,omitempty"`
}

// Series is the daily data of one area, newest day first.
type Series struct {
	Area     string `json:"area"`
	AreaType string `json:"area_type"`
	Days     []Day  `json:"days"`
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, hc *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc}
}

func structureFor(areaType string) string {
	fields := []string{"date", "areaName", "newCasesBySpecimenDate"}
	if areaType == AreaNation {
		fields = append(fields, "hospitalCases", "cumDeaths28DaysByDeathDate")
	}
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		m[f] = f
	}
	b, _ := json.Marshal(m)
	return string(b)
}

// Fetch returns the daily series for area.
func (c *Client) Fetch(ctx context.Context, area, areaType string) (Series, error) {
	q := url.Values{}
	q.Set("filters", "areaType="+areaType+";areaName="+area)
	q.Set("structure", structureFor(areaType))
	u := c.BaseURL + "/v1/data?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Series{}, fmt.Errorf("%w: build request: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Series{}, fmt.Errorf("%w: %s %s: %v", ErrFetch, area, areaType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return Series{}, fmt.Errorf("%w: no data for %s %s", ErrFetch, areaType, area)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Series{}, fmt.Errorf("%w: unexpected response status: %s", ErrFetch, resp.Status)
	}

	var body struct {
		Data []Day `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Series{}, fmt.Errorf("%w: decode: %v", ErrFetch, err)
	}
	return Series{Area: area, AreaType: areaType, Days: body.Data}, nil
}
