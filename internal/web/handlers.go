package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"covidboard/internal/covid"
	"covidboard/internal/updates"
	logx "covidboard/pkg/logx"
)

// ErrorResponse is the body of every non-2xx API reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type articleView struct {
	Title   string
	Content string
}

type pageData struct {
	Title    string
	Favicon  string
	Stats    covid.StatsRecord
	Articles []articleView
	NewsAt   time.Time
	Updates  []updates.Status
	Flash    string
}

// index applies the query-string actions, pumps due updates and renders.
func (s *Server) index(c *gin.Context) {
	ctx := c.Request.Context()
	var flash string

	if title := strings.TrimSpace(c.Query("notif")); title != "" {
		if err := s.dash.Dismiss(ctx, title); err != nil {
			s.log.Warn("dismiss failed", logx.String("title", title), logx.Err(err))
		}
	}

	if name, at := c.Query("two"), c.Query("update"); name != "" && at != "" {
		req := updates.Request{
			Name:   name,
			At:     at,
			Stats:  c.Query("covid-data") != "",
			News:   c.Query("news") != "",
			Repeat: c.Query("repeat") != "",
		}
		if _, err := s.upd.RequestNow(ctx, req); err != nil {
			flash = err.Error()
		}
	}

	if name := strings.TrimSpace(c.Query("update_item")); name != "" {
		s.upd.Cancel(name)
	}

	if n := s.upd.Pump(ctx); n > 0 {
		s.log.Debug("queue pumped", logx.Int("ran", n))
	}

	view := s.dash.View()
	articles := make([]articleView, 0, len(view.Articles))
	for _, a := range view.Articles {
		articles = append(articles, articleView{Title: a.Title, Content: a.Content()})
	}
	c.HTML(http.StatusOK, "index.html", pageData{
		Title:    pageTitle,
		Favicon:  "/static/images/covid_icon.svg",
		Stats:    view.Stats,
		Articles: articles,
		NewsAt:   view.NewsAt,
		Updates:  s.upd.Statuses(),
		Flash:    flash,
	})
}

func (s *Server) listUpdates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"updates": s.upd.Statuses()})
}

func (s *Server) createUpdate(c *gin.Context) {
	var req updates.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}
	d, err := s.upd.RequestNow(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (s *Server) cancelUpdate(c *gin.Context) {
	name := c.Param("name")
	if !s.upd.Cancel(name) {
		writeError(c, updates.ErrNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) stats(c *gin.Context) {
	st := s.dash.View().Stats
	if !st.Available() {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "UNAVAILABLE", Message: "statistics not fetched yet"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) news(c *gin.Context) {
	v := s.dash.View()
	c.JSON(http.StatusOK, gin.H{"articles": v.Articles, "fetched_at": v.NewsAt})
}

func (s *Server) healthz(c *gin.Context) {
	body := gin.H{"status": "ok", "time": time.Now().UTC()}
	if s.health != nil {
		for k, v := range s.health() {
			body[k] = v
		}
	}
	c.JSON(http.StatusOK, body)
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.Is(err, updates.ErrFormat), errors.Is(err, updates.ErrNoTarget), errors.Is(err, updates.ErrEmptyName):
		status, code = http.StatusBadRequest, "BAD_REQUEST"
	case errors.Is(err, updates.ErrDuplicateName):
		status, code = http.StatusConflict, "DUPLICATE"
	case errors.Is(err, updates.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	}
	c.JSON(status, ErrorResponse{Code: code, Message: err.Error()})
}
