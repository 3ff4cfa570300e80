// Package web serves the dashboard page and a small JSON API over gin.
//
// GET /index is the HTML page. Its query string
// carries the user's actions (dismiss a headline, request or cancel an
// update), and each request pumps the update queue before rendering.
package web

import (
	"context"
	"errors"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"covidboard/internal/dashboard"
	"covidboard/internal/updates"
	logx "covidboard/pkg/logx"
)

const (
	defaultAddr     = "127.0.0.1:5000"
	shutdownTimeout = 5 * time.Second
	pageTitle       = "Covid-19 Dashboard"
)

// Dashboard is the data side of the page.
type Dashboard interface {
	View() dashboard.View
	Dismiss(ctx context.Context, title string) error
}

// Updates is the scheduling side of the page.
type Updates interface {
	Pump(ctx context.Context) int
	RequestNow(ctx context.Context, req updates.Request) (updates.Descriptor, error)
	Cancel(name string) bool
	Statuses() []updates.Status
}

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// CORSOrigins lists origins allowed to call the API cross-site; "*"
	// allows any. Empty disables CORS.
	CORSOrigins []string
}

type Deps struct {
	Log       logx.Logger
	Dashboard Dashboard
	Updates   Updates
	// Health adds fields to GET /healthz. Optional.
	Health func() map[string]any
}

type Server struct {
	cfg    Config
	log    logx.Logger
	dash   Dashboard
	upd    Updates
	health func() map[string]any
	engine *gin.Engine
}

func New(cfg Config, d Deps) (*Server, error) {
	if d.Dashboard == nil || d.Updates == nil {
		return nil, errors.New("web: dashboard and updates are required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = defaultAddr
	}
	s := &Server{
		cfg:    cfg,
		log:    d.Log,
		dash:   d.Dashboard,
		upd:    d.Updates,
		health: d.Health,
	}
	engine, err := s.routes()
	if err != nil {
		return nil, err
	}
	s.engine = engine
	return s, nil
}

func (s *Server) routes() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)

	tmpl, err := template.ParseFS(assets, "templates/index.html")
	if err != nil {
		return nil, err
	}
	static, err := fs.Sub(assets, "static")
	if err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.Use(requestID(), accessLog(s.log), recovery(s.log))
	if cc, ok := corsConfig(s.cfg.CORSOrigins); ok {
		engine.Use(cors.New(cc))
	}
	engine.SetHTMLTemplate(tmpl)

	engine.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, "/index") })
	engine.GET("/index", s.index)
	engine.StaticFS("/static", http.FS(static))
	engine.GET("/healthz", s.healthz)

	api := engine.Group("/api")
	{
		api.GET("/updates", s.listUpdates)
		api.POST("/updates", s.createUpdate)
		api.DELETE("/updates/:name", s.cancelUpdate)
		api.GET("/stats", s.stats)
		api.GET("/news", s.news)
	}
	return engine, nil
}

func corsConfig(origins []string) (cors.Config, bool) {
	var clean []string
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			clean = append(clean, o)
		}
	}
	if len(clean) == 0 {
		return cors.Config{}, false
	}
	cc := cors.DefaultConfig()
	cc.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	cc.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", requestIDHeader}
	cc.ExposeHeaders = []string{requestIDHeader}
	if slices.Contains(clean, "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = clean
	}
	return cc, true
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Serve listens on the configured address until ctx is done, then shuts the
// server down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.engine,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("http server listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = srv.Shutdown(sctx)
	<-errCh
	s.log.Info("http server stopped")
	return err
}
