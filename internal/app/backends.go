package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"covidboard/internal/config"
	"covidboard/internal/covid"
	"covidboard/internal/dashboard"
	"covidboard/internal/eventbus"
	"covidboard/internal/news"
	"covidboard/internal/storage"
	"covidboard/internal/transport/telegram"
	logx "covidboard/pkg/logx"
)

// Backends are the pieces shared by the server and the one-shot CLI
// commands: storage, the two API clients and the dashboard over them.
type Backends struct {
	Store        storage.Store // nil when storage is disabled
	Dashboard    *dashboard.Service
	FetchTimeout time.Duration
}

// OpenBackends opens storage and builds the dashboard. bus may be nil.
func OpenBackends(cfg *config.Config, log logx.Logger, bus eventbus.Bus) (*Backends, error) {
	timeout, err := fetchTimeout(cfg)
	if err != nil {
		return nil, err
	}
	dcfg, err := mapDashboardConfig(cfg)
	if err != nil {
		return nil, err
	}

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	hc := &http.Client{Timeout: timeout}
	dash := dashboard.New(dcfg, dashboard.Deps{
		Log:   log.With(logx.String("comp", "dashboard")),
		Bus:   bus,
		Stats: covid.NewClient(cfg.Covid.BaseURL, hc),
		News:  news.NewClient(cfg.News.BaseURL, cfg.News.APIKey, hc),
		Store: store,
	})
	return &Backends{Store: store, Dashboard: dash, FetchTimeout: timeout}, nil
}

func (b *Backends) Close() error {
	if b == nil || b.Store == nil {
		return nil
	}
	return b.Store.Close()
}

// newTelegram returns nil when no bot token is configured.
func newTelegram(cfg *config.Config, log logx.Logger) (*telegram.Client, error) {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return nil, nil
	}
	return telegram.New(cfg.Telegram.Token, telegram.Options{Log: log.With(logx.String("comp", "telegram"))})
}

// RefreshOnce fetches stats and news into the cache and returns the result.
func RefreshOnce(ctx context.Context, cfg *config.Config, log logx.Logger) (dashboard.View, error) {
	b, err := OpenBackends(cfg, log, nil)
	if err != nil {
		return dashboard.View{}, err
	}
	defer b.Close()
	if err := b.Dashboard.LoadCache(ctx); err != nil {
		log.Warn("cache load failed", logx.Err(err))
	}
	ctx, cancel := context.WithTimeout(ctx, 2*b.FetchTimeout)
	defer cancel()
	err = b.Dashboard.RefreshAll(ctx)
	return b.Dashboard.View(), err
}

// ImportCSV summarizes a national CSV export and stores it as the cached
// national figures.
func ImportCSV(ctx context.Context, cfg *config.Config, log logx.Logger, r io.Reader) (covid.CSVSummary, error) {
	rows, err := covid.ParseCSV(r)
	if err != nil {
		return covid.CSVSummary{}, err
	}
	sum, err := covid.SummarizeCSV(rows)
	if err != nil {
		return covid.CSVSummary{}, err
	}
	b, err := OpenBackends(cfg, log, nil)
	if err != nil {
		return covid.CSVSummary{}, err
	}
	defer b.Close()
	if b.Store == nil {
		log.Warn("storage disabled; imported figures will not persist")
	}
	if err := b.Dashboard.LoadCache(ctx); err != nil {
		log.Warn("cache load failed", logx.Err(err))
	}
	b.Dashboard.ImportCSV(ctx, sum)
	if b.Store != nil {
		_ = b.Store.AppendAudit(ctx, storage.AuditEntry{Actor: "cli", Action: dashboard.EventCSVImported, Target: "stats", OK: true})
	}
	return sum, nil
}
