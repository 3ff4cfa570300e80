package app

import (
	"strings"
	"time"

	"covidboard/internal/config"
	"covidboard/internal/dashboard"
	"covidboard/internal/notifier"
	"covidboard/internal/storage"
	"covidboard/internal/web"
	logx "covidboard/pkg/logx"
)

const (
	defaultFetchTimeout = 20 * time.Second
	defaultPump         = "30s"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.ChatID,
			ThreadID:   cfg.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// mapStorageConfig returns false when storage is disabled.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
}

// mapNotifierConfig enables the notifier by default when a bot and chat are
// configured; an explicit notifier section overrides that.
func mapNotifierConfig(cfg *config.Config) notifier.Config {
	hasBot := strings.TrimSpace(cfg.Telegram.Token) != "" && cfg.Telegram.ChatID != 0
	nc := notifier.Config{
		Enabled:     hasBot,
		ChatID:      cfg.Telegram.ChatID,
		ThreadID:    cfg.Telegram.ThreadID,
		RetryMax:    2,
		DedupWindow: time.Minute,
	}
	if n := cfg.Notifier; n != nil {
		nc.Enabled = hasBot && n.Enabled
		nc.RatePerSec = n.RatePerSec
	}
	return nc
}

func mapDashboardConfig(cfg *config.Config) (dashboard.Config, error) {
	ttl, err := config.ParseDurationField("news.dismiss_ttl", cfg.News.DismissTTL)
	if err != nil {
		return dashboard.Config{}, err
	}
	return dashboard.Config{
		Region:      cfg.Covid.Region,
		RegionType:  cfg.Covid.RegionType,
		Nation:      cfg.Covid.Nation,
		Terms:       cfg.News.Terms,
		Language:    cfg.News.Language,
		MaxArticles: cfg.News.MaxArticles,
		DismissTTL:  ttl,
	}, nil
}

func mapWebConfig(cfg *config.Config) (web.Config, error) {
	rt, err := config.ParseDurationOrDefault("server.read_timeout", cfg.Server.ReadTimeout, 15*time.Second)
	if err != nil {
		return web.Config{}, err
	}
	wt, err := config.ParseDurationOrDefault("server.write_timeout", cfg.Server.WriteTimeout, 30*time.Second)
	if err != nil {
		return web.Config{}, err
	}
	return web.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  rt,
		WriteTimeout: wt,
		CORSOrigins:  cfg.Server.CORSOrigins,
	}, nil
}

func fetchTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("fetch.timeout", cfg.Fetch.Timeout, defaultFetchTimeout)
}

func pumpSchedule(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Scheduler.Pump); s != "" {
		return s
	}
	return defaultPump
}
