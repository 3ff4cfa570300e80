package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "covidboard/pkg/logx"
)

// Validate checks the fields that would otherwise fail late at wiring time.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	for path, lvl := range map[string]string{
		"logging.level":              cfg.Logging.Level,
		"logging.telegram.min_level": cfg.Logging.Telegram.MinLevel,
	} {
		if !logx.ValidLevel(lvl) {
			errs = append(errs, fmt.Errorf("%s: unknown level %q", path, lvl))
		}
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	for path, raw := range map[string]string{
		"server.read_timeout":  cfg.Server.ReadTimeout,
		"server.write_timeout": cfg.Server.WriteTimeout,
		"fetch.timeout":        cfg.Fetch.Timeout,
		"news.dismiss_ttl":     cfg.News.DismissTTL,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
		switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(cfg.Storage.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path is required when storage.driver=%s", d))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown storage.driver: %s", d))
		}
	}
	if cfg.News.MaxArticles < 0 {
		errs = append(errs, errors.New("news.max_articles must be >= 0"))
	}
	if cfg.Logging.Telegram.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || cfg.Telegram.ChatID == 0) {
		errs = append(errs, errors.New("logging.telegram requires telegram.token and telegram.chat_id"))
	}
	return errors.Join(errs...)
}
