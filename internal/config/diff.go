package config

import (
	"reflect"
	"sort"
	"strings"

	logx "covidboard/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (bot token, news API key) are only
// reported as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 20)

	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)),
			logx.Int("server.cors_origins", len(newCfg.Server.CORSOrigins)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Int64("telegram.chat_id", newCfg.Telegram.ChatID),
			logx.Int("telegram.thread_id", newCfg.Telegram.ThreadID),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.pump", strings.TrimSpace(newCfg.Scheduler.Pump)),
			logx.String("scheduler.refresh", strings.TrimSpace(newCfg.Scheduler.Refresh)),
		)
	}

	if oldCfg.Covid != newCfg.Covid {
		changed = append(changed, "covid")
		attrs = append(attrs,
			logx.String("covid.region", newCfg.Covid.Region),
			logx.String("covid.nation", newCfg.Covid.Nation),
		)
	}

	oN, nN := newsWithoutKey(oldCfg.News), newsWithoutKey(newCfg.News)
	keyChanged := oldCfg.News.APIKey != newCfg.News.APIKey
	if keyChanged || !reflect.DeepEqual(oN, nN) {
		changed = append(changed, "news")
		attrs = append(attrs,
			logx.Bool("news.api_key_set", strings.TrimSpace(newCfg.News.APIKey) != ""),
			logx.Bool("news.api_key_changed", keyChanged),
			logx.Int("news.terms", len(newCfg.News.Terms)),
			logx.String("news.language", newCfg.News.Language),
		)
	}

	if oldCfg.Fetch != newCfg.Fetch {
		changed = append(changed, "fetch")
		attrs = append(attrs, logx.String("fetch.timeout", strings.TrimSpace(newCfg.Fetch.Timeout)))
	}

	// nil means defaults
	oldNt, newNt := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if (oldCfg.Notifier == nil) != (newCfg.Notifier == nil) || oldNt != newNt {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.present", newCfg.Notifier != nil),
			logx.Bool("notifier.enabled", newNt.Enabled),
			logx.Int("notifier.rate_per_sec", newNt.RatePerSec),
		)
	}

	// nil means disabled
	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newS.BusyTimeout)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func newsWithoutKey(n NewsConfig) NewsConfig {
	n.APIKey = ""
	return n
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
