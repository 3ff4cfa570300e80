package config

type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Telegram  TelegramConfig  `json:"telegram"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Covid     CovidConfig     `json:"covid"`
	News      NewsConfig      `json:"news"`
	Fetch     FetchConfig     `json:"fetch"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
}

// ServerConfig controls the HTTP listener.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type ServerConfig struct {
	Addr         string   `json:"addr"` // default "127.0.0.1:5000"
	ReadTimeout  string   `json:"read_timeout,omitempty"`
	WriteTimeout string   `json:"write_timeout,omitempty"`
	CORSOrigins  []string `json:"cors_origins,omitempty"` // "*" allows any; empty disables CORS
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TelegramConfig is the bot used for log forwarding and update notifications.
// An empty token disables both.
type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// SchedulerConfig controls background triggers.
//
// Pump and Refresh accept cron ("*/5 * * * *"), durations ("30s") or daily
// "HH:MM". An empty Refresh disables the periodic cache refresh.
type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"`
	Pump     string `json:"pump,omitempty"` // default "30s"
	Refresh  string `json:"refresh,omitempty"`
}

type CovidConfig struct {
	BaseURL    string `json:"base_url,omitempty"`
	Region     string `json:"region"`
	RegionType string `json:"region_type,omitempty"` // default "ltla"
	Nation     string `json:"nation"`
}

type NewsConfig struct {
	BaseURL     string   `json:"base_url,omitempty"`
	APIKey      string   `json:"api_key"`
	Terms       []string `json:"terms,omitempty"`
	Language    string   `json:"language,omitempty"`
	MaxArticles int      `json:"max_articles,omitempty"`
	DismissTTL  string   `json:"dismiss_ttl,omitempty"` // default "168h"
}

type FetchConfig struct {
	Timeout string `json:"timeout,omitempty"` // default "20s"
}

// NotifierConfig controls Telegram messages for fired updates.
// If the section is omitted, the notifier is enabled whenever a chat is set.
type NotifierConfig struct {
	Enabled    bool `json:"enabled"`
	RatePerSec int  `json:"rate_per_sec"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/covidboard" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
