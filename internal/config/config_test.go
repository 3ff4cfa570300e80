package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "covidboard/pkg/logx"
)

const sampleYAML = `
server:
  addr: ":5000"
logging:
  level: info
  console: true
scheduler:
  timezone: UTC
  pump: 30s
  refresh: "06:00"
covid:
  region: Exeter
  nation: England
news:
  api_key: secret
  terms: [Covid, coronavirus]
  language: en
storage:
  driver: file
  path: ./data/covidboard
`

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode yaml: %v", err)
	}
	if cfg.Covid.Region != "Exeter" || cfg.Scheduler.Refresh != "06:00" || len(cfg.News.Terms) != 2 {
		t.Fatalf("decoded = %+v", cfg)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}

	cfg, err = Decode("config.json", []byte(`{"covid":{"region":"Leeds","nation":"England"}}`))
	if err != nil {
		t.Fatalf("Decode json: %v", err)
	}
	if cfg.Covid.Region != "Leeds" {
		t.Fatalf("region = %q", cfg.Covid.Region)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, file, body string
	}{
		{name: "unknown json", file: "c.json", body: `{"pprof":{}}`},
		{name: "unknown yaml", file: "c.yml", body: "covid:\n  regoin: Exeter\n"},
		{name: "trailing", file: "c.json", body: `{} {}`},
		{name: "bad yaml", file: "c.yaml", body: "covid: [\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.file, []byte(tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	ok := &Config{Scheduler: SchedulerConfig{Timezone: "Europe/London"}, Fetch: FetchConfig{Timeout: "10s"}}
	if err := Validate(ok); err != nil {
		t.Fatalf("Validate(ok) = %v", err)
	}
	bad := &Config{
		Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"},
		Fetch:     FetchConfig{Timeout: "soon"},
		Storage:   &StorageConfig{Driver: "sqlite"},
		Logging:   LoggingConfig{Telegram: LoggingTelegram{Enabled: true}},
	}
	err := Validate(bad)
	if err == nil {
		t.Fatal("Validate(bad) = nil")
	}
	for _, want := range []string{"scheduler.timezone", "fetch.timeout", "storage.path", "logging.telegram"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestDurationHelpers(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", 5*time.Second); err != nil || d != 5*time.Second {
		t.Fatalf("default = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "2m", time.Second); err != nil || d != 2*time.Minute {
		t.Fatalf("parsed = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	a := &Config{News: NewsConfig{APIKey: "sekrit-1"}, Covid: CovidConfig{Region: "Exeter"}}
	b := &Config{News: NewsConfig{APIKey: "sekrit-2"}, Covid: CovidConfig{Region: "Leeds"}}
	changed, attrs := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "covid,news" {
		t.Fatalf("changed = %v", changed)
	}
	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config changed", attrs...)
	if strings.Contains(buf.String(), "sekrit") {
		t.Fatalf("secret leaked: %s", buf.String())
	}
	if changed, _ := SummarizeConfigChange(a, a); len(changed) != 0 {
		t.Fatalf("identical configs reported %v", changed)
	}
}

func TestManagerWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"covid":{"region":"Exeter"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	// let the watcher register before writing
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`{"covid":{"region":"Leeds"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-ch:
		if cfg.Covid.Region != "Leeds" {
			t.Fatalf("published region = %q", cfg.Covid.Region)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
	if m.Get().Covid.Region != "Leeds" {
		t.Fatalf("Get().Covid.Region = %q", m.Get().Covid.Region)
	}
}
