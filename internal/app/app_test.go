package app

import (
	"context"
	"testing"
	"time"

	"covidboard/internal/config"
	"covidboard/internal/dashboard"
	"covidboard/internal/eventbus"
	"covidboard/internal/notifier"
	"covidboard/internal/task/scheduler"
	"covidboard/internal/updates"
	logx "covidboard/pkg/logx"
)

func TestAuditEntry(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		ev    eventbus.Event
		ok    bool
		actor string
		tgt   string
		good  bool
	}{
		{"scheduled", eventbus.Event{Type: updates.EventScheduled, Time: at, Data: updates.EventData{Name: "a", Message: "m"}}, true, "web", "a", true},
		{"rejected", eventbus.Event{Type: updates.EventRejected, Time: at, Data: updates.EventData{Name: "a", Error: "dup"}}, true, "web", "a", false},
		{"fired", eventbus.Event{Type: updates.EventFired, Time: at, Data: updates.EventData{Name: "b"}}, true, "scheduler", "b", true},
		{"dismissed", eventbus.Event{Type: dashboard.EventDismissed, Time: at, Data: dashboard.EventData{Target: "t"}}, true, "web", "t", true},
		{"refresh failed", eventbus.Event{Type: dashboard.EventRefreshFailed, Time: at, Data: dashboard.EventData{Target: "news", Error: "boom"}}, true, "scheduler", "news", false},
		{"notifier", eventbus.Event{Type: notifier.EventFailed, Time: at, Data: notifier.NotificationEvent{Text: "x", Error: "down"}}, true, "notifier", "", false},
		{"unknown payload", eventbus.Event{Type: "other", Time: at, Data: 42}, false, "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, ok := auditEntry(tc.ev)
			if ok != tc.ok {
				t.Fatalf("ok=%v want %v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if e.Actor != tc.actor || e.Target != tc.tgt || e.OK != tc.good {
				t.Fatalf("got actor=%q target=%q ok=%v", e.Actor, e.Target, e.OK)
			}
			if e.Action != tc.ev.Type || !e.At.Equal(at) {
				t.Fatalf("action/time not carried: %+v", e)
			}
		})
	}
}

func TestMapNotifierConfig(t *testing.T) {
	cfg := &config.Config{}
	if mapNotifierConfig(cfg).Enabled {
		t.Fatal("enabled without a bot")
	}

	cfg.Telegram = config.TelegramConfig{Token: "123:abc", ChatID: 42, ThreadID: 7}
	nc := mapNotifierConfig(cfg)
	if !nc.Enabled || nc.ChatID != 42 || nc.ThreadID != 7 {
		t.Fatalf("default with bot: %+v", nc)
	}

	cfg.Notifier = &config.NotifierConfig{Enabled: false, RatePerSec: 3}
	if mapNotifierConfig(cfg).Enabled {
		t.Fatal("explicit section should disable")
	}
	cfg.Notifier.Enabled = true
	if nc := mapNotifierConfig(cfg); !nc.Enabled || nc.RatePerSec != 3 {
		t.Fatalf("explicit enable: %+v", nc)
	}
}

func TestMapStorageConfig(t *testing.T) {
	cfg := &config.Config{}
	if _, on, err := mapStorageConfig(cfg); on || err != nil {
		t.Fatalf("nil section: on=%v err=%v", on, err)
	}

	cfg.Storage = &config.StorageConfig{Driver: "none"}
	if _, on, _ := mapStorageConfig(cfg); on {
		t.Fatal("driver none should disable storage")
	}

	cfg.Storage = &config.StorageConfig{Driver: " SQLite ", Path: " ./data/x.db "}
	sc, on, err := mapStorageConfig(cfg)
	if err != nil || !on {
		t.Fatalf("sqlite: on=%v err=%v", on, err)
	}
	if sc.Driver != "sqlite" || sc.Path != "./data/x.db" || sc.BusyTimeout != time.Second {
		t.Fatalf("sqlite: %+v", sc)
	}

	cfg.Storage.BusyTimeout = "soon"
	if _, _, err := mapStorageConfig(cfg); err == nil {
		t.Fatal("expected duration error")
	}
}

func TestMapDashboardAndWebConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.News.DismissTTL = "48h"
	cfg.News.Terms = []string{"Covid", "lockdown"}
	cfg.Server.CORSOrigins = []string{"*"}

	dc, err := mapDashboardConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if dc.DismissTTL != 48*time.Hour || len(dc.Terms) != 2 {
		t.Fatalf("dashboard: %+v", dc)
	}

	wc, err := mapWebConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if wc.ReadTimeout != 15*time.Second || wc.WriteTimeout != 30*time.Second || len(wc.CORSOrigins) != 1 {
		t.Fatalf("web: %+v", wc)
	}

	cfg.Server.ReadTimeout = "x"
	if _, err := mapWebConfig(cfg); err == nil {
		t.Fatal("expected read_timeout error")
	}
}

func TestSchedulerDefaults(t *testing.T) {
	cfg := &config.Config{}
	if got := pumpSchedule(cfg); got != defaultPump {
		t.Fatalf("pump=%q", got)
	}
	cfg.Scheduler.Pump = " */1 * * * * "
	if got := pumpSchedule(cfg); got != "*/1 * * * *" {
		t.Fatalf("pump=%q", got)
	}
	d, err := fetchTimeout(cfg)
	if err != nil || d != defaultFetchTimeout {
		t.Fatalf("fetch timeout=%v err=%v", d, err)
	}
}

func TestApplyConfigTimezoneReachesOrchestrator(t *testing.T) {
	tk := scheduler.NewTicker(scheduler.TickerConfig{Timezone: "UTC"}, logx.Nop())
	orch := updates.NewOrchestrator(nil, updates.Options{Location: tk.Location()})
	a := &App{log: logx.Nop(), ticker: tk, orch: orch, fetchTimeout: time.Second}

	oldCfg := &config.Config{Scheduler: config.SchedulerConfig{Timezone: "UTC"}}
	newCfg := &config.Config{Scheduler: config.SchedulerConfig{Timezone: "Europe/London", Pump: "10s"}}
	a.applyConfig(context.Background(), oldCfg, newCfg)

	if got := orch.Location().String(); got != "Europe/London" {
		t.Fatalf("orchestrator zone = %s, want Europe/London", got)
	}
	entries := tk.Entries()
	if len(entries) != 1 || entries[0].Name != jobPump || entries[0].Spec != "@every 10s" {
		t.Fatalf("entries = %+v", entries)
	}
}
