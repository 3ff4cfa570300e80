package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"covidboard/internal/eventbus"
	"covidboard/internal/updates"
	logx "covidboard/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int
	sent  []string
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, _ int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("boom")
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func testConfig() Config {
	return Config{Enabled: true, ChatID: 42, RatePerSec: 100, RetryBase: time.Millisecond}
}

func TestFiredEventIsDelivered(t *testing.T) {
	bus := eventbus.New()
	snd := &fakeSender{}
	s := New(testConfig(), snd, bus, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	bus.Publish(eventbus.Event{Type: updates.EventFired, Data: updates.EventData{Name: "morning", Stats: true, News: true, Repeat: true}})

	waitFor(t, func() bool { return len(snd.texts()) == 1 })
	want := `Update "morning" fired: refreshed covid data and news. It will run again in 24h.`
	if got := snd.texts()[0]; got != want {
		t.Fatalf("text = %q, want %q", got, want)
	}
	if h := s.History(); len(h) != 1 || h[0].Text != want {
		t.Fatalf("history = %+v", h)
	}
}

func TestRetryThenSuccess(t *testing.T) {
	cfg := testConfig()
	cfg.RetryMax = 2
	snd := &fakeSender{fails: 2}
	s := New(cfg, snd, nil, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), "hello"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, func() bool { return len(snd.texts()) == 1 })
}

func TestNotifyDisabledAndStopped(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeSender{}, nil, logx.Nop())
	if err := s.Notify(context.Background(), "x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}

	s = New(testConfig(), &fakeSender{}, nil, logx.Nop())
	if err := s.Notify(context.Background(), "x"); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestDedupWindow(t *testing.T) {
	cfg := testConfig()
	cfg.DedupWindow = time.Hour
	snd := &fakeSender{}
	s := New(cfg, snd, nil, logx.Nop())
	s.Start(context.Background())

	for i := 0; i < 3; i++ {
		if err := s.Notify(context.Background(), "same"); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	if err := s.Notify(context.Background(), "other"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	s.Stop(context.Background())

	got := snd.texts()
	if len(got) != 2 || got[0] != "same" || got[1] != "other" {
		t.Fatalf("sent = %q", got)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	snd := &fakeSender{}
	s := New(testConfig(), snd, nil, logx.Nop())
	s.Start(context.Background())
	for _, m := range []string{"a", "b", "c"} {
		if err := s.Notify(context.Background(), m); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	s.Stop(context.Background())
	if got := snd.texts(); len(got) != 3 {
		t.Fatalf("sent = %q", got)
	}
	if err := s.Notify(context.Background(), "late"); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestFormatEvent(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		ev   eventbus.Event
		want string
	}{
		{"fired once", eventbus.Event{Type: updates.EventFired, Data: updates.EventData{Name: "u", News: true}}, `Update "u" fired: refreshed news.`},
		{"rejected", eventbus.Event{Type: updates.EventRejected, Data: updates.EventData{Name: "u", Error: "bad time"}}, `Update "u" rejected: bad time`},
		{"other type", eventbus.Event{Type: updates.EventScheduled, Data: updates.EventData{Name: "u"}}, ""},
		{"foreign data", eventbus.Event{Type: updates.EventFired, Data: 1}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatEvent(tc.ev); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
