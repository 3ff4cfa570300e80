package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "covidboard/pkg/logx"
)

func TestTickerAddValidation(t *testing.T) {
	t.Parallel()
	tk := NewTicker(TickerConfig{}, logx.Nop())
	job := func(context.Context) error { return nil }

	if err := tk.Add(" ", "10s", TickOptions{}, job); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := tk.Add("x", "10s", TickOptions{}, nil); err == nil {
		t.Fatal("nil job accepted")
	}
	if err := tk.Add("x", "61 * * * *", TickOptions{}, job); err == nil {
		t.Fatal("invalid cron accepted")
	}
	if err := tk.Add("x", "later", TickOptions{}, job); err == nil {
		t.Fatal("garbage schedule accepted")
	}
}

func TestTickerRunsAndReplaces(t *testing.T) {
	tk := NewTicker(TickerConfig{Timezone: "UTC"}, logx.Nop())
	var runs atomic.Int32
	if err := tk.Add("pump", "1s", TickOptions{Timeout: time.Second}, func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	// same name replaces
	if err := tk.Add("pump", "1s", TickOptions{}, func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := tk.Add("daily", "06:30", TickOptions{}, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tk.Start(ctx)
	defer tk.Stop(context.Background())

	if got := tk.Location().String(); got != "UTC" {
		t.Fatalf("location = %s", got)
	}
	entries := tk.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Next.IsZero() {
			t.Fatalf("entry %s has no next run", e.Name)
		}
	}

	deadline := time.Now().Add(4 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatal("interval job never ran")
	}

	if !tk.Remove("pump") {
		t.Fatal("Remove(pump) = false")
	}
	if tk.Remove("pump") {
		t.Fatal("second Remove(pump) = true")
	}
	if len(tk.Entries()) != 1 {
		t.Fatalf("entries after remove = %d", len(tk.Entries()))
	}
}

func TestTickerApplyWaitsForRunningJobWithoutBlocking(t *testing.T) {
	tk := NewTicker(TickerConfig{Timezone: "UTC"}, logx.Nop())
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	if err := tk.Add("slow", "1s", TickOptions{}, func(context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tk.Start(ctx)
	defer tk.Stop(context.Background())

	select {
	case <-started:
	case <-time.After(4 * time.Second):
		t.Fatal("job never started")
	}

	applied := make(chan struct{})
	go func() {
		tk.Apply(TickerConfig{Timezone: "Europe/London"})
		close(applied)
	}()

	entries := make(chan int, 1)
	go func() { entries <- len(tk.Entries()) }()
	select {
	case n := <-entries:
		if n != 1 {
			t.Fatalf("entries = %d, want 1", n)
		}
	case <-time.After(time.Second):
		t.Fatal("Entries blocked while Apply waited for the running job")
	}
	select {
	case <-applied:
		t.Fatal("Apply returned before the running job finished")
	default:
	}

	close(release)
	select {
	case <-applied:
	case <-time.After(3 * time.Second):
		t.Fatal("Apply did not return after the job finished")
	}
	if got := tk.Location().String(); got != "Europe/London" {
		t.Fatalf("location = %s, want Europe/London", got)
	}
}
