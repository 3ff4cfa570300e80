package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "covidboard/pkg/logx"
)

// TickerConfig controls background triggers.
type TickerConfig struct {
	Timezone string // IANA TZ, e.g. "Europe/London"; empty means Local
}

// TickOptions tune one background job.
type TickOptions struct {
	Timeout time.Duration // 0 disables the per-run deadline
	Spread  bool          // jitter the first run of interval schedules
}

type tickDef struct {
	name    string
	spec    string
	opt     TickOptions
	job     func(ctx context.Context) error
	entryID cron.EntryID
	running *atomic.Bool
	jitter  time.Duration
}

// ScheduleInfo describes a registered background job.
type ScheduleInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

// Ticker runs named background jobs (queue pumps, cache refreshes) on cron
// or interval schedules. A run that is still in flight when its next trigger
// arrives is skipped.
type Ticker struct {
	mu sync.Mutex

	log logx.Logger
	cfg TickerConfig
	loc *time.Location
	// read by running jobs without taking mu
	ctx atomic.Pointer[context.Context]
	// set by Stop so an in-flight Apply does not restart cron
	stopped bool

	parser cron.Parser
	c      *cron.Cron
	defs   []tickDef
}

func NewTicker(cfg TickerConfig, log logx.Logger) *Ticker {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Ticker{
		cfg: cfg,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	bg := context.Background()
	t.ctx.Store(&bg)
	return t
}

// Add registers (or replaces) a background job by name.
func (t *Ticker) Add(name, schedule string, opt TickOptions, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = "@every " + ps.Every.String()
	} else if _, err := t.parser.Parse(spec); err != nil {
		return fmt.Errorf("%s: invalid cron %q: %w", name, spec, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(name)
	t.defs = append(t.defs, tickDef{
		name:    name,
		spec:    spec,
		opt:     opt,
		job:     job,
		running: &atomic.Bool{},
	})
	if t.c != nil {
		if err := t.registerLocked(&t.defs[len(t.defs)-1]); err != nil {
			return err
		}
	}
	t.log.Debug("job registered", logx.String("name", name), logx.String("spec", spec))
	return nil
}

// Remove unregisters a job. It returns true if something was removed.
func (t *Ticker) Remove(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(strings.TrimSpace(name))
}

func (t *Ticker) removeLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range t.defs {
		if d.name == name {
			if t.c != nil && d.entryID != 0 {
				t.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		t.defs[n] = d
		n++
	}
	t.defs = t.defs[:n]
	return removed
}

func (t *Ticker) registerLocked(d *tickDef) error {
	job := cron.FuncJob(t.wrap(*d))
	if strings.HasPrefix(d.spec, "@every ") {
		every, err := time.ParseDuration(strings.TrimPrefix(d.spec, "@every "))
		if err == nil && every > 0 {
			sched, jitter := intervalWithSpread(every, time.Now().In(t.loc), d.name, d.opt.Spread)
			d.jitter = jitter
			d.entryID = t.c.Schedule(sched, job)
			return nil
		}
	}
	eid, err := t.c.AddJob(d.spec, job)
	if err != nil {
		t.log.Error("job register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return err
	}
	d.entryID = eid
	return nil
}

func (t *Ticker) wrap(d tickDef) func() {
	return func() {
		if !d.running.CompareAndSwap(false, true) {
			t.log.Debug("job skipped; previous run still in flight", logx.String("name", d.name))
			return
		}
		defer d.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				t.log.Error("job panicked", logx.String("name", d.name), logx.String("panic", fmt.Sprint(r)), logx.String("stack", string(debug.Stack())))
			}
		}()

		ctx := *t.ctx.Load()
		if d.opt.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.opt.Timeout)
			defer cancel()
		}
		start := time.Now()
		if err := d.job(ctx); err != nil {
			t.log.Warn("job failed", logx.String("name", d.name), logx.Duration("took", time.Since(start)), logx.Err(err))
			return
		}
		t.log.Trace("job done", logx.String("name", d.name), logx.Duration("took", time.Since(start)))
	}
}

// Start begins triggering. Jobs receive ctx (or a child with their timeout).
func (t *Ticker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.ctx.Store(&ctx)
	t.stopped = false
	t.startLocked()
	t.log.Info("ticker started", logx.String("tz", t.loc.String()), logx.Int("jobs", len(t.defs)))
}

func (t *Ticker) startLocked() {
	t.loc = t.loadLocationLocked()
	t.c = cron.New(
		cron.WithParser(t.parser),
		cron.WithLocation(t.loc),
		cron.WithChain(cron.Recover(cronLogger{log: t.log})),
	)
	for i := range t.defs {
		_ = t.registerLocked(&t.defs[i])
	}
	t.c.Start()
}

// Stop stops triggering and waits for running jobs or ctx, whichever is first.
func (t *Ticker) Stop(ctx context.Context) {
	t.mu.Lock()
	t.stopped = true
	c := t.detachLocked()
	t.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	t.log.Info("ticker stopped")
}

func (t *Ticker) detachLocked() *cron.Cron {
	c := t.c
	t.c = nil
	for i := range t.defs {
		t.defs[i].entryID = 0
	}
	return c
}

// Apply swaps the config; a timezone change restarts cron with the same jobs
// once in-flight runs finish. t.mu is not held during that wait.
func (t *Ticker) Apply(cfg TickerConfig) {
	t.mu.Lock()
	changed := strings.TrimSpace(t.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	t.cfg = cfg
	if t.c == nil || !changed {
		if changed {
			t.loc = nil
		}
		t.mu.Unlock()
		return
	}
	old := t.detachLocked()
	t.mu.Unlock()

	<-old.Stop().Done()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil || t.stopped {
		return
	}
	t.startLocked()
	t.log.Info("ticker restarted", logx.String("tz", t.loc.String()))
}

// Location returns the timezone jobs are evaluated in.
func (t *Ticker) Location() *time.Location {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loc != nil {
		return t.loc
	}
	return t.loadLocationLocked()
}

// Entries returns the registered jobs with their next/previous run times.
func (t *Ticker) Entries() []ScheduleInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(t.defs))
	for _, d := range t.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec}
		if t.c != nil && d.entryID != 0 {
			e := t.c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		out = append(out, it)
	}
	return out
}

func (t *Ticker) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(t.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		t.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger adapts logx to cron.Logger for the Recover wrapper.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
