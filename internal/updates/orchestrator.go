package updates

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"covidboard/internal/eventbus"
	"covidboard/internal/task/scheduler"
	"covidboard/internal/timeofday"
	logx "covidboard/pkg/logx"
)

// Refresher performs the refreshes a scheduled update triggers.
type Refresher interface {
	RefreshStats(ctx context.Context) error
	RefreshNews(ctx context.Context) error
}

// Request asks for an update at a time of day.
type Request struct {
	Name   string `json:"name"`
	At     string `json:"at"` // "HH:MM"
	Stats  bool   `json:"stats"`
	News   bool   `json:"news"`
	Repeat bool   `json:"repeat"`
}

// Status is a descriptor plus its scheduling state, for API output.
type Status struct {
	Descriptor
	At       string    `json:"at"`
	Stats    bool      `json:"stats"`
	News     bool      `json:"news"`
	Repeat   bool      `json:"repeat"`
	NextFire time.Time `json:"next_fire"`
}

type tracked struct {
	gen    uint64
	ids    []scheduler.ID
	req    Request
	at     string
	fireAt time.Time
}

// Options configure an Orchestrator. Zero values are usable.
type Options struct {
	Log          logx.Logger
	Bus          eventbus.Bus
	Now          func() time.Time
	Location     *time.Location
	FetchTimeout time.Duration
}

// Orchestrator accepts named update requests, schedules their refresh and
// bookkeeping tasks on its queue, and keeps the registry in step with them.
type Orchestrator struct {
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time
	loc     *time.Location
	timeout time.Duration
	refresh Refresher

	reg   *Registry
	queue *scheduler.Queue[Task]

	mu      sync.Mutex
	pending map[string]*tracked
	gen     uint64
}

func NewOrchestrator(refresh Refresher, opt Options) *Orchestrator {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Location == nil {
		opt.Location = time.Local
	}
	o := &Orchestrator{
		log:     opt.Log,
		bus:     opt.Bus,
		now:     opt.Now,
		loc:     opt.Location,
		timeout: opt.FetchTimeout,
		refresh: refresh,
		reg:     NewRegistry(),
		pending: map[string]*tracked{},
	}
	o.queue = scheduler.NewQueue[Task](o.Dispatch,
		scheduler.WithClock(opt.Now),
		scheduler.WithLogger(opt.Log.With(logx.String("comp", "queue"))),
	)
	return o
}

// RequestNow is Request with the current wall-clock time in the configured location.
func (o *Orchestrator) RequestNow(ctx context.Context, req Request) (Descriptor, error) {
	return o.Request(ctx, req, timeofday.SinceMidnight(o.now().In(o.Location())))
}

// SetLocation changes the zone later RequestNow calls read "HH:MM" in.
// Already pending updates keep their fire times.
func (o *Orchestrator) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	o.mu.Lock()
	o.loc = loc
	o.mu.Unlock()
}

func (o *Orchestrator) Location() *time.Location {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loc
}

// Request validates req and schedules it relative to nowSeconds (seconds since
// local midnight). A rejected request leaves no trace in the registry or queue.
func (o *Orchestrator) Request(ctx context.Context, req Request, nowSeconds int) (Descriptor, error) {
	req.Name = strings.TrimSpace(req.Name)
	d, err := o.request(req, nowSeconds)
	if err != nil {
		o.log.Warn("update rejected", logx.String("name", req.Name), logx.String("at", req.At), logx.Err(err))
		o.publish(EventRejected, EventData{Name: req.Name, Stats: req.Stats, News: req.News, Repeat: req.Repeat, Error: err.Error()})
		return Descriptor{}, err
	}
	o.log.Info("update scheduled", logx.String("name", d.Name), logx.String("at", req.At), logx.Bool("repeat", req.Repeat))
	o.publish(EventScheduled, EventData{Name: d.Name, Message: d.Message, Stats: req.Stats, News: req.News, Repeat: req.Repeat})
	return d, nil
}

func (o *Orchestrator) request(req Request, nowSeconds int) (Descriptor, error) {
	if !req.Stats && !req.News {
		return Descriptor{}, ErrNoTarget
	}
	if req.Name == "" {
		return Descriptor{}, ErrEmptyName
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.reg.Find(req.Name); ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrDuplicateName, req.Name)
	}
	target, err := timeofday.ParseHHMM(req.At)
	if err != nil {
		return Descriptor{}, err
	}
	delay := time.Duration(timeofday.SecondsUntil(target, nowSeconds)) * time.Second
	at := fmt.Sprintf("%02d:%02d", target/3600, (target%3600)/60)
	d := Descriptor{Name: req.Name, Message: Message(at, req.Stats, req.News, req.Repeat)}
	if err := o.reg.Add(d.Name, d.Message); err != nil {
		return Descriptor{}, err
	}
	o.gen++
	t := &tracked{gen: o.gen, req: req, at: at}
	o.scheduleCycleLocked(t, delay)
	o.pending[d.Name] = t
	return d, nil
}

// Message renders the descriptor text for an update at "HH:MM".
func Message(at string, stats, news, repeat bool) string {
	var b strings.Builder
	b.WriteString("Update scheduled for: ")
	b.WriteString(at)
	b.WriteString(".")
	if news {
		b.WriteString(" News articles will update.")
	}
	if stats {
		b.WriteString(" Covid data will update.")
	}
	if repeat {
		b.WriteString(" Update will repeat.")
	} else {
		b.WriteString(" Update will not repeat.")
	}
	return b.String()
}

// scheduleCycleLocked queues the refresh tasks and the bookkeeping task for
// one firing of t. Caller holds o.mu.
func (o *Orchestrator) scheduleCycleLocked(t *tracked, delay time.Duration) {
	name, gen := t.req.Name, t.gen
	ids := make([]scheduler.ID, 0, 3)
	if t.req.News {
		ids = append(ids, o.queue.Schedule(delay, PriorityRefresh, Task{Kind: TaskRefreshNews, Name: name, Gen: gen}))
	}
	if t.req.Stats {
		ids = append(ids, o.queue.Schedule(delay, PriorityRefresh, Task{Kind: TaskRefreshStats, Name: name, Gen: gen}))
	}
	ids = append(ids, o.queue.Schedule(delay, PriorityBookkeeping, Task{
		Kind:   TaskBookkeeping,
		Name:   name,
		Gen:    gen,
		Stats:  t.req.Stats,
		News:   t.req.News,
		Repeat: t.req.Repeat,
	}))
	t.ids = ids
	t.fireAt = o.now().Add(delay)
}

// Cancel drops every pending task of name and its descriptor. It returns false
// for unknown names.
func (o *Orchestrator) Cancel(name string) bool {
	name = strings.TrimSpace(name)
	o.mu.Lock()
	t, ok := o.pending[name]
	if ok {
		for _, id := range t.ids {
			o.queue.Cancel(id)
		}
		delete(o.pending, name)
	}
	removed := o.reg.Remove(name)
	o.mu.Unlock()

	if !ok && !removed {
		o.log.Debug("cancel of unknown update", logx.String("name", name))
		return false
	}
	o.log.Info("update cancelled", logx.String("name", name))
	o.publish(EventCancelled, EventData{Name: name})
	return true
}

// Dispatch runs one task popped from the queue.
func (o *Orchestrator) Dispatch(ctx context.Context, t Task) error {
	switch t.Kind {
	case TaskRefreshStats:
		return o.runRefresh(ctx, t, o.refresh.RefreshStats)
	case TaskRefreshNews:
		return o.runRefresh(ctx, t, o.refresh.RefreshNews)
	case TaskBookkeeping:
		o.bookkeep(t)
		return nil
	default:
		return fmt.Errorf("unknown task kind %d", t.Kind)
	}
}

func (o *Orchestrator) runRefresh(ctx context.Context, t Task, fn func(context.Context) error) error {
	if o.refresh == nil || !o.current(t) {
		return nil
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	if err := fn(ctx); err != nil {
		return fmt.Errorf("%s for %q: %w", t.Kind, t.Name, err)
	}
	return nil
}

func (o *Orchestrator) bookkeep(t Task) {
	o.mu.Lock()
	tr, ok := o.pending[t.Name]
	if !ok || tr.gen != t.Gen {
		// cancelled (and maybe re-requested) after the task was popped
		o.mu.Unlock()
		o.log.Debug("stale bookkeeping ignored", logx.String("name", t.Name))
		return
	}
	d, _ := o.reg.Find(t.Name)
	data := EventData{Name: t.Name, Message: d.Message, Stats: t.Stats, News: t.News, Repeat: t.Repeat}
	if t.Repeat {
		o.scheduleCycleLocked(tr, RepeatPeriod)
	} else {
		delete(o.pending, t.Name)
		o.reg.Remove(t.Name)
	}
	o.mu.Unlock()

	o.publish(EventFired, data)
	if t.Repeat {
		o.log.Info("update fired; rescheduled", logx.String("name", t.Name), logx.Duration("period", RepeatPeriod))
		o.publish(EventRescheduled, data)
		return
	}
	o.log.Info("update fired; completed", logx.String("name", t.Name))
	o.publish(EventCompleted, data)
}

// current reports whether t belongs to the pending request of its name.
func (o *Orchestrator) current(t Task) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	tr, ok := o.pending[t.Name]
	return ok && tr.gen == t.Gen
}

// Pump runs every due task and returns how many ran.
func (o *Orchestrator) Pump(ctx context.Context) int {
	return o.queue.RunPending(ctx)
}

func (o *Orchestrator) Find(name string) (Descriptor, bool) {
	return o.reg.Find(strings.TrimSpace(name))
}

// List returns the visible descriptors in request order.
func (o *Orchestrator) List() []Descriptor {
	return o.reg.List()
}

// Statuses returns List with scheduling details attached.
func (o *Orchestrator) Statuses() []Status {
	list := o.reg.List()
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Status, 0, len(list))
	for _, d := range list {
		st := Status{Descriptor: d}
		if t, ok := o.pending[d.Name]; ok {
			st.At = t.at
			st.Stats = t.req.Stats
			st.News = t.req.News
			st.Repeat = t.req.Repeat
			st.NextFire = t.fireAt
		}
		out = append(out, st)
	}
	return out
}

// QueueStats exposes the queue counters.
func (o *Orchestrator) QueueStats() scheduler.QueueStats {
	return o.queue.Stats()
}

func (o *Orchestrator) publish(typ string, data EventData) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(eventbus.Event{Type: typ, Time: o.now(), Data: data})
}
