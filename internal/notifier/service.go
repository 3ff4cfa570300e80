package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"covidboard/internal/eventbus"
	rtsup "covidboard/internal/runtime/supervisor"
	"covidboard/internal/updates"
	logx "covidboard/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historyCap = 100

// Service turns update events into chat messages and delivers them.
// It is safe for concurrent use.
type Service struct {
	log    logx.Logger
	sender Sender
	bus    eventbus.Bus

	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	queue     chan string
	accepting bool
	closing   chan struct{}
	unsub     func()
	sup       *rtsup.Supervisor

	dmu   sync.Mutex
	dedup map[uint64]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log,
		sender: sender,
		bus:    bus,
		dedup:  map[uint64]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && s.cfg.ChatID != 0 && s.sender != nil
}

// Apply swaps the config. Rate and target changes take effect on the next
// send; enabling or disabling takes effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	} else if s.cfg.RatePerSec != cfg.RatePerSec {
		s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
		s.limiter.SetBurst(cfg.RatePerSec)
	}
	s.cfg = cfg
}

// Start subscribes to update events and runs the delivery worker until Stop
// or ctx is done. It is a no-op when disabled or already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled || s.cfg.ChatID == 0 || s.sender == nil {
		return
	}

	s.queue = make(chan string, s.cfg.QueueSize)
	s.closing = make(chan struct{})
	s.accepting = true
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		rtsup.WithCancelOnError(false),
	)
	q, closing := s.queue, s.closing

	if s.bus != nil {
		events, unsub := s.bus.Subscribe(32, updates.EventFired, updates.EventRejected)
		s.unsub = unsub
		s.sup.Go("events", func(c context.Context) error {
			s.consume(c, events)
			return nil
		})
	}
	s.sup.GoRestart("worker", func(c context.Context) error {
		return s.workerLoop(c, q, closing)
	}, 500*time.Millisecond, 10*time.Second)
	s.log.Info("notifier started", logx.Int64("chat_id", s.cfg.ChatID), logx.Int("rate_per_sec", s.cfg.RatePerSec))
}

// Stop stops intake, lets the worker drain what is queued, and returns when
// it is done or ctx ends (in which case pending messages are dropped).
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	close(s.closing)
	unsub, sup := s.unsub, s.sup
	s.queue, s.closing, s.unsub, s.sup = nil, nil, nil, nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
		s.log.Warn("notifier stop timed out; pending messages dropped", logx.Err(err))
		return
	}
	sup.Cancel()
	s.log.Info("notifier stopped")
}

// Notify queues text for delivery. Identical text inside the dedup window is
// accepted and silently skipped.
func (s *Service) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		return ErrStopped
	}
	if !s.dedupAllow(text, s.cfg.DedupWindow) {
		s.log.Debug("notification deduped")
		return nil
	}
	select {
	case s.queue <- text:
		return nil
	default:
		s.publish(EventDropped, NotificationEvent{ChatID: s.cfg.ChatID, Text: text, Error: ErrQueueFull.Error()})
		return ErrQueueFull
	}
}

// History returns the most recently delivered messages, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) consume(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			text := FormatEvent(ev)
			if text == "" {
				continue
			}
			if err := s.Notify(ctx, text); err != nil && !errors.Is(err, ErrStopped) {
				s.log.Warn("notification not queued", logx.String("event", ev.Type), logx.Err(err))
			}
		}
	}
}

// FormatEvent renders an update event as a chat message; other events render
// as "".
func FormatEvent(ev eventbus.Event) string {
	d, ok := ev.Data.(updates.EventData)
	if !ok {
		return ""
	}
	switch ev.Type {
	case updates.EventFired:
		var what []string
		if d.Stats {
			what = append(what, "covid data")
		}
		if d.News {
			what = append(what, "news")
		}
		msg := fmt.Sprintf("Update %q fired: refreshed %s.", d.Name, strings.Join(what, " and "))
		if d.Repeat {
			msg += " It will run again in 24h."
		}
		return msg
	case updates.EventRejected:
		return fmt.Sprintf("Update %q rejected: %s", d.Name, d.Error)
	default:
		return ""
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan string, closing <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text := <-q:
			s.sendWithRetry(ctx, text)
		case <-closing:
			for {
				select {
				case text := <-q:
					s.sendWithRetry(ctx, text)
				default:
					return nil
				}
			}
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, text string) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= 1+cfg.RetryMax; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := s.sender.SendText(cctx, cfg.ChatID, cfg.ThreadID, text)
		cancel()
		if err == nil {
			s.appendHistory(text)
			s.publish(EventSent, NotificationEvent{ChatID: cfg.ChatID, Text: text})
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Int("attempt", attempt), logx.Err(err))
		if attempt > cfg.RetryMax {
			break
		}
		t := time.NewTimer(retryDelay(cfg.RetryBase, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("notification failed", logx.Int("attempts", 1+cfg.RetryMax), logx.Err(lastErr))
	s.publish(EventFailed, NotificationEvent{ChatID: cfg.ChatID, Text: text, Error: lastErr.Error()})
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
	s.hmu.Unlock()
}

// dedupAllow reports whether text may be sent now and, if so, opens a new
// suppression window for it. A zero window disables dedup.
func (s *Service) dedupAllow(text string, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	key := h.Sum64()
	now := time.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now.Add(window)
	return true
}

func (s *Service) publish(typ string, ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// retryDelay is base * 2^(attempt-1), capped at 10s, with 0.7..1.3 jitter.
func retryDelay(base time.Duration, attempt int) time.Duration {
	const maxD = 10 * time.Second
	d := base
	for i := 1; i < attempt && d < maxD; i++ {
		d *= 2
	}
	d = time.Duration(float64(min(d, maxD)) * (0.7 + rand.Float64()*0.6))
	return min(d, maxD)
}
