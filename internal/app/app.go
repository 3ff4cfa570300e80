// Package app wires the dashboard process: config, logging, storage, the
// update orchestrator and its background triggers, the notifier and the
// HTTP server, all under one supervisor.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"covidboard/internal/config"
	"covidboard/internal/dashboard"
	"covidboard/internal/eventbus"
	"covidboard/internal/notifier"
	"covidboard/internal/runtime/supervisor"
	"covidboard/internal/storage"
	"covidboard/internal/task/scheduler"
	"covidboard/internal/updates"
	"covidboard/internal/web"
	logx "covidboard/pkg/logx"
)

const (
	jobPump    = "updates.pump"
	jobRefresh = "cache.refresh"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	dash   *dashboard.Service
	orch   *updates.Orchestrator
	ticker *scheduler.Ticker
	notif  *notifier.Service
	web    *web.Server

	fetchTimeout time.Duration
	startedAt    time.Time
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	bootLog := logx.NewConsole(cfg.Logging.Level)
	tg, err := newTelegram(cfg, bootLog)
	if err != nil {
		return nil, err
	}
	// keep the interfaces nil (not typed-nil) when no bot is configured
	var (
		logSender   logx.Sender
		notifSender notifier.Sender
	)
	if tg != nil {
		logSender, notifSender = tg, tg
	}

	logSvc, log := logx.New(mapLogConfig(cfg), logSender)
	bus := eventbus.New()

	b, err := OpenBackends(cfg, log, bus)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	ticker := scheduler.NewTicker(scheduler.TickerConfig{Timezone: cfg.Scheduler.Timezone}, log.With(logx.String("comp", "ticker")))
	orch := updates.NewOrchestrator(b.Dashboard, updates.Options{
		Log:          log.With(logx.String("comp", "updates")),
		Bus:          bus,
		Location:     ticker.Location(),
		FetchTimeout: b.FetchTimeout,
	})
	notif := notifier.New(mapNotifierConfig(cfg), notifSender, bus, log.With(logx.String("comp", "notifier")))

	a := &App{
		cfgm:         cfgm,
		log:          log.With(logx.String("comp", "app")),
		logs:         logSvc,
		bus:          bus,
		store:        b.Store,
		dash:         b.Dashboard,
		orch:         orch,
		ticker:       ticker,
		notif:        notif,
		fetchTimeout: b.FetchTimeout,
	}

	wcfg, err := mapWebConfig(cfg)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	a.web, err = web.New(wcfg, web.Deps{
		Log:       log.With(logx.String("comp", "web")),
		Dashboard: b.Dashboard,
		Updates:   orch,
		Health:    a.health,
	})
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.startedAt = time.Now()
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	// serve cached data right away, then fetch fresh data before listening
	if err := a.dash.LoadCache(run); err != nil {
		a.log.Warn("cache load failed", logx.Err(err))
	}
	fctx, cancel := context.WithTimeout(run, 2*a.fetchTimeout)
	if err := a.dash.RefreshAll(fctx); err != nil {
		a.log.Warn("startup refresh incomplete; serving cached data", logx.Err(err))
	}
	cancel()

	if a.store != nil {
		events, unsub := a.bus.Subscribe(128, auditedEvents...)
		a.sup.Go("audit", func(c context.Context) error {
			defer unsub()
			auditLoop(c, a.log.With(logx.String("comp", "audit")), a.store, events)
			return nil
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.notif.Start(run)

	if err := a.registerJobs(a.cfgm.Get()); err != nil {
		return err
	}
	a.ticker.Start(run)

	a.sup.Go("http", a.web.Serve)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return watchdog(c, a.log)
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

// registerJobs (re)installs the background triggers from cfg.
func (a *App) registerJobs(cfg *config.Config) error {
	err := a.ticker.Add(jobPump, pumpSchedule(cfg), scheduler.TickOptions{Timeout: 4 * a.fetchTimeout}, func(ctx context.Context) error {
		if n := a.orch.Pump(ctx); n > 0 {
			a.log.Debug("queue pumped", logx.Int("ran", n))
		}
		return nil
	})
	if err != nil {
		return err
	}

	refresh := strings.TrimSpace(cfg.Scheduler.Refresh)
	if refresh == "" {
		a.ticker.Remove(jobRefresh)
		return nil
	}
	return a.ticker.Add(jobRefresh, refresh, scheduler.TickOptions{Timeout: 2 * a.fetchTimeout, Spread: true}, a.dash.RefreshAll)
}

func (a *App) reloadLoop(c context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return nil
		case newCfg, ok := <-sub:
			if !ok {
				return nil
			}
			// coalesce bursts
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}

	for _, s := range []string{"server", "storage", "fetch"} {
		if changed[s] {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	if changed["logging"] || changed["telegram"] {
		a.logs.Apply(mapLogConfig(newCfg))
	}

	if changed["covid"] || changed["news"] {
		if dcfg, err := mapDashboardConfig(newCfg); err != nil {
			a.log.Warn("invalid dashboard config; keeping previous", logx.Err(err))
		} else {
			a.dash.Apply(dcfg)
		}
	}

	if changed["scheduler"] {
		a.ticker.Apply(scheduler.TickerConfig{Timezone: newCfg.Scheduler.Timezone})
		if oldCfg == nil || strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
			a.orch.SetLocation(a.ticker.Location())
			a.log.Warn("scheduler.timezone changed; new updates use it, pending updates keep their fire times",
				logx.String("tz", a.ticker.Location().String()))
		}
		if err := a.registerJobs(newCfg); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous jobs", logx.Err(err))
		}
	}

	if changed["notifier"] || changed["telegram"] {
		prev := a.notif.Enabled()
		a.notif.Apply(mapNotifierConfig(newCfg))
		next := a.notif.Enabled()
		switch {
		case prev && !next:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prev && next:
			a.log.Info("notifier enabled via config")
			a.notif.Start(c)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) health() map[string]any {
	out := map[string]any{
		"uptime":      time.Since(a.startedAt).Round(time.Second).String(),
		"queue":       a.orch.QueueStats(),
		"jobs":        a.ticker.Entries(),
		"bus_dropped": a.bus.Dropped(),
		"notifier": map[string]any{
			"enabled":   a.notif.Enabled(),
			"delivered": len(a.notif.History()),
		},
	}
	if a.sup != nil {
		out["goroutines"] = a.sup.Snapshot()
	}
	return out
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// cancel first so background loops (http, config watch) start unwinding
	a.sup.Cancel()

	a.stopStep(ctx, "ticker", 2*time.Second, func(c context.Context) error { a.ticker.Stop(c); return nil })
	a.stopStep(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.stopStep(ctx, "supervisor", 6*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.stopStep(ctx, "storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// stopStep runs one shutdown step bounded by limit (and never beyond ctx's
// deadline) so one component cannot stall the whole stop.
func (a *App) stopStep(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("limit", limit))

	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = rem
		}
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
