package app

import (
	"context"
	"time"

	"covidboard/internal/dashboard"
	"covidboard/internal/eventbus"
	"covidboard/internal/notifier"
	"covidboard/internal/storage"
	"covidboard/internal/updates"
	logx "covidboard/pkg/logx"
)

var auditedEvents = []string{
	updates.EventScheduled,
	updates.EventRejected,
	updates.EventCancelled,
	updates.EventFired,
	updates.EventRescheduled,
	updates.EventCompleted,
	dashboard.EventDismissed,
	dashboard.EventRefreshFailed,
	notifier.EventFailed,
}

// auditEntry maps a bus event to an audit record. Unknown payloads are skipped.
func auditEntry(ev eventbus.Event) (storage.AuditEntry, bool) {
	e := storage.AuditEntry{At: ev.Time, Action: ev.Type, OK: true}
	switch d := ev.Data.(type) {
	case updates.EventData:
		e.Target = d.Name
		e.Meta = d.Message
		e.Error = d.Error
		switch ev.Type {
		case updates.EventScheduled, updates.EventRejected, updates.EventCancelled:
			e.Actor = "web"
		default:
			e.Actor = "scheduler"
		}
	case dashboard.EventData:
		e.Target = d.Target
		e.Error = d.Error
		e.Actor = "scheduler"
		if ev.Type == dashboard.EventDismissed {
			e.Actor = "web"
		}
	case notifier.NotificationEvent:
		e.Actor = "notifier"
		e.Meta = d.Text
		e.Error = d.Error
	default:
		return storage.AuditEntry{}, false
	}
	e.OK = e.Error == ""
	return e, true
}

// auditLoop writes audited events to the store until ctx ends or the
// subscription closes.
func auditLoop(ctx context.Context, log logx.Logger, store storage.Store, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e, ok := auditEntry(ev)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := store.AppendAudit(wctx, e); err != nil {
				log.Debug("audit write failed", logx.String("action", e.Action), logx.Err(err))
			}
			cancel()
		}
	}
}
