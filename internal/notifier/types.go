package notifier

import (
	"context"
	"time"
)

// Sender delivers a plain text message to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, threadID int, text string) error
}

// Config controls the notification pipeline.
type Config struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	QueueSize  int
	RatePerSec int
	RetryMax   int
	RetryBase  time.Duration
	// DedupWindow suppresses identical text sent again within the window.
	DedupWindow time.Duration
	// SendTimeout bounds one Sender call.
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

type HistoryItem struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// Event types the notifier publishes about its own deliveries.
const (
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
	EventDropped = "notifier.dropped"
)

// NotificationEvent is the payload of notifier.* events.
type NotificationEvent struct {
	ChatID int64     `json:"chat_id"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
