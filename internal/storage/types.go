package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON files on the local filesystem (jsonl + snapshot)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records an operator action.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor,omitempty"` // remote address, "cli", "scheduler"
	Action string    `json:"action"`
	Target string    `json:"target,omitempty"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
	Meta   string    `json:"meta,omitempty"`
}

// Snapshot is a cached blob (JSON) with the time it was produced.
type Snapshot struct {
	Key  string    `json:"key"`
	At   time.Time `json:"at"`
	Data []byte    `json:"data"`
}

// Snapshot keys.
const (
	KeyStats = "stats"
	KeyNews  = "news"
)
