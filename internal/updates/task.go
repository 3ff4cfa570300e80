package updates

import "time"

// TaskKind tags a unit of scheduled work.
type TaskKind int

const (
	TaskRefreshStats TaskKind = iota + 1
	TaskRefreshNews
	TaskBookkeeping
)

func (k TaskKind) String() string {
	switch k {
	case TaskRefreshStats:
		return "refresh-stats"
	case TaskRefreshNews:
		return "refresh-news"
	case TaskBookkeeping:
		return "bookkeeping"
	default:
		return "unknown"
	}
}

// Task is the payload carried by the event queue. Name and Gen tie it back
// to the request that scheduled it; a task whose Gen no longer matches the
// pending request of that name is stale and ignored.
type Task struct {
	Kind   TaskKind
	Name   string
	Gen    uint64
	Stats  bool
	News   bool
	Repeat bool
}

const (
	// Refresh tasks sort ahead of bookkeeping when both are due together.
	PriorityRefresh     = 1
	PriorityBookkeeping = 2

	// RepeatPeriod is the gap between cycles of a repeating update.
	RepeatPeriod = 24 * time.Hour
)
