package updates

// Event types published on the bus.
const (
	EventScheduled   = "update.scheduled"
	EventFired       = "update.fired"
	EventRescheduled = "update.rescheduled"
	EventCompleted   = "update.completed"
	EventCancelled   = "update.cancelled"
	EventRejected    = "update.rejected"
)

// EventData is the payload of every update.* event.
type EventData struct {
	Name    string `json:"name"`
	Message string `json:"message,omitempty"`
	Stats   bool   `json:"stats,omitempty"`
	News    bool   `json:"news,omitempty"`
	Repeat  bool   `json:"repeat,omitempty"`
	Error   string `json:"error,omitempty"`
}
