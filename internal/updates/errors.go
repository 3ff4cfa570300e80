package updates

import (
	"errors"

	"covidboard/internal/timeofday"
)

var (
	// ErrFormat is returned when the requested time of day is malformed.
	ErrFormat = timeofday.ErrFormat
	// ErrDuplicateName is returned when a pending update already uses the name.
	ErrDuplicateName = errors.New("update name already scheduled")
	// ErrNoTarget is returned when a request refreshes neither stats nor news.
	ErrNoTarget = errors.New("update must refresh stats, news or both")
	// ErrEmptyName is returned when the request name is blank.
	ErrEmptyName = errors.New("update name required")
	// ErrNotFound is returned by lookups of unknown names. Cancel treats it as a no-op.
	ErrNotFound = errors.New("update not found")
)
