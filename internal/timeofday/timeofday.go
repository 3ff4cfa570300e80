// Package timeofday converts wall-clock time-of-day strings into seconds since
// midnight and computes how long to wait until a target time of day.
package timeofday

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DaySeconds is the length of a day in seconds. Delays never exceed it.
const DaySeconds = 86400

// ErrFormat is returned for malformed "HH:MM" / "HH:MM:SS" input.
var ErrFormat = errors.New("invalid time format")

// MinutesToSeconds converts a count of minutes to seconds.
func MinutesToSeconds(m int) int { return m * 60 }

// HoursToMinutes converts a count of hours to minutes.
func HoursToMinutes(h int) int { return h * 60 }

// ParseHHMM returns the offset of "HH:MM" from midnight in seconds.
func ParseHHMM(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %q, expected HH:MM", ErrFormat, s)
	}
	h, err := field(s, parts[0], 23)
	if err != nil {
		return 0, err
	}
	m, err := field(s, parts[1], 59)
	if err != nil {
		return 0, err
	}
	return MinutesToSeconds(HoursToMinutes(h)) + MinutesToSeconds(m), nil
}

// ParseHHMMSS returns the offset of "HH:MM:SS" from midnight in seconds.
func ParseHHMMSS(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q, expected HH:MM:SS", ErrFormat, s)
	}
	h, err := field(s, parts[0], 23)
	if err != nil {
		return 0, err
	}
	m, err := field(s, parts[1], 59)
	if err != nil {
		return 0, err
	}
	sec, err := field(s, parts[2], 59)
	if err != nil {
		return 0, err
	}
	return MinutesToSeconds(HoursToMinutes(h)) + MinutesToSeconds(m) + sec, nil
}

func field(raw, part string, maxV int) (int, error) {
	v, err := strconv.Atoi(part)
	if err != nil || v < 0 || v > maxV {
		return 0, fmt.Errorf("%w: %q: component %q out of range 0..%d", ErrFormat, raw, part, maxV)
	}
	return v, nil
}

// SecondsUntil returns the wait from current to the next occurrence of target,
// both given as seconds since midnight. A target at or before current wraps
// to the next day, so equal values yield DaySeconds.
func SecondsUntil(target, current int) int {
	if target > current {
		return target - current
	}
	return (DaySeconds - current) + target
}

// SinceMidnight returns the seconds elapsed since local midnight of t.
func SinceMidnight(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// FormatHHMMSS formats t the way ParseHHMMSS expects.
func FormatHHMMSS(t time.Time) string {
	return t.Format("15:04:05")
}
