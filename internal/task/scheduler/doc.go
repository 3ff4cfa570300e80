// Package scheduler holds the two timing primitives of the dashboard.
//
// Queue is a pumped priority queue of timed actions: entries become due at
// their fire time and run only when RunPending is called (from a page load or
// a background tick). Ticker drives named background jobs on cron, interval or
// daily HH:MM schedules.
package scheduler
