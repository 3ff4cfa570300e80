// Package storage persists what the dashboard needs across restarts:
//   - the last fetched stats and news (flat snapshots, so a restart renders
//     cached data before the first refresh completes)
//   - dismissed news titles, with an expiry
//   - an append-only audit log of operator actions
//
// Pending updates are never persisted.
package storage
