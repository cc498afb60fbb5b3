package model

import "time"

// HubStats is a point-in-time view of the in-memory delivery state.
type HubStats struct {
	Connections    int           `json:"connections"`
	CachedMessages int           `json:"cached_messages"`
	TrackedCursors int           `json:"tracked_cursors"`
	PendingExpiry  int           `json:"pending_expiry"`
	Conversations  int           `json:"conversations"`
	Dropped        uint64        `json:"dropped_events"`
	Uptime         time.Duration `json:"uptime"`
}
