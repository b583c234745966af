package models

import "time"

const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// PresenceRecord is one user's liveness entry in the ephemeral presence hash.
// Keyed per user, not per device: the last heartbeat wins. The stored status
// is advisory only — a crashed client never sends its graceful offline
// update, so online derivation always re-checks LastSeen against the
// freshness window.
type PresenceRecord struct {
	UserID   string    `json:"user_id"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
	// ClientHint is the reporting device/platform, advisory only.
	ClientHint string `json:"client_hint,omitempty"`
}

// OnlineAt reports whether the record counts as online at the given instant:
// stored status online AND heartbeat within the freshness window.
func (p *PresenceRecord) OnlineAt(now time.Time, window time.Duration) bool {
	return p.Status == PresenceOnline && now.Sub(p.LastSeen) < window
}
