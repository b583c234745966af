// Package presence maintains the "who is online" signal: periodic heartbeats
// into the ephemeral store and staleness-aware online derivation on the way
// out. Liveness is process-wide, not scoped to any open conversation.
package presence

import (
	"context"
	"log"
	"time"

	"privacydesk/backend/internal/config"
	"privacydesk/backend/internal/models"
)

// Store is the slice of the storage layer the tracker needs.
type Store interface {
	UpsertPresence(rec models.PresenceRecord) error
	GetPresence(userID string) (*models.PresenceRecord, error)
	ListPresence() ([]models.PresenceRecord, error)
}

// Tracker derives online state from heartbeat records. The stored status is
// never trusted on its own: a client that crashed mid-session still has
// "online" on record, so every derivation re-checks last_seen against the
// freshness window.
type Tracker struct {
	Store Store

	// Now is the clock, overridable in tests.
	Now func() time.Time
	// Window is the freshness window after which a record is stale.
	Window time.Duration
}

func NewTracker(s Store) *Tracker {
	return &Tracker{
		Store:  s,
		Now:    time.Now,
		Window: config.FreshnessWindow,
	}
}

// Heartbeat upserts the user's presence record as online. Keyed per user:
// two devices heartbeating for the same user overwrite each other and the
// last one wins.
func (t *Tracker) Heartbeat(userID, clientHint string) error {
	return t.Store.UpsertPresence(models.PresenceRecord{
		UserID:     userID,
		Status:     models.PresenceOnline,
		LastSeen:   t.Now(),
		ClientHint: clientHint,
	})
}

// GoOffline records a graceful disconnect. Best effort: process termination
// may skip it entirely, which is exactly why Online re-checks staleness.
func (t *Tracker) GoOffline(userID string) error {
	return t.Store.UpsertPresence(models.PresenceRecord{
		UserID:   userID,
		Status:   models.PresenceOffline,
		LastSeen: t.Now(),
	})
}

// Online reports whether the user counts as online right now: stored status
// online AND a heartbeat within the freshness window.
func (t *Tracker) Online(userID string) (bool, error) {
	rec, err := t.Store.GetPresence(userID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	return rec.OnlineAt(t.Now(), t.Window), nil
}

// ListOnline returns the set of currently-online user ids in one batch, for
// roster views that would otherwise check presence per row.
func (t *Tracker) ListOnline() (map[string]bool, error) {
	records, err := t.Store.ListPresence()
	if err != nil {
		return nil, err
	}

	now := t.Now()
	online := make(map[string]bool)
	for _, rec := range records {
		if rec.OnlineAt(now, t.Window) {
			online[rec.UserID] = true
		}
	}
	return online, nil
}

// Run heartbeats on a fixed interval until the context is cancelled, then
// fires the best-effort offline update synchronously before returning.
func (t *Tracker) Run(ctx context.Context, userID, clientHint string) {
	if err := t.Heartbeat(userID, clientHint); err != nil {
		log.Printf("ERROR: Initial heartbeat for %s failed: %v", userID, err)
	}

	ticker := time.NewTicker(config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := t.GoOffline(userID); err != nil {
				log.Printf("WARNING: Offline update for %s not delivered: %v", userID, err)
			}
			return
		case <-ticker.C:
			if err := t.Heartbeat(userID, clientHint); err != nil {
				log.Printf("ERROR: Heartbeat for %s failed: %v", userID, err)
			}
		}
	}
}
