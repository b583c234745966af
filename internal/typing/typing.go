// Package typing handles the ephemeral "who is typing" indicator. State is
// pure pub/sub: nothing is persisted, and consumers expire entries locally
// so a crashed sender's indicator self-heals without a stop event.
package typing

import (
	"sync"
	"time"

	"privacydesk/backend/internal/config"
	"privacydesk/backend/internal/models"
)

// Publisher is the slice of the storage layer the broadcaster needs.
type Publisher interface {
	PublishTyping(st models.TypingState) error
}

// Broadcaster publishes typing starts and retractions on a conversation's
// ephemeral channel.
type Broadcaster struct {
	Pub Publisher
	Now func() time.Time
}

func NewBroadcaster(p Publisher) *Broadcaster {
	return &Broadcaster{Pub: p, Now: time.Now}
}

// Start announces that the user is typing in the conversation.
func (b *Broadcaster) Start(conversationID, userID, displayName, role string) error {
	return b.Pub.PublishTyping(models.TypingState{
		ConversationID: conversationID,
		UserID:         userID,
		DisplayName:    displayName,
		Role:           role,
		StartedAt:      b.Now(),
	})
}

// Stop retracts the indicator explicitly. Sent on blur, on send, and when
// the input empties. Best effort only: consumers never depend on it.
func (b *Broadcaster) Stop(conversationID, userID string) error {
	return b.Pub.PublishTyping(models.TypingState{
		ConversationID: conversationID,
		UserID:         userID,
		Stopped:        true,
		StartedAt:      b.Now(),
	})
}

// Watcher is the consumer side: a local live set of typists for one
// conversation. Entries expire after the typing TTL whether or not a stop
// was ever delivered.
type Watcher struct {
	TTL time.Duration
	Now func() time.Time

	mu      sync.RWMutex
	typists map[string]models.TypingState
}

func NewWatcher() *Watcher {
	return &Watcher{
		TTL:     config.TypingTTL,
		Now:     time.Now,
		typists: make(map[string]models.TypingState),
	}
}

// Observe folds one broadcast into the live set. A stop removes the entry,
// a start overwrites it (repeated keystrokes keep refreshing StartedAt).
func (w *Watcher) Observe(st models.TypingState) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if st.Stopped {
		delete(w.typists, st.UserID)
		return
	}
	w.typists[st.UserID] = st
}

// Typing returns the currently-valid typists, excluding the viewer's own
// entry. Expired entries are dropped from the set as a side effect.
func (w *Watcher) Typing(viewerID string) []models.TypingState {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.Now()
	var live []models.TypingState
	for id, st := range w.typists {
		if st.Expired(now, w.TTL) {
			delete(w.typists, id)
			continue
		}
		if id == viewerID {
			continue
		}
		live = append(live, st)
	}
	return live
}

// Reset drops all entries, used when a session re-syncs after a feed drop.
func (w *Watcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.typists = make(map[string]models.TypingState)
}
