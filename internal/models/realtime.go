package models

import "time"

// Feed event kinds. Every mutation observable through the change feed is one
// of these tagged variants.
const (
	EventMessageInserted     = "message_inserted"
	EventConversationUpdated = "conversation_updated"
	EventPresenceChanged     = "presence_changed"
	EventTypingChanged       = "typing_changed"
)

// FeedEvent is the wire shape of one change-feed notification. It carries
// entity keys only, never full payloads: delivery is at-least-once and
// unordered across scopes, so consumers re-fetch authoritative state for the
// referenced entity instead of trusting what rode along with the event.
type FeedEvent struct {
	Kind           string `json:"kind"`
	ConversationID string `json:"conversation_id,omitempty"`
	// EntityID is the message ID for message_inserted, the user ID for
	// presence_changed and typing_changed.
	EntityID string    `json:"entity_id,omitempty"`
	ActorID  string    `json:"actor_id,omitempty"`
	At       time.Time `json:"at"`
}

// TypingState is the ephemeral "who is typing" broadcast payload. It is never
// written to durable storage; consumers expire it locally once
// now - StartedAt exceeds the typing TTL, so a crashed sender's indicator
// self-heals without a stop event.
type TypingState struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	Role           string    `json:"role"`
	// Stopped marks an explicit retraction (sent on blur, on send, and when
	// the input is emptied). Best effort only.
	Stopped   bool      `json:"stopped,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Expired reports whether the entry is past its visual validity window.
func (t *TypingState) Expired(now time.Time, ttl time.Duration) bool {
	return t.Stopped || now.Sub(t.StartedAt) >= ttl
}
