package models

import "time"

const (
	KindText       = "text"
	KindAttachment = "attachment"
)

// Message is one immutable entry in a conversation's append-only log.
// The auto-increment ID doubles as the insertion-sequence tie-break: ordering
// within a conversation is (created_at, id), so two near-simultaneous sends
// never tie.
type Message struct {
	// ID is the insertion sequence number (primary key).
	ID uint `gorm:"primaryKey" json:"id"`
	// ConversationID is the owning conversation.
	ConversationID string `gorm:"type:uuid;not null;index:idx_conv_msg" json:"conversation_id"`
	// SenderID is the user who sent the message.
	SenderID string `gorm:"type:text;not null;index:idx_conv_msg" json:"sender_id"`
	// Body is the text content. Empty for pure attachments.
	Body string `gorm:"type:text" json:"body"`
	// Kind is "text" or "attachment".
	Kind string `gorm:"type:text;not null" json:"kind"`
	// AttachmentRef is an opaque handle into the file store, nil for text.
	AttachmentRef *string `gorm:"type:text" json:"attachment_ref,omitempty"`
	// ClientKey is the sender-generated idempotency key. The unique index
	// makes a retried append return the already-stored row instead of
	// duplicating it, and lets the sender reconcile an optimistic local
	// copy exactly.
	ClientKey string `gorm:"type:uuid;uniqueIndex" json:"client_key"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	// ReadAt is set once, by a viewer other than the sender, and never
	// cleared afterwards.
	ReadAt *time.Time `json:"read_at,omitempty"`
}

// IsRead reports whether the message has been read by the other party.
func (m *Message) IsRead() bool {
	return m.ReadAt != nil
}
