package chathub

import "privacydesk/backend/internal/models"

// Outbound is the wire envelope pushed to a connected client: either a feed
// event (re-fetch the named entity) or an ephemeral typing state.
type Outbound struct {
	Kind   string              `json:"kind"` // "feed" or "typing"
	Event  *models.FeedEvent   `json:"event,omitempty"`
	Typing *models.TypingState `json:"typing,omitempty"`
}

// Client is the interface for any kind of realtime connection the hub
// manages. The WebSocket implementation is the only one in-tree; the
// abstraction keeps the hub testable without sockets.
type Client interface {
	// GetUserID returns the authenticated user behind the connection.
	GetUserID() string

	// GetSendChannel returns the channel the hub pushes outbound envelopes
	// into. It is a send-only channel.
	GetSendChannel() chan<- Outbound

	// Run starts the client's read and write pumps.
	Run()
	// Close shuts the connection and its channels down.
	Close()
}
