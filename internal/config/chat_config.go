package config

import "time"

const (
	// Presence
	HeartbeatInterval = 30 * time.Second
	FreshnessWindow   = 5 * time.Minute
	PresenceKey       = "presence:users"

	// Typing
	TypingTTL           = 3 * time.Second
	TypingChannelPrefix = "typing:"

	// Change feed
	FeedGlobalChannel      = "feed:global"
	FeedConvChannelPrefix  = "feed:conv:"
	FeedActorChannelPrefix = "feed:user:"
	PollInterval           = time.Second

	// Conversation
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"

	// Outbound message queue size per client
	ClientSendBuffer = 256
)

var Priorities = map[string]bool{
	PriorityLow:    true,
	PriorityNormal: true,
	PriorityHigh:   true,
}
