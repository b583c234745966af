// Package notify decides whether an out-of-band alert fires for a feed
// event; how the alert is delivered belongs to the registered dispatchers.
package notify

import (
	"fmt"
	"log"

	"privacydesk/backend/internal/models"
)

// Store resolves recipients and conversation subjects for alert rendering.
type Store interface {
	GetUser(id string) (*models.User, error)
	GetConversation(id string) (*models.Conversation, error)
}

// Dispatcher performs the actual out-of-band delivery for one channel.
// Implementations exist for Telegram pushes and for the Kafka topic the
// mailer consumes.
type Dispatcher interface {
	// Channel is the name matched against the recipient's NotifyChannels.
	Channel() string
	Dispatch(recipient *models.User, title, body, category string) error
}

// Fanout applies the suppression rules: no alert for your own message, no
// alert for the conversation you are currently looking at.
type Fanout struct {
	Store       Store
	dispatchers []Dispatcher
}

func NewFanout(s Store) *Fanout {
	return &Fanout{Store: s}
}

// Register adds a delivery channel.
func (f *Fanout) Register(d Dispatcher) {
	f.dispatchers = append(f.dispatchers, d)
}

// HandleMessage evaluates one new-message event for a recipient.
// activeConversationID is the conversation the recipient is currently
// viewing, empty if none. Returns whether an alert fired.
func (f *Fanout) HandleMessage(ev models.FeedEvent, recipientID, activeConversationID string) bool {
	if ev.Kind != models.EventMessageInserted {
		return false
	}
	// Own message: never self-notify.
	if ev.ActorID == recipientID {
		return false
	}
	// The thread is open in front of the recipient; the message list itself
	// is the notification.
	if ev.ConversationID == activeConversationID {
		return false
	}

	recipient, err := f.Store.GetUser(recipientID)
	if err != nil {
		log.Printf("ERROR: Notification recipient %s not resolved: %v", recipientID, err)
		return false
	}

	title := "New message"
	if conv, err := f.Store.GetConversation(ev.ConversationID); err == nil {
		title = fmt.Sprintf("New message in %q", conv.Subject)
	}

	fired := false
	for _, d := range f.dispatchers {
		if !wantsChannel(recipient, d.Channel()) {
			continue
		}
		if err := d.Dispatch(recipient, title, "You have a new support message.", "chat_message"); err != nil {
			// Best effort: a failed alert never blocks message delivery.
			log.Printf("WARNING: %s dispatch to %s failed: %v", d.Channel(), recipientID, err)
			continue
		}
		fired = true
	}
	return fired
}

// wantsChannel checks the recipient's opt-in list. An empty list means all
// channels are welcome.
func wantsChannel(u *models.User, channel string) bool {
	if len(u.NotifyChannels) == 0 {
		return true
	}
	for _, c := range u.NotifyChannels {
		if c == channel {
			return true
		}
	}
	return false
}
