package storage

import (
	"encoding/json"
	"log"
	"time"

	"privacydesk/backend/internal/config"
	"privacydesk/backend/internal/models"
)

// PublishEvent fans one feed event out to every channel that scopes it: the
// global channel, the conversation channel when the event names one, and a
// per-actor channel for each recipient. Delivery is fire-and-forget
// at-least-once; consumers re-fetch state, so a duplicated publish is
// harmless.
func (s *Service) PublishEvent(ev models.FeedEvent, recipients ...string) error {
	if s.Redis == nil {
		// Offline tooling runs without the ephemeral fabric.
		return nil
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	channels := []string{config.FeedGlobalChannel}
	if ev.ConversationID != "" {
		channels = append(channels, config.FeedConvChannelPrefix+ev.ConversationID)
	}
	for _, r := range recipients {
		if r != "" {
			channels = append(channels, config.FeedActorChannelPrefix+r)
		}
	}

	for _, ch := range channels {
		if err := s.Redis.Publish(s.Ctx, ch, string(payload)).Err(); err != nil {
			log.Printf("ERROR: Failed to publish %s event to %s: %v", ev.Kind, ch, err)
			return err
		}
	}
	return nil
}

// PublishTyping broadcasts a typing state on the conversation's ephemeral
// channel. Nothing is stored; subscribers that join later simply never see
// it, and consumers expire entries locally.
func (s *Service) PublishTyping(st models.TypingState) error {
	if s.Redis == nil {
		return nil
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.Redis.Publish(s.Ctx, config.TypingChannelPrefix+st.ConversationID, string(payload)).Err()
}

func (s *Service) publishMessageInserted(conv *models.Conversation, msg *models.Message) {
	ev := models.FeedEvent{
		Kind:           models.EventMessageInserted,
		ConversationID: conv.ID,
		EntityID:       msg.ClientKey,
		ActorID:        msg.SenderID,
		At:             msg.CreatedAt,
	}
	if err := s.PublishEvent(ev, conversationRecipients(conv)...); err != nil {
		log.Printf("WARNING: message_inserted event for %s not delivered: %v", conv.ID, err)
	}
}

func (s *Service) publishConversationUpdated(conv *models.Conversation, actorID string) {
	ev := models.FeedEvent{
		Kind:           models.EventConversationUpdated,
		ConversationID: conv.ID,
		ActorID:        actorID,
	}
	if err := s.PublishEvent(ev, conversationRecipients(conv)...); err != nil {
		log.Printf("WARNING: conversation_updated event for %s not delivered: %v", conv.ID, err)
	}
}

func conversationRecipients(conv *models.Conversation) []string {
	recipients := []string{conv.CustomerID}
	if conv.AssignedAgentID != nil {
		recipients = append(recipients, *conv.AssignedAgentID)
	}
	return recipients
}
