package storage

import (
	"errors"
	"time"

	"privacydesk/backend/internal/apperr"
	"privacydesk/backend/internal/models"

	"gorm.io/gorm"
)

// appendAllowed rejects writes against a closed conversation. Closed threads
// stay readable and still accept MarkRead; only the append path calls this.
func appendAllowed(conv *models.Conversation) error {
	if conv.IsClosed() {
		return apperr.ErrConversationClosed
	}
	return nil
}

// validateNewMessage checks the input before anything touches the log.
func validateNewMessage(in NewMessage) error {
	if in.Body == "" && in.AttachmentRef == nil {
		return apperr.Validationf("empty message body")
	}
	if in.ClientKey == "" {
		return apperr.Validationf("missing client key")
	}
	return nil
}

// messageKind infers the kind when the sender left it unset.
func messageKind(in NewMessage) string {
	if in.Kind != "" {
		return in.Kind
	}
	if in.AttachmentRef != nil {
		return models.KindAttachment
	}
	return models.KindText
}

// reuseExisting resolves the client-key lookup: a hit means the write already
// landed and the stored row is the answer, not a duplicate; a miss means
// proceed with the insert; anything else is a real failure.
func reuseExisting(existing *models.Message, err error) (*models.Message, bool, error) {
	if err == nil {
		return existing, true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	return nil, false, err
}

// conversationUpdates computes the row updates one inserted message causes:
// the activity bump, plus claim-on-reply when an agent answers an
// unassigned thread. Assigned threads and customer senders never reassign.
func conversationUpdates(sender *models.User, conv *models.Conversation, createdAt time.Time) map[string]interface{} {
	updates := map[string]interface{}{"last_message_at": createdAt}
	if sender.IsAgent() && conv.AssignedAgentID == nil {
		updates["assigned_agent_id"] = sender.ID
	}
	return updates
}
