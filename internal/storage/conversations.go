package storage

import (
	"errors"
	"log"
	"time"

	"privacydesk/backend/internal/apperr"
	"privacydesk/backend/internal/config"
	"privacydesk/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateConversation opens a new active thread for a customer. The customer
// id must resolve to an identity row.
func (s *Service) CreateConversation(customerID, subject, priority string) (*models.Conversation, error) {
	conv, err := s.buildConversation(s.DB, customerID, subject, priority)
	if err != nil {
		return nil, err
	}
	if err := s.DB.Create(conv).Error; err != nil {
		log.Printf("ERROR: Failed to create conversation for %s: %v", customerID, err)
		return nil, err
	}

	s.publishConversationUpdated(conv, customerID)
	return conv, nil
}

// CreateWithFirstMessage creates the conversation and appends its first
// message in one transaction. This backs the draft-conversation flow: a
// thread must never be observable with zero messages, so the row and the
// first log entry commit together or not at all.
func (s *Service) CreateWithFirstMessage(customerID, subject, priority string, first NewMessage) (*models.Conversation, *models.Message, error) {
	var (
		conv *models.Conversation
		msg  *models.Message
	)

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		conv, err = s.buildConversation(tx, customerID, subject, priority)
		if err != nil {
			return err
		}
		if err := tx.Create(conv).Error; err != nil {
			return err
		}

		msg, err = s.insertMessage(tx, conv, first)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.publishConversationUpdated(conv, customerID)
	s.publishMessageInserted(conv, msg)
	return conv, msg, nil
}

// AssignAgent upserts the assignee. Idempotent, last write wins: two agents
// racing on the same thread both succeed and the feed shows the final state.
// Does not touch status.
func (s *Service) AssignAgent(conversationID, agentID string) error {
	agent, err := s.GetUser(agentID)
	if err != nil || !agent.IsAgent() {
		return apperr.Validationf("assignee %q is not an agent", agentID)
	}

	var conv models.Conversation
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockConversation(tx, conversationID, &conv); err != nil {
			return err
		}
		conv.AssignedAgentID = &agentID
		return tx.Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			Update("assigned_agent_id", agentID).Error
	})
	if err != nil {
		log.Printf("ERROR: Failed to assign agent %s to %s: %v", agentID, conversationID, err)
		return err
	}

	s.publishConversationUpdated(&conv, agentID)
	return nil
}

// AppendMessage appends to the immutable log. The conversation row is locked
// for the duration of the transaction, which serializes concurrent senders
// per conversation. A closed conversation rejects the write; an agent
// replying to an unassigned thread claims it.
func (s *Service) AppendMessage(conversationID string, in NewMessage) (*models.Message, error) {
	var (
		conv models.Conversation
		msg  *models.Message
	)

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockConversation(tx, conversationID, &conv); err != nil {
			return err
		}
		if err := appendAllowed(&conv); err != nil {
			return err
		}

		var err error
		msg, err = s.insertMessage(tx, &conv, in)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publishMessageInserted(&conv, msg)
	return msg, nil
}

// MarkRead stamps read_at on every unread message in the conversation that
// the viewer did not send. Idempotent: a second call matches zero rows.
// Returns the number of messages transitioned.
func (s *Service) MarkRead(conversationID, viewerID string) (int64, error) {
	if viewerID == "" {
		return 0, apperr.Validationf("missing viewer id")
	}

	res := s.DB.Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", conversationID, viewerID).
		Update("read_at", time.Now())
	if res.Error != nil {
		log.Printf("ERROR: Failed to mark read for %s in %s: %v", viewerID, conversationID, res.Error)
		return 0, res.Error
	}

	// Unread aggregators key off conversation_updated to drop their cached
	// counts for this conversation.
	if res.RowsAffected > 0 {
		conv, err := s.GetConversation(conversationID)
		if err == nil {
			s.publishConversationUpdated(conv, viewerID)
		}
	}
	return res.RowsAffected, nil
}

// CloseConversation is the one-way active -> closed transition. Closed
// threads stay readable and still accept MarkRead; AppendMessage rejects
// them. There is no reopen.
func (s *Service) CloseConversation(conversationID string) error {
	var conv models.Conversation
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockConversation(tx, conversationID, &conv); err != nil {
			return err
		}
		if conv.IsClosed() {
			return nil // already closed, nothing to do
		}
		conv.Status = models.StatusClosed
		return tx.Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			Update("status", models.StatusClosed).Error
	})
	if err != nil {
		log.Printf("ERROR: Failed to close conversation %s: %v", conversationID, err)
		return err
	}

	s.publishConversationUpdated(&conv, "")
	return nil
}

// GetConversation loads one conversation by id.
func (s *Service) GetConversation(id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.DB.Where("id = ?", id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Validationf("conversation %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListForCustomer returns the customer's threads, most recent activity first.
func (s *Service) ListForCustomer(customerID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.DB.Where("customer_id = ?", customerID).
		Order("last_message_at desc").
		Find(&convs).Error
	return convs, err
}

// ListInbox returns all active threads for the agent inbox view.
func (s *Service) ListInbox() ([]models.Conversation, error) {
	return s.listByStatus(models.StatusActive)
}

// ListArchive returns closed threads for the agent archive view.
func (s *Service) ListArchive() ([]models.Conversation, error) {
	return s.listByStatus(models.StatusClosed)
}

func (s *Service) listByStatus(status string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.DB.Where("status = ?", status).
		Order("last_message_at desc").
		Find(&convs).Error
	return convs, err
}

// Messages returns the conversation log in its total order: creation time
// with the insertion sequence as tie-break.
func (s *Service) Messages(conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	err := s.DB.Where("conversation_id = ?", conversationID).
		Order("created_at asc, id asc").
		Find(&msgs).Error
	if err != nil {
		log.Printf("ERROR: Failed to load messages for %s: %v", conversationID, err)
		return nil, err
	}
	return msgs, nil
}

// UnreadCounts computes per-conversation unread totals for a viewer: messages
// the viewer did not send and that carry no read_at yet. Customers see only
// their own threads; staff see the whole inbox.
func (s *Service) UnreadCounts(viewerID string) (map[string]int, error) {
	viewer, err := s.GetUser(viewerID)
	if err != nil {
		return nil, apperr.Validationf("viewer %q not found", viewerID)
	}

	type row struct {
		ConversationID string
		Cnt            int
	}
	var rows []row

	q := s.DB.Model(&models.Message{}).
		Select("messages.conversation_id, count(*) as cnt").
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("messages.sender_id <> ? AND messages.read_at IS NULL", viewerID).
		Group("messages.conversation_id")
	if !viewer.IsAgent() {
		q = q.Where("conversations.customer_id = ?", viewerID)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.ConversationID] = r.Cnt
	}
	return counts, nil
}

// --- helpers ---

func (s *Service) buildConversation(tx *gorm.DB, customerID, subject, priority string) (*models.Conversation, error) {
	if subject == "" {
		return nil, apperr.Validationf("missing subject")
	}
	if priority == "" {
		priority = config.PriorityNormal
	}
	if !config.Priorities[priority] {
		return nil, apperr.Validationf("unknown priority %q", priority)
	}

	var owner models.User
	if err := tx.First(&owner, "id = ?", customerID).Error; err != nil {
		return nil, apperr.Validationf("owner %q not found", customerID)
	}

	now := time.Now()
	return &models.Conversation{
		CustomerID:    customerID,
		Subject:       subject,
		Priority:      priority,
		Status:        models.StatusActive,
		CreatedAt:     now,
		LastMessageAt: now,
	}, nil
}

// insertMessage validates and writes one log entry inside the caller's
// transaction, bumps last_message_at and performs the claim-on-reply. The
// caller holds the conversation row lock.
func (s *Service) insertMessage(tx *gorm.DB, conv *models.Conversation, in NewMessage) (*models.Message, error) {
	if err := validateNewMessage(in); err != nil {
		return nil, err
	}

	var sender models.User
	if err := tx.First(&sender, "id = ?", in.SenderID).Error; err != nil {
		return nil, apperr.Validationf("sender %q not found", in.SenderID)
	}

	// Idempotent retry: same client key means the write already landed.
	var prior models.Message
	priorErr := tx.Where("client_key = ?", in.ClientKey).First(&prior).Error
	existing, hit, err := reuseExisting(&prior, priorErr)
	if err != nil {
		return nil, err
	}
	if hit {
		return existing, nil
	}

	msg := models.Message{
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Body:           in.Body,
		Kind:           messageKind(in),
		AttachmentRef:  in.AttachmentRef,
		ClientKey:      in.ClientKey,
		CreatedAt:      time.Now(),
	}
	if err := tx.Create(&msg).Error; err != nil {
		return nil, err
	}

	updates := conversationUpdates(&sender, conv, msg.CreatedAt)
	if agentID, ok := updates["assigned_agent_id"].(string); ok {
		conv.AssignedAgentID = &agentID
	}
	conv.LastMessageAt = msg.CreatedAt
	if err := tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).Updates(updates).Error; err != nil {
		return nil, err
	}

	return &msg, nil
}

func lockConversation(tx *gorm.DB, id string, out *models.Conversation) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Validationf("conversation %q not found", id)
	}
	return err
}
