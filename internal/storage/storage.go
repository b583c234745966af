package storage

import (
	"context"

	"privacydesk/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// NewMessage is the input for appending to a conversation's log.
type NewMessage struct {
	SenderID string
	Body     string
	Kind     string
	// AttachmentRef is the opaque file-store handle for attachment messages.
	AttachmentRef *string
	// ClientKey is the sender-generated idempotency key (UUID). A retried
	// append with the same key returns the already-stored message.
	ClientKey string
}

type Storage interface {
	// Identity (read-only for the chat core)
	GetUser(id string) (*models.User, error)
	SaveUser(user *models.User) error

	// Message store mutations
	CreateConversation(customerID, subject, priority string) (*models.Conversation, error)
	CreateWithFirstMessage(customerID, subject, priority string, first NewMessage) (*models.Conversation, *models.Message, error)
	AssignAgent(conversationID, agentID string) error
	AppendMessage(conversationID string, in NewMessage) (*models.Message, error)
	MarkRead(conversationID, viewerID string) (int64, error)
	CloseConversation(conversationID string) error

	// Message store reads
	GetConversation(id string) (*models.Conversation, error)
	ListForCustomer(customerID string) ([]models.Conversation, error)
	ListInbox() ([]models.Conversation, error)
	ListArchive() ([]models.Conversation, error)
	Messages(conversationID string) ([]models.Message, error)
	UnreadCounts(viewerID string) (map[string]int, error)

	// Ephemeral fabric
	PublishEvent(ev models.FeedEvent, recipients ...string) error
	PublishTyping(st models.TypingState) error
	UpsertPresence(rec models.PresenceRecord) error
	GetPresence(userID string) (*models.PresenceRecord, error)
	ListPresence() ([]models.PresenceRecord, error)
}

// Service is the gorm+redis backed implementation of Storage. PostgreSQL
// holds the durable conversation/message log, Redis carries the ephemeral
// side (presence hash, typing broadcasts, change-feed channels).
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	Ctx   context.Context
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
		Ctx:   context.Background(),
	}
}

// GetUser resolves a user id to its identity row.
func (s *Service) GetUser(id string) (*models.User, error) {
	var user models.User
	if err := s.DB.First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// SaveUser stores the identity row in PostgreSQL.
func (s *Service) SaveUser(user *models.User) error {
	return s.DB.Save(user).Error
}
