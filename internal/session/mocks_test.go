package session_test

import (
	"privacydesk/backend/internal/models"
	"privacydesk/backend/internal/storage"

	"github.com/stretchr/testify/mock"
)

// MockStore is a testify mock of the session's storage slice.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateWithFirstMessage(customerID, subject, priority string, first storage.NewMessage) (*models.Conversation, *models.Message, error) {
	args := m.Called(customerID, subject, priority, first)
	var conv *models.Conversation
	var msg *models.Message
	if args.Get(0) != nil {
		conv = args.Get(0).(*models.Conversation)
	}
	if args.Get(1) != nil {
		msg = args.Get(1).(*models.Message)
	}
	return conv, msg, args.Error(2)
}

func (m *MockStore) AppendMessage(conversationID string, in storage.NewMessage) (*models.Message, error) {
	args := m.Called(conversationID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStore) MarkRead(conversationID, viewerID string) (int64, error) {
	args := m.Called(conversationID, viewerID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) GetConversation(id string) (*models.Conversation, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockStore) Messages(conversationID string) ([]models.Message, error) {
	args := m.Called(conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

// MockTyping is a testify mock of the typing broadcast port.
type MockTyping struct {
	mock.Mock
}

func (m *MockTyping) Start(conversationID, userID, displayName, role string) error {
	args := m.Called(conversationID, userID, displayName, role)
	return args.Error(0)
}

func (m *MockTyping) Stop(conversationID, userID string) error {
	args := m.Called(conversationID, userID)
	return args.Error(0)
}
