package chathub_test

import (
	"privacydesk/backend/internal/chathub"
)

type MockClient struct {
	userID      string
	RecvChannel chan chathub.Outbound
}

func newMockClient(userID string) *MockClient {
	return &MockClient{
		userID:      userID,
		RecvChannel: make(chan chathub.Outbound, 10),
	}
}

func (c *MockClient) GetUserID() string {
	return c.userID
}

func (c *MockClient) GetSendChannel() chan<- chathub.Outbound {
	return c.RecvChannel
}

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	// Not needed for testing
}
