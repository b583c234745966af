package models_test

import (
	"reflect"
	"testing"
	"time"

	"privacydesk/backend/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestMessageIsRead(t *testing.T) {
	unread := models.Message{ConversationID: "c1", SenderID: "u1", Body: "hello"}
	assert.False(t, unread.IsRead())

	now := time.Now()
	read := models.Message{ConversationID: "c1", SenderID: "u1", Body: "hello", ReadAt: &now}
	assert.True(t, read.IsRead())
}

// TestMessageStructTags guards the two tags the idempotent-send path depends
// on: the auto-increment primary key (insertion-sequence tie-break) and the
// unique client key index (retry dedupe).
func TestMessageStructTags(t *testing.T) {
	msgType := reflect.TypeOf(models.Message{})

	idField, found := msgType.FieldByName("ID")
	assert.True(t, found)
	assert.Contains(t, idField.Tag.Get("gorm"), "primaryKey")

	keyField, found := msgType.FieldByName("ClientKey")
	assert.True(t, found)
	assert.Contains(t, keyField.Tag.Get("gorm"), "uniqueIndex", "ClientKey must be unique for retry dedupe")

	createdField, found := msgType.FieldByName("CreatedAt")
	assert.True(t, found)
	assert.Contains(t, createdField.Tag.Get("gorm"), "index", "CreatedAt is the primary ordering key")
}

func TestUserIsAgent(t *testing.T) {
	tests := []struct {
		role    string
		isAgent bool
	}{
		{models.RoleCustomer, false},
		{models.RoleAgent, true},
		{models.RoleAdmin, true},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			u := models.User{Role: tt.role}
			assert.Equal(t, tt.isAgent, u.IsAgent())
		})
	}
}
