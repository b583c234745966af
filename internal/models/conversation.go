package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Conversation represents a support thread between one customer and at most
// one assigned agent. Status only ever moves active -> closed; closed threads
// stay readable but reject new messages.
type Conversation struct {
	// ID is the unique identifier for the conversation (UUID).
	ID string `gorm:"primaryKey" json:"id"`
	// CustomerID is the customer who owns the thread.
	CustomerID string `gorm:"type:text;not null;index" json:"customer_id"`
	// AssignedAgentID is the agent handling the thread. Nil until an agent
	// is assigned or claims the thread by replying.
	AssignedAgentID *string `gorm:"type:text;index" json:"assigned_agent_id"`
	// Subject is the customer-entered topic line.
	Subject string `gorm:"type:text;not null" json:"subject"`
	// Priority is one of low/normal/high.
	Priority string `gorm:"type:text;not null" json:"priority"`
	// Status is "active" or "closed".
	Status string `gorm:"type:text;not null;index" json:"status"`

	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `gorm:"index" json:"last_message_at"`
}

// BeforeCreate generates the conversation UUID if one is not set yet.
func (c *Conversation) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	return
}

// IsClosed reports whether the conversation no longer accepts messages.
func (c *Conversation) IsClosed() bool {
	return c.Status == StatusClosed
}
