package models

import (
	"github.com/google/uuid"
	"github.com/lib/pq" // required for pq.StringArray
	"gorm.io/gorm"
)

const (
	RoleCustomer = "customer"
	RoleAgent    = "agent"
	RoleAdmin    = "admin"
)

// User is the identity row consumed read-only by the chat core: it resolves
// "my message" vs "their message" and labels typing indicators. Account
// management itself lives outside this service.
type User struct {
	ID          string `gorm:"primaryKey" json:"id"` // UUID
	Role        string `gorm:"type:text;not null;index" json:"role"`
	DisplayName string `gorm:"type:text;not null" json:"display_name"`
	// NotifyChannels are the out-of-band alert channels the user opted into
	// ("sound", "toast", "email"). The fanout filters dispatchers by these.
	NotifyChannels pq.StringArray `gorm:"type:text[]" json:"notify_channels"`
}

// BeforeCreate is a GORM hook that generates a new UUID for the user
// if the ID has not been set yet.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}

// IsAgent reports whether the user handles conversations on the staff side.
func (u *User) IsAgent() bool {
	return u.Role == RoleAgent || u.Role == RoleAdmin
}
