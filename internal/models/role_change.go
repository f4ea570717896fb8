package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RoleAction names a direct role change made outside the request workflow.
type RoleAction string

const (
	// RoleActionPromote grants a staff member a new rank and announces it.
	RoleActionPromote RoleAction = "promote"
	// RoleActionGrant adds a role to a member.
	RoleActionGrant RoleAction = "grant"
	// RoleActionRevoke removes a role from a member.
	RoleActionRevoke RoleAction = "revoke"
)

// RoleChange is the audit row of one direct role change. Status records the
// role effect itself; Announcement is set only for actions that announce.
type RoleChange struct {
	ID                string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	Action            RoleAction       `gorm:"type:varchar(20);not null" json:"action"`
	ActorID           string           `gorm:"type:varchar(32);not null;index" json:"actor_id"`
	MemberID          string           `gorm:"type:varchar(32);not null;index" json:"member_id"`
	RoleID            string           `gorm:"type:varchar(32);not null" json:"role_id"`
	Status            SideEffectStatus `gorm:"type:varchar(10);not null" json:"status"`
	Error             string           `gorm:"type:text" json:"error,omitempty"`
	Announcement      SideEffectStatus `gorm:"type:varchar(10)" json:"announcement,omitempty"`
	AnnouncementError string           `gorm:"type:text" json:"announcement_error,omitempty"`
	CreatedAt         time.Time        `gorm:"not null" json:"created_at"`
}

// TableName returns the database table name for RoleChange.
func (RoleChange) TableName() string {
	return "role_changes"
}

// BeforeCreate assigns an id when the caller did not.
func (c *RoleChange) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Effect is the outbox effect name of the change.
func (c *RoleChange) Effect() string {
	if c.Action == RoleActionRevoke {
		return EffectRoleRevoke
	}
	return EffectRoleGrant
}
