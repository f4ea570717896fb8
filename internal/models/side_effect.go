package models

import "time"

// SideEffectStatus records whether a post-decision effect went through.
type SideEffectStatus string

const (
	SideEffectOK     SideEffectStatus = "ok"
	SideEffectFailed SideEffectStatus = "failed"
)

// Effect names recorded in the outbox.
const (
	EffectReviewRequest  = "review_request"
	EffectRoleGrant      = "role_grant"
	EffectRoleRevoke     = "role_revoke"
	EffectArtifactUpdate = "artifact_update"
	EffectNotifySubmit   = "notify_submitter"
	EffectNotifySubject  = "notify_subject"
	EffectAnnouncement   = "announcement"
)

// SideEffect is one attempted downstream effect of a committed transition.
// A failed row never implies the transition was undone.
type SideEffect struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	RequestID string           `gorm:"type:varchar(36);not null;index" json:"request_id"`
	Effect    string           `gorm:"type:varchar(40);not null" json:"effect"`
	Target    string           `gorm:"type:varchar(64)" json:"target,omitempty"`
	Status    SideEffectStatus `gorm:"type:varchar(10);not null" json:"status"`
	Error     string           `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// TableName returns the database table name for SideEffect.
func (SideEffect) TableName() string {
	return "request_side_effects"
}
