package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Kind distinguishes the workflow variant a request belongs to.
type Kind string

const (
	// KindLOA is a leave-of-absence request from a staff member.
	KindLOA Kind = "loa"
	// KindAppeal is a ban appeal.
	KindAppeal Kind = "appeal"
	// KindInfraction is an infraction logged against a member, awaiting confirmation.
	KindInfraction Kind = "infraction"
	// KindReview is a performance review of a staff member.
	KindReview Kind = "review"
)

// Kinds lists every supported kind in a stable order.
var Kinds = []Kind{KindLOA, KindAppeal, KindInfraction, KindReview}

// ParseKind normalizes s and reports whether it names a known kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// Status defines lifecycle states for workflow requests.
type Status string

const (
	// StatusPending indicates the request is awaiting review.
	StatusPending Status = "pending"
	// StatusAccepted indicates the request was accepted.
	StatusAccepted Status = "accepted"
	// StatusDenied indicates the request was denied.
	StatusDenied Status = "denied"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusDenied
}

// Outcome is a reviewer's decision.
type Outcome string

const (
	OutcomeAccept Outcome = "accept"
	OutcomeDeny   Outcome = "deny"
)

// Status maps the outcome to the terminal status it produces.
func (o Outcome) Status() (Status, bool) {
	switch o {
	case OutcomeAccept:
		return StatusAccepted, true
	case OutcomeDeny:
		return StatusDenied, true
	}
	return "", false
}

// Payload carries the kind-specific fields of a request. The engine validates
// it at submission and otherwise passes it through untouched.
type Payload struct {
	Reason         string   `json:"reason,omitempty"`
	Duration       string   `json:"duration,omitempty"`
	Evidence       string   `json:"evidence,omitempty"`
	SubjectID      string   `json:"subject_id,omitempty"`
	SubjectRoles   []string `json:"subject_roles,omitempty"`
	InfractionType string   `json:"infraction_type,omitempty"`
	DocLink        string   `json:"doc_link,omitempty"`
	Appealable     bool     `json:"appealable,omitempty"`
	Rating         *int     `json:"rating,omitempty"`
	Feedback       string   `json:"feedback,omitempty"`
}

// Value stores the payload as JSON text.
func (p Payload) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads a JSON payload column.
func (p *Payload) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = Payload{}
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("unsupported payload column type %T", src)
	}
}

// ArtifactRef locates the reviewer-facing message for a request.
type ArtifactRef struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// Request is a unit of work awaiting a reviewer's binary decision.
type Request struct {
	ID                string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Kind              Kind       `gorm:"type:varchar(20);not null;index:idx_requests_submitter_kind,priority:2" json:"kind"`
	SubmitterID       string     `gorm:"type:varchar(32);not null;index:idx_requests_submitter_kind,priority:1" json:"submitter_id"`
	SubjectID         string     `gorm:"type:varchar(32);not null;index" json:"subject_id"`
	Payload           Payload    `gorm:"type:text;not null" json:"payload"`
	Status            Status     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ResolverID        *string    `gorm:"type:varchar(32)" json:"resolver_id"`
	ResolutionReason  *string    `gorm:"type:text" json:"resolution_reason"`
	StartAt           *time.Time `json:"start_at,omitempty"`
	EndAt             *time.Time `json:"end_at,omitempty"`
	ArtifactChannelID *string    `gorm:"type:varchar(32)" json:"artifact_channel_id,omitempty"`
	ArtifactMessageID *string    `gorm:"type:varchar(32)" json:"artifact_message_id,omitempty"`
	CreatedAt         time.Time  `gorm:"not null;index" json:"created_at"`
	ResolvedAt        *time.Time `json:"resolved_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName pins the table name shared by every kind.
func (Request) TableName() string {
	return "requests"
}

// BeforeCreate assigns an id when the caller did not.
func (r *Request) BeforeCreate(_ *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// IsActive reports whether an accepted leave interval covers now.
// Derived on every read, never stored.
func (r *Request) IsActive(now time.Time) bool {
	if r.Status != StatusAccepted || r.StartAt == nil || r.EndAt == nil {
		return false
	}
	return !now.Before(*r.StartAt) && now.Before(*r.EndAt)
}

// Artifact returns the stored review artifact reference, if any.
func (r *Request) Artifact() *ArtifactRef {
	if r.ArtifactChannelID == nil || r.ArtifactMessageID == nil {
		return nil
	}
	return &ArtifactRef{ChannelID: *r.ArtifactChannelID, MessageID: *r.ArtifactMessageID}
}
