package notifications

import (
	"time"

	"staffdesk/internal/models"
)

// ReviewEvent asks reviewers to act on a new request. RequestID is the only
// handle a later decision may use; the posted artifact must carry it.
type ReviewEvent struct {
	RequestID   string         `json:"request_id"`
	Kind        models.Kind    `json:"kind"`
	SubmitterID string         `json:"submitter_id"`
	SubjectID   string         `json:"subject_id"`
	Payload     models.Payload `json:"payload"`
	StartAt     *time.Time     `json:"start_at,omitempty"`
	EndAt       *time.Time     `json:"end_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewReviewEvent builds the review event for a freshly stored request.
func NewReviewEvent(r *models.Request) ReviewEvent {
	return ReviewEvent{
		RequestID:   r.ID,
		Kind:        r.Kind,
		SubmitterID: r.SubmitterID,
		SubjectID:   r.SubjectID,
		Payload:     r.Payload,
		StartAt:     r.StartAt,
		EndAt:       r.EndAt,
		CreatedAt:   r.CreatedAt,
	}
}

// OutcomeEvent reports a committed decision.
type OutcomeEvent struct {
	RequestID   string              `json:"request_id"`
	Kind        models.Kind         `json:"kind"`
	Outcome     models.Outcome      `json:"outcome"`
	SubmitterID string              `json:"submitter_id"`
	SubjectID   string              `json:"subject_id"`
	ResolverID  string              `json:"resolver_id"`
	Reason      *string             `json:"reason,omitempty"`
	Artifact    *models.ArtifactRef `json:"artifact,omitempty"`
	ResolvedAt  time.Time           `json:"resolved_at"`
}

// NewOutcomeEvent builds the outcome event from a resolved request.
func NewOutcomeEvent(r *models.Request, outcome models.Outcome) OutcomeEvent {
	ev := OutcomeEvent{
		RequestID:   r.ID,
		Kind:        r.Kind,
		Outcome:     outcome,
		SubmitterID: r.SubmitterID,
		SubjectID:   r.SubjectID,
		Reason:      r.ResolutionReason,
		Artifact:    r.Artifact(),
	}
	if r.ResolverID != nil {
		ev.ResolverID = *r.ResolverID
	}
	if r.ResolvedAt != nil {
		ev.ResolvedAt = *r.ResolvedAt
	}
	return ev
}

// AnnouncementEvent is a public staff announcement, such as a promotion.
type AnnouncementEvent struct {
	ChangeID string    `json:"change_id"`
	Action   string    `json:"action"`
	MemberID string    `json:"member_id"`
	RoleID   string    `json:"role_id"`
	ActorID  string    `json:"actor_id"`
	At       time.Time `json:"at"`
}

// NewAnnouncementEvent builds the announcement for an applied role change.
func NewAnnouncementEvent(c *models.RoleChange) AnnouncementEvent {
	return AnnouncementEvent{
		ChangeID: c.ID,
		Action:   string(c.Action),
		MemberID: c.MemberID,
		RoleID:   c.RoleID,
		ActorID:  c.ActorID,
		At:       c.CreatedAt,
	}
}

// ArtifactAck is sent by the chat gateway once it has posted a review artifact.
type ArtifactAck struct {
	RequestID string `json:"request_id"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}
