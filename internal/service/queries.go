package service

import (
	"context"
	"strings"
	"time"

	"staffdesk/internal/cache"
	"staffdesk/internal/middleware"
	"staffdesk/internal/models"
	"staffdesk/internal/permission"
)

// historyWindow is how many rows a cached history listing holds. Callers
// asking for fewer get a prefix of it.
const historyWindow = 100

// LeaveSummary is a member's current leave and how many leaves have ended.
type LeaveSummary struct {
	Active     *models.Request `json:"active"`
	PastLeaves int64           `json:"past_leaves"`
}

// Get returns a request to its submitter, to reviewers of its kind, and to
// history viewers.
func (e *Engine) Get(ctx context.Context, actor Actor, id string) (*models.Request, error) {
	req, err := e.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.SubmitterID == actor.ID {
		return req, nil
	}
	ok, err := e.canReviewOrView(actor.Roles, req.Kind)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Do not reveal that the id exists.
		return nil, models.NewNotFoundError("Request", id)
	}
	return req, nil
}

// ListBySubmitter returns a member's requests, newest first. Members may list
// their own; listing someone else needs the history_view policy.
func (e *Engine) ListBySubmitter(ctx context.Context, actor Actor, submitterID string, kind models.Kind, limit int) ([]models.Request, error) {
	if err := e.authorizeHistory(actor, submitterID); err != nil {
		return nil, err
	}

	var rows []models.Request
	err := e.cache.Aside(ctx, cache.SubmitterHistoryKey(submitterID, kind), &rows, e.historyTTL, func() error {
		var err error
		rows, err = e.requests.ListBySubmitter(ctx, submitterID, kind, historyWindow)
		return err
	})
	if err != nil {
		return nil, err
	}
	return window(rows, limit), nil
}

// ListBySubject returns the requests naming subjectID as subject, newest
// first, optionally narrowed to one kind.
func (e *Engine) ListBySubject(ctx context.Context, actor Actor, subjectID string, kind models.Kind, limit int) ([]models.Request, error) {
	if err := e.authorizeHistory(actor, subjectID); err != nil {
		return nil, err
	}

	var rows []models.Request
	err := e.cache.Aside(ctx, cache.SubjectHistoryKey(subjectID), &rows, e.historyTTL, func() error {
		var err error
		rows, err = e.requests.ListBySubject(ctx, subjectID, "", historyWindow)
		return err
	})
	if err != nil {
		return nil, err
	}
	if kind != "" {
		filtered := rows[:0:0]
		for _, r := range rows {
			if r.Kind == kind {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}
	return window(rows, limit), nil
}

// ListPending pages through the review queue of kind, oldest first.
func (e *Engine) ListPending(ctx context.Context, actor Actor, kind models.Kind, limit, offset int) ([]models.Request, error) {
	if err := e.authorize(actor.Roles, permission.ReviewPolicy(kind), "You are not allowed to review this queue"); err != nil {
		return nil, err
	}
	return e.requests.ListPending(ctx, kind, limit, offset)
}

// IsActive reports whether req is an accepted leave covering now.
func (e *Engine) IsActive(req *models.Request, now time.Time) bool {
	return req.IsActive(now)
}

// ActiveLeave returns the member's accepted leave covering now, or nil.
func (e *Engine) ActiveLeave(ctx context.Context, submitterID string, now time.Time) (*models.Request, error) {
	req, err := e.requests.FindActiveOrPending(ctx, submitterID, models.KindLOA, now.UTC())
	if err != nil || req == nil {
		return nil, err
	}
	if !req.IsActive(now) {
		return nil, nil
	}
	return req, nil
}

// PastLeaveCount counts the member's accepted leaves that have ended.
func (e *Engine) PastLeaveCount(ctx context.Context, submitterID string) (int64, error) {
	return e.requests.CountEnded(ctx, submitterID, models.KindLOA, e.clock())
}

// LeaveStatus combines ActiveLeave and PastLeaveCount for a member.
func (e *Engine) LeaveStatus(ctx context.Context, actor Actor, memberID string) (LeaveSummary, error) {
	if err := e.authorizeHistory(actor, memberID); err != nil {
		return LeaveSummary{}, err
	}
	active, err := e.ActiveLeave(ctx, memberID, e.clock())
	if err != nil {
		return LeaveSummary{}, err
	}
	past, err := e.PastLeaveCount(ctx, memberID)
	if err != nil {
		return LeaveSummary{}, err
	}
	return LeaveSummary{Active: active, PastLeaves: past}, nil
}

// AttachArtifact stores where the review artifact for a request was posted,
// so later updates address it directly.
func (e *Engine) AttachArtifact(ctx context.Context, requestID, channelID, messageID string) (*models.Request, error) {
	ref := models.ArtifactRef{
		ChannelID: strings.TrimSpace(channelID),
		MessageID: strings.TrimSpace(messageID),
	}
	if ref.ChannelID == "" || ref.MessageID == "" {
		return nil, models.NewValidationError("channel_id and message_id are required")
	}
	if len(ref.ChannelID) > 32 || len(ref.MessageID) > 32 {
		return nil, models.NewValidationError("channel_id and message_id must be at most 32 characters")
	}

	if err := e.requests.SetArtifact(ctx, requestID, ref); err != nil {
		return nil, err
	}
	req, err := e.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	e.cache.InvalidateRequest(ctx, req)
	return req, nil
}

// AttachArtifactAs is AttachArtifact for a caller who must review the
// request's kind.
func (e *Engine) AttachArtifactAs(ctx context.Context, actor Actor, requestID, channelID, messageID string) (*models.Request, error) {
	req, err := e.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(actor.Roles, permission.ReviewPolicy(req.Kind), "You are not allowed to review this request"); err != nil {
		return nil, err
	}
	return e.AttachArtifact(ctx, requestID, channelID, messageID)
}

// Purge deletes a request outside the state machine. Admin only.
func (e *Engine) Purge(ctx context.Context, actor Actor, requestID string) (*models.Request, error) {
	if err := e.RequireAdmin(actor, "Only administrators can delete requests"); err != nil {
		return nil, err
	}
	req, err := e.requests.Delete(ctx, requestID)
	if err != nil {
		return nil, err
	}
	e.cache.InvalidateRequest(ctx, req)

	middleware.Ctx(ctx).Warn().
		Str("request_id", req.ID).
		Str("kind", string(req.Kind)).
		Str("status", string(req.Status)).
		Str("purged_by", actor.ID).
		Msg("request purged")
	return req, nil
}

// ListSideEffects returns the outbox records of a request to its reviewers.
func (e *Engine) ListSideEffects(ctx context.Context, actor Actor, requestID string) ([]models.SideEffect, error) {
	req, err := e.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(actor.Roles, permission.ReviewPolicy(req.Kind), "You are not allowed to review this request"); err != nil {
		return nil, err
	}
	return e.sideEffects.ListByRequest(ctx, requestID)
}

// ReloadPolicies re-reads the policy file. Admin only.
func (e *Engine) ReloadPolicies(ctx context.Context, actor Actor) error {
	if err := e.RequireAdmin(actor, "Only administrators can reload policies"); err != nil {
		return err
	}
	if err := e.policies.Reload(); err != nil {
		middleware.Ctx(ctx).Error().Err(err).Msg("policy reload failed, keeping previous table")
		return err
	}
	if err := e.policies.Require(RequiredPolicies()...); err != nil {
		middleware.Ctx(ctx).Error().Err(err).Msg("reloaded policy table is incomplete")
		return err
	}
	middleware.Ctx(ctx).Info().Str("actor_id", actor.ID).Msg("policies reloaded")
	return nil
}

// RequireAdmin returns Forbidden with denial unless actor holds the admin policy.
func (e *Engine) RequireAdmin(actor Actor, denial string) error {
	return e.authorize(actor.Roles, permission.PolicyAdmin, denial)
}

// RequiredPolicies lists every policy the engine consults.
func RequiredPolicies() []string {
	out := []string{
		permission.PolicyStaff,
		permission.PolicyHistoryView,
		permission.PolicyAdmin,
		permission.PolicyInfractionRevoke,
		permission.PolicyPromotion,
		permission.PolicyRoleManage,
	}
	for _, k := range models.Kinds {
		out = append(out, permission.SubmitPolicy(k), permission.ReviewPolicy(k))
	}
	return out
}

func (e *Engine) authorizeHistory(actor Actor, memberID string) error {
	if strings.TrimSpace(memberID) == "" {
		return models.NewValidationError("member id is required")
	}
	if actor.ID == memberID {
		return nil
	}
	return e.authorize(actor.Roles, permission.PolicyHistoryView, "You are not allowed to view this member's history")
}

func (e *Engine) canReviewOrView(actorRoles []string, kind models.Kind) (bool, error) {
	ok, err := e.holds(actorRoles, permission.ReviewPolicy(kind))
	if err != nil || ok {
		return ok, err
	}
	return e.holds(actorRoles, permission.PolicyHistoryView)
}

func window(rows []models.Request, limit int) []models.Request {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}
