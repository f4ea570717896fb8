package service

import (
	"context"

	"staffdesk/internal/middleware"
	"staffdesk/internal/models"
	"staffdesk/internal/notifications"
	"staffdesk/internal/observability"
)

// applyEffects runs every post-decision effect in order: role changes, then
// the review artifact, then the notices. Each one is attempted and recorded
// on its own; none of them can undo the transition.
func (e *Engine) applyEffects(ctx context.Context, req *models.Request, outcome models.Outcome) {
	for _, change := range e.plannedRoleChanges(req, outcome) {
		err := change.err
		if err == nil {
			err = e.changeRole(ctx, req.SubjectID, change)
		}
		e.record(ctx, req.ID, change.effect, change.roleID, err)
	}

	ev := notifications.NewOutcomeEvent(req, outcome)
	e.record(ctx, req.ID, models.EffectArtifactUpdate, string(req.Kind), e.dispatcher.UpdateReviewArtifact(ctx, ev))
	e.record(ctx, req.ID, models.EffectNotifySubmit, req.SubmitterID, e.dispatcher.NotifySubmitter(ctx, ev))
	if notifiesSubject(req, outcome) {
		e.record(ctx, req.ID, models.EffectNotifySubject, req.SubjectID, e.dispatcher.NotifySubject(ctx, ev))
	}
}

// notifiesSubject reports whether an issued infraction must also reach the
// member it was issued to.
func notifiesSubject(req *models.Request, outcome models.Outcome) bool {
	return req.Kind == models.KindInfraction &&
		outcome == models.OutcomeAccept &&
		req.SubjectID != req.SubmitterID
}

func (e *Engine) changeRole(ctx context.Context, memberID string, change roleChange) error {
	if e.roles == nil {
		return models.NewDependencyError("role effector", nil)
	}
	if change.effect == models.EffectRoleRevoke {
		return e.roles.Revoke(ctx, memberID, change.roleID)
	}
	return e.roles.Grant(ctx, memberID, change.roleID)
}

// record stores the outcome of one side effect. Failing to store the record
// is logged and otherwise ignored.
func (e *Engine) record(ctx context.Context, requestID, effect, target string, effErr error) {
	row := &models.SideEffect{
		RequestID: requestID,
		Effect:    effect,
		Target:    target,
		Status:    models.SideEffectOK,
		CreatedAt: e.clock(),
	}
	if effErr != nil {
		row.Status = models.SideEffectFailed
		row.Error = effErr.Error()
		observability.SideEffectFailures.WithLabelValues(effect).Inc()
		middleware.Ctx(ctx).Warn().
			Err(effErr).
			Str("request_id", requestID).
			Str("effect", effect).
			Str("target", target).
			Msg("side effect failed")
	}

	if e.sideEffects == nil {
		return
	}
	if err := e.sideEffects.Record(ctx, row); err != nil {
		middleware.Ctx(ctx).Error().
			Err(err).
			Str("request_id", requestID).
			Str("effect", effect).
			Msg("failed to record side effect")
	}
}
