package service

import (
	"context"
	"strings"
	"time"

	"staffdesk/internal/cache"
	"staffdesk/internal/featureflags"
	"staffdesk/internal/middleware"
	"staffdesk/internal/models"
	"staffdesk/internal/notifications"
	"staffdesk/internal/observability"
	"staffdesk/internal/permission"
	"staffdesk/internal/repository"
	"staffdesk/internal/roles"
	"staffdesk/internal/validation"
)

// Dispatcher delivers review artifacts, outcome notices and announcements.
type Dispatcher interface {
	PublishReviewRequest(ctx context.Context, ev notifications.ReviewEvent) error
	UpdateReviewArtifact(ctx context.Context, ev notifications.OutcomeEvent) error
	NotifySubmitter(ctx context.Context, ev notifications.OutcomeEvent) error
	NotifySubject(ctx context.Context, ev notifications.OutcomeEvent) error
	Announce(ctx context.Context, ev notifications.AnnouncementEvent) error
}

// Actor is an authenticated caller.
type Actor struct {
	ID    string
	Roles []string
}

// Submission is a new request as entered by its submitter.
type Submission struct {
	SubmitterID    string
	SubmitterRoles []string
	Kind           models.Kind
	Payload        models.Payload
}

// Decision is a reviewer's accept or deny on a pending request.
type Decision struct {
	RequestID     string
	ReviewerID    string
	ReviewerRoles []string
	Outcome       models.Outcome
	Reason        string
}

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Requests       repository.RequestRepository
	SideEffects    repository.SideEffectRepository
	RoleChanges    repository.RoleChangeRepository
	Policies       *permission.Resolver
	Flags          *featureflags.Manager
	Dispatcher     Dispatcher
	Roles          roles.Effector
	Cache          *cache.Cache
	HistoryTTL     time.Duration
	AppealCooldown time.Duration
}

// Engine runs the submit / decide state machine. It holds no request state
// between calls; every decision starts from a fresh read.
type Engine struct {
	requests       repository.RequestRepository
	sideEffects    repository.SideEffectRepository
	roleChanges    repository.RoleChangeRepository
	policies       *permission.Resolver
	flags          *featureflags.Manager
	dispatcher     Dispatcher
	roles          roles.Effector
	cache          *cache.Cache
	historyTTL     time.Duration
	appealCooldown time.Duration
	now            func() time.Time
}

func NewEngine(cfg EngineConfig) *Engine {
	ttl := cfg.HistoryTTL
	if ttl <= 0 {
		ttl = cache.HistoryTTL
	}
	return &Engine{
		requests:       cfg.Requests,
		sideEffects:    cfg.SideEffects,
		roleChanges:    cfg.RoleChanges,
		policies:       cfg.Policies,
		flags:          cfg.Flags,
		dispatcher:     cfg.Dispatcher,
		roles:          cfg.Roles,
		cache:          cfg.Cache,
		historyTTL:     ttl,
		appealCooldown: cfg.AppealCooldown,
		now:            time.Now,
	}
}

// WithClock replaces the engine's time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// Submit validates and persists a new pending request, then asks reviewers
// to act on it. A failed review dispatch is recorded but does not fail the
// submission.
func (e *Engine) Submit(ctx context.Context, sub Submission) (req *models.Request, err error) {
	kindLabel := "unknown"
	defer func() {
		observability.SubmissionsTotal.WithLabelValues(kindLabel, resultLabel(err)).Inc()
	}()

	kind, ok := models.ParseKind(string(sub.Kind))
	if !ok {
		return nil, models.NewValidationError("Unknown request kind")
	}
	kindLabel = string(kind)

	if !e.KindEnabled(kind, sub.SubmitterID) {
		return nil, models.NewConfigurationError(kindDisabledMessage(kind))
	}
	if err := e.authorize(sub.SubmitterRoles, permission.SubmitPolicy(kind), "You are not allowed to submit this request"); err != nil {
		return nil, err
	}

	now := e.clock()
	checked, err := e.checkPayload(kind, sub, now)
	if err != nil {
		return nil, err
	}
	if err := e.guardDuplicate(ctx, sub.SubmitterID, kind, now); err != nil {
		return nil, err
	}

	req = &models.Request{
		Kind:        kind,
		SubmitterID: sub.SubmitterID,
		SubjectID:   checked.subjectID,
		Payload:     checked.payload,
		Status:      models.StatusPending,
		CreatedAt:   now,
	}
	if checked.interval != nil {
		start, end := checked.interval.Start, checked.interval.End
		req.StartAt, req.EndAt = &start, &end
	}
	if err := e.requests.Insert(ctx, req); err != nil {
		return nil, err
	}

	e.cache.InvalidateRequest(ctx, req)
	middleware.Ctx(ctx).Info().
		Str("request_id", req.ID).
		Str("kind", string(kind)).
		Str("submitter_id", req.SubmitterID).
		Msg("request submitted")

	effCtx := e.effectContext(ctx, req.ID)
	e.record(effCtx, req.ID, models.EffectReviewRequest, string(kind),
		e.dispatcher.PublishReviewRequest(effCtx, notifications.NewReviewEvent(req)))
	return req, nil
}

// Decide resolves a pending request exactly once. Concurrent deciders race on
// a single conditional update; losers get AlreadyResolved and trigger no
// effects.
func (e *Engine) Decide(ctx context.Context, d Decision) (req *models.Request, err error) {
	kindLabel, outcomeLabel := "unknown", string(d.Outcome)
	defer func() {
		observability.DecisionsTotal.WithLabelValues(kindLabel, outcomeLabel, resultLabel(err)).Inc()
	}()

	target, ok := d.Outcome.Status()
	if !ok {
		outcomeLabel = "unknown"
		return nil, models.NewValidationError("Outcome must be accept or deny")
	}
	if err := validation.ValidateMemberID(d.ReviewerID); err != nil {
		return nil, models.NewValidationError("Invalid reviewer: " + err.Error())
	}

	current, err := e.requests.GetByID(ctx, d.RequestID)
	if err != nil {
		return nil, err
	}
	kindLabel = string(current.Kind)

	if err := e.authorize(d.ReviewerRoles, permission.ReviewPolicy(current.Kind), "You are not allowed to review this request"); err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return nil, models.NewAlreadyResolvedError(current.ID, current.Status)
	}

	// Only a denial carries a reason; one given with an accept is dropped.
	reason := ""
	if d.Outcome == models.OutcomeDeny {
		reason = strings.TrimSpace(d.Reason)
	}
	if d.Outcome == models.OutcomeDeny && reason == "" && reasonRequiredOnDeny(current.Kind) {
		return nil, models.NewReasonRequiredError(current.Kind)
	}
	if err := checkText("reason", reason, maxReason, false); err != nil {
		return nil, err
	}

	res := repository.Resolution{
		Status:     target,
		ResolverID: d.ReviewerID,
		ResolvedAt: e.clock(),
	}
	if reason != "" {
		res.Reason = &reason
	}
	won, err := e.requests.CompareAndSetStatus(ctx, current.ID, models.StatusPending, res)
	if err != nil {
		return nil, err
	}
	if !won {
		latest, err := e.requests.GetByID(ctx, current.ID)
		if err != nil {
			return nil, err
		}
		return nil, models.NewAlreadyResolvedError(latest.ID, latest.Status)
	}

	req, err = e.requests.GetByID(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	e.cache.InvalidateRequest(ctx, req)

	middleware.Ctx(ctx).Info().
		Str("request_id", req.ID).
		Str("kind", string(req.Kind)).
		Str("status", string(req.Status)).
		Str("resolver_id", d.ReviewerID).
		Msg("request resolved")

	e.applyEffects(e.effectContext(ctx, req.ID), req, d.Outcome)
	return req, nil
}

// KindEnabled reports whether submissions of kind are switched on for member.
func (e *Engine) KindEnabled(kind models.Kind, memberID string) bool {
	return e.flags.Enabled(string(kind), memberID, true)
}

// KindToggles evaluates every kind's toggle for member.
func (e *Engine) KindToggles(memberID string) map[string]bool {
	names := make([]string, 0, len(models.Kinds))
	for _, k := range models.Kinds {
		names = append(names, string(k))
	}
	return e.flags.Snapshot(memberID, names, true)
}

func (e *Engine) guardDuplicate(ctx context.Context, submitterID string, kind models.Kind, now time.Time) error {
	open, err := e.requests.FindActiveOrPending(ctx, submitterID, kind, now)
	if err != nil {
		return err
	}
	if open != nil {
		if open.Status == models.StatusPending {
			return models.NewDuplicatePendingError(kind)
		}
		return &models.AppError{
			Code:    models.CodeDuplicatePending,
			Message: "You are already on leave until " + open.EndAt.UTC().Format(time.RFC1123),
		}
	}

	if kind != models.KindAppeal || e.appealCooldown <= 0 {
		return nil
	}
	last, err := e.requests.LatestResolved(ctx, submitterID, kind, models.StatusDenied)
	if err != nil {
		return err
	}
	if last != nil && last.ResolvedAt != nil {
		until := last.ResolvedAt.Add(e.appealCooldown)
		if now.Before(until) {
			return models.NewCooldownError(kind, until)
		}
	}
	return nil
}

// authorize maps a policy miss to Forbidden. A missing policy stays a
// ConfigurationError.
func (e *Engine) authorize(actorRoles []string, policy, denial string) error {
	ok, err := e.policies.Authorized(actorRoles, policy)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewForbiddenError(denial)
	}
	return nil
}

func (e *Engine) holds(actorRoles []string, policy string) (bool, error) {
	return e.policies.Authorized(actorRoles, policy)
}

// effectContext detaches side effects from the caller's cancellation; the
// transition is already committed by the time they run.
func (e *Engine) effectContext(ctx context.Context, requestID string) context.Context {
	return roles.WithRequestID(context.WithoutCancel(ctx), requestID)
}

func resultLabel(err error) string {
	if err == nil {
		return observability.ResultOK
	}
	return models.CodeOf(err)
}

func kindDisabledMessage(kind models.Kind) string {
	return strings.ToUpper(string(kind)) + " requests are currently disabled"
}
