// Package seed provides helpers to create demo requests for development and
// testing. Requests go through the request repository so the schema's
// constraints apply exactly as they do for the engine.
package seed

import (
	"context"
	"fmt"
	"time"

	"staffdesk/internal/duration"
	"staffdesk/internal/middleware"
	"staffdesk/internal/models"
	"staffdesk/internal/repository"
	"staffdesk/internal/validation"

	"github.com/brianvoe/gofakeit/v6"
)

var leaveTokens = []string{"3D", "5D", "1W", "2W", "1M"}

// Options configures a seeding run.
type Options struct {
	// PendingPerKind and ResolvedPerKind are per-kind request counts.
	PendingPerKind  int
	ResolvedPerKind int
	// MaxDays bounds how far back created_at is spread.
	MaxDays int
	// Seed makes generated content reproducible. Zero uses the clock.
	Seed int64
	// DryRun builds requests without writing them.
	DryRun bool
}

// Factory builds requests with generated content and persists them.
type Factory struct {
	requests repository.RequestRepository
	opts     Options
	faker    *gofakeit.Faker
	now      func() time.Time
}

// NewFactory creates a Factory writing through requests, which may be nil in
// DryRun mode.
func NewFactory(requests repository.RequestRepository, opts Options) *Factory {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 90
	}
	return &Factory{
		requests: requests,
		opts:     opts,
		faker:    gofakeit.New(seed),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// MemberID returns a random snowflake-shaped member id.
func (f *Factory) MemberID() string {
	return f.faker.Numerify("1#################")
}

// BuildRequest constructs a pending request of kind with a valid payload.
func (f *Factory) BuildRequest(kind models.Kind, overrides ...func(*models.Request)) *models.Request {
	submitter := f.MemberID()
	created := f.createdAt()

	req := &models.Request{
		Kind:        kind,
		SubmitterID: submitter,
		SubjectID:   submitter,
		Status:      models.StatusPending,
		CreatedAt:   created,
	}

	switch kind {
	case models.KindLOA:
		token := leaveTokens[f.faker.Number(0, len(leaveTokens)-1)]
		req.Payload = models.Payload{Reason: f.sentence(), Duration: token}
		if interval, err := duration.Parse(token, created); err == nil {
			req.StartAt = &interval.Start
			req.EndAt = &interval.End
		}
	case models.KindAppeal:
		req.Payload = models.Payload{Reason: f.sentence(), Evidence: f.faker.URL()}
	case models.KindInfraction:
		subject := f.MemberID()
		req.SubjectID = subject
		req.Payload = models.Payload{
			SubjectID:      subject,
			InfractionType: f.faker.RandomString(validation.InfractionTypes),
			DocLink:        "https://docs.example.com/cases/" + f.faker.UUID(),
			Reason:         f.sentence(),
			Appealable:     f.faker.Bool(),
		}
	case models.KindReview:
		subject := f.MemberID()
		rating := f.faker.Number(validation.MinRating, validation.MaxRating)
		req.SubjectID = subject
		req.Payload = models.Payload{
			SubjectID: subject,
			Rating:    &rating,
			Feedback:  f.faker.Paragraph(1, 3, 12, " "),
		}
	}

	for _, override := range overrides {
		override(req)
	}
	return req
}

// CreatePending persists a pending request of kind.
func (f *Factory) CreatePending(ctx context.Context, kind models.Kind) (*models.Request, error) {
	req := f.BuildRequest(kind)
	if f.opts.DryRun {
		middleware.Logger.Debug().Str("kind", string(kind)).Str("submitter_id", req.SubmitterID).
			Msg("[dry-run] pending request")
		return req, nil
	}
	if err := f.requests.Insert(ctx, req); err != nil {
		return nil, fmt.Errorf("insert %s request: %w", kind, err)
	}
	return req, nil
}

// CreateResolved persists a request of kind and resolves it through the
// repository's compare-and-set, so it carries a resolver and resolved_at.
func (f *Factory) CreateResolved(ctx context.Context, kind models.Kind, status models.Status) (*models.Request, error) {
	req, err := f.CreatePending(ctx, kind)
	if err != nil {
		return nil, err
	}

	reason := f.sentence()
	resolvedAt := req.CreatedAt.Add(time.Duration(f.faker.Number(1, 48)) * time.Hour)
	if now := f.now(); resolvedAt.After(now) {
		resolvedAt = now
	}
	res := repository.Resolution{
		Status:     status,
		ResolverID: f.MemberID(),
		Reason:     &reason,
		ResolvedAt: resolvedAt,
	}

	if f.opts.DryRun {
		req.Status = res.Status
		req.ResolverID = &res.ResolverID
		req.ResolutionReason = res.Reason
		req.ResolvedAt = &res.ResolvedAt
		return req, nil
	}

	ok, err := f.requests.CompareAndSetStatus(ctx, req.ID, models.StatusPending, res)
	if err != nil {
		return nil, fmt.Errorf("resolve %s request: %w", kind, err)
	}
	if !ok {
		return nil, fmt.Errorf("resolve %s request %s: no longer pending", kind, req.ID)
	}
	return f.requests.GetByID(ctx, req.ID)
}

func (f *Factory) createdAt() time.Time {
	back := time.Duration(f.faker.Number(0, f.opts.MaxDays*24*60)) * time.Minute
	return f.now().Add(-back)
}

func (f *Factory) sentence() string {
	return f.faker.Sentence(f.faker.Number(4, 12))
}
