package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"staffdesk/internal/cache"
	"staffdesk/internal/featureflags"
	"staffdesk/internal/models"
	"staffdesk/internal/notifications"
	"staffdesk/internal/permission"
	"staffdesk/internal/repository"
	"staffdesk/internal/testutil"

	"github.com/stretchr/testify/require"
)

const (
	staffMember  = "1001"
	otherStaff   = "1002"
	seniorStaff  = "2001"
	seniorStaff2 = "2002"
	adminMember  = "3001"
	member       = "4001"
	infractStaff = "5001"
	peerReviewer = "6001"
	promoter     = "7001"
)

var (
	staffRoles    = []string{"100"}
	seniorRoles   = []string{"200"}
	adminRoles    = []string{"300"}
	memberRoles   = []string{"400"}
	infractRoles  = []string{"500"}
	reviewerRoles = []string{"600"}
	promoterRoles = []string{"700"}
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fakeDispatcher struct {
	mu        sync.Mutex
	reviews   []notifications.ReviewEvent
	artifacts []notifications.OutcomeEvent
	notices   []notifications.OutcomeEvent
	subjects  []notifications.OutcomeEvent
	announced []notifications.AnnouncementEvent

	reviewErr   error
	artifactErr error
	noticeErr   error
	announceErr error
}

func (f *fakeDispatcher) PublishReviewRequest(_ context.Context, ev notifications.ReviewEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviews = append(f.reviews, ev)
	return f.reviewErr
}

func (f *fakeDispatcher) UpdateReviewArtifact(_ context.Context, ev notifications.OutcomeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts = append(f.artifacts, ev)
	return f.artifactErr
}

func (f *fakeDispatcher) NotifySubmitter(_ context.Context, ev notifications.OutcomeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, ev)
	return f.noticeErr
}

func (f *fakeDispatcher) NotifySubject(_ context.Context, ev notifications.OutcomeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, ev)
	return f.noticeErr
}

func (f *fakeDispatcher) Announce(_ context.Context, ev notifications.AnnouncementEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announced = append(f.announced, ev)
	return f.announceErr
}

func (f *fakeDispatcher) counts() (reviews, artifacts, notices int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reviews), len(f.artifacts), len(f.notices)
}

type fakeRoles struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeRoles) Grant(_ context.Context, memberID, roleID string) error {
	return f.add("grant", memberID, roleID)
}

func (f *fakeRoles) Revoke(_ context.Context, memberID, roleID string) error {
	return f.add("revoke", memberID, roleID)
}

func (f *fakeRoles) add(action, memberID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s:%s:%s", action, memberID, roleID))
	return f.err
}

func (f *fakeRoles) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fixture struct {
	engine      *Engine
	requests    repository.RequestRepository
	roleChanges repository.RoleChangeRepository
	dispatcher  *fakeDispatcher
	roles       *fakeRoles
	policies    *permission.Resolver
	now         time.Time
}

type fixtureOption func(*EngineConfig)

func withFlags(raw string) fixtureOption {
	return func(c *EngineConfig) { c.Flags = featureflags.NewManager(raw) }
}

func withCache(c *cache.Cache) fixtureOption {
	return func(cfg *EngineConfig) { cfg.Cache = c }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	return newFixtureWithPolicy(t, testutil.Policy, opts...)
}

func newFixtureWithPolicy(t *testing.T, policy string, opts ...fixtureOption) *fixture {
	t.Helper()
	return newFixtureFromPath(t, testutil.WritePolicy(t, policy), opts...)
}

func newFixtureFromPath(t *testing.T, policyPath string, opts ...fixtureOption) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	policies, err := permission.LoadFile(policyPath)
	require.NoError(t, err)

	f := &fixture{
		requests:    repository.NewRequestRepository(db),
		roleChanges: repository.NewRoleChangeRepository(db),
		dispatcher:  &fakeDispatcher{},
		roles:       &fakeRoles{},
		policies:    policies,
		now:         t0,
	}
	cfg := EngineConfig{
		Requests:       f.requests,
		SideEffects:    repository.NewSideEffectRepository(db),
		RoleChanges:    f.roleChanges,
		Policies:       policies,
		Dispatcher:     f.dispatcher,
		Roles:          f.roles,
		AppealCooldown: 72 * time.Hour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.engine = NewEngine(cfg).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) submitLOA(t *testing.T, submitter, token string) *models.Request {
	t.Helper()
	req, err := f.engine.Submit(context.Background(), Submission{
		SubmitterID:    submitter,
		SubmitterRoles: staffRoles,
		Kind:           models.KindLOA,
		Payload:        models.Payload{Reason: "vacation", Duration: token},
	})
	require.NoError(t, err)
	return req
}

func (f *fixture) decide(id, reviewer string, outcome models.Outcome, reason string) (*models.Request, error) {
	return f.engine.Decide(context.Background(), Decision{
		RequestID:     id,
		ReviewerID:    reviewer,
		ReviewerRoles: seniorRoles,
		Outcome:       outcome,
		Reason:        reason,
	})
}

func intPtr(v int) *int { return &v }
