package service

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"staffdesk/internal/cache"
	"staffdesk/internal/duration"
	"staffdesk/internal/models"
	"staffdesk/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_Visibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.submitLOA(t, staffMember, "1D")

	tests := []struct {
		name    string
		actor   Actor
		wantErr error
	}{
		{name: "submitter", actor: Actor{ID: staffMember, Roles: staffRoles}},
		{name: "reviewer of kind", actor: Actor{ID: seniorStaff, Roles: seniorRoles}},
		{name: "unrelated staff", actor: Actor{ID: otherStaff, Roles: staffRoles}, wantErr: models.ErrNotFound},
		{name: "admin without review policy", actor: Actor{ID: adminMember, Roles: adminRoles}, wantErr: models.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.engine.Get(ctx, tt.actor, req.ID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, req.ID, got.ID)
		})
	}
}

func TestListBySubmitter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.submitLOA(t, staffMember, "1D")
	_, err := f.decide(first.ID, seniorStaff, models.OutcomeDeny, "busy week")
	require.NoError(t, err)
	f.advance(time.Minute)
	second := f.submitLOA(t, staffMember, "2D")

	own, err := f.engine.ListBySubmitter(ctx, Actor{ID: staffMember, Roles: staffRoles}, staffMember, "", 0)
	require.NoError(t, err)
	require.Len(t, own, 2)
	assert.Equal(t, second.ID, own[0].ID, "newest first")
	assert.Equal(t, first.ID, own[1].ID)

	limited, err := f.engine.ListBySubmitter(ctx, Actor{ID: seniorStaff, Roles: seniorRoles}, staffMember, models.KindLOA, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second.ID, limited[0].ID)

	_, err = f.engine.ListBySubmitter(ctx, Actor{ID: otherStaff, Roles: staffRoles}, staffMember, "", 0)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestListBySubmitter_CacheInvalidatedOnDecide(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t, withCache(cache.New(rdb)))
	ctx := context.Background()
	self := Actor{ID: staffMember, Roles: staffRoles}

	req := f.submitLOA(t, staffMember, "1D")

	rows, err := f.engine.ListBySubmitter(ctx, self, staffMember, "", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.StatusPending, rows[0].Status)
	assert.True(t, mr.Exists(cache.SubmitterHistoryKey(staffMember, "")))

	_, err = f.decide(req.ID, seniorStaff, models.OutcomeAccept, "")
	require.NoError(t, err)
	assert.False(t, mr.Exists(cache.SubmitterHistoryKey(staffMember, "")))

	rows, err = f.engine.ListBySubmitter(ctx, self, staffMember, "", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.StatusAccepted, rows[0].Status)
}

func TestListBySubject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Submit(ctx, Submission{
		SubmitterID: infractStaff, SubmitterRoles: infractRoles, Kind: models.KindInfraction,
		Payload: models.Payload{SubjectID: staffMember, InfractionType: "Warning", DocLink: "https://docs.example.com/1"},
	})
	require.NoError(t, err)
	_, err = f.engine.Submit(ctx, Submission{
		SubmitterID: peerReviewer, SubmitterRoles: reviewerRoles, Kind: models.KindReview,
		Payload: models.Payload{SubjectID: staffMember, Rating: intPtr(5), Feedback: "great"},
	})
	require.NoError(t, err)

	all, err := f.engine.ListBySubject(ctx, Actor{ID: staffMember, Roles: staffRoles}, staffMember, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	reviews, err := f.engine.ListBySubject(ctx, Actor{ID: seniorStaff, Roles: seniorRoles}, staffMember, models.KindReview, 0)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, models.KindReview, reviews[0].Kind)

	_, err = f.engine.ListBySubject(ctx, Actor{ID: member, Roles: memberRoles}, staffMember, "", 0)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestListPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.submitLOA(t, staffMember, "1D")
	f.advance(time.Second)
	b := f.submitLOA(t, otherStaff, "1D")
	f.advance(time.Second)
	c := f.submitLOA(t, seniorStaff, "1D")
	_, err := f.decide(b.ID, seniorStaff2, models.OutcomeAccept, "")
	require.NoError(t, err)

	reviewer := Actor{ID: seniorStaff2, Roles: seniorRoles}
	page, err := f.engine.ListPending(ctx, reviewer, models.KindLOA, 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, a.ID, page[0].ID, "oldest first")
	assert.Equal(t, c.ID, page[1].ID)

	page, err = f.engine.ListPending(ctx, reviewer, models.KindLOA, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, c.ID, page[0].ID)

	_, err = f.engine.ListPending(ctx, Actor{ID: staffMember, Roles: staffRoles}, models.KindLOA, 10, 0)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestLeaveStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	self := Actor{ID: staffMember, Roles: staffRoles}

	summary, err := f.engine.LeaveStatus(ctx, self, staffMember)
	require.NoError(t, err)
	assert.Nil(t, summary.Active)
	assert.Zero(t, summary.PastLeaves)

	first := f.submitLOA(t, staffMember, "2D")
	active, err := f.engine.ActiveLeave(ctx, staffMember, f.now)
	require.NoError(t, err)
	assert.Nil(t, active, "pending leave is not active")

	_, err = f.decide(first.ID, seniorStaff, models.OutcomeAccept, "")
	require.NoError(t, err)

	summary, err = f.engine.LeaveStatus(ctx, self, staffMember)
	require.NoError(t, err)
	require.NotNil(t, summary.Active)
	assert.Equal(t, first.ID, summary.Active.ID)
	assert.Zero(t, summary.PastLeaves)

	f.advance(2 * duration.Day)
	summary, err = f.engine.LeaveStatus(ctx, self, staffMember)
	require.NoError(t, err)
	assert.Nil(t, summary.Active, "leave ending exactly now is over")
	assert.Equal(t, int64(1), summary.PastLeaves)

	count, err := f.engine.PastLeaveCount(ctx, staffMember)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = f.engine.LeaveStatus(ctx, Actor{ID: otherStaff, Roles: staffRoles}, staffMember)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestAttachArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.submitLOA(t, staffMember, "1D")

	_, err := f.engine.AttachArtifact(ctx, req.ID, "", "55")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.engine.AttachArtifact(ctx, "missing", "44", "55")
	assert.ErrorIs(t, err, models.ErrNotFound)

	got, err := f.engine.AttachArtifact(ctx, req.ID, " 44 ", "55")
	require.NoError(t, err)
	require.NotNil(t, got.Artifact())
	assert.Equal(t, models.ArtifactRef{ChannelID: "44", MessageID: "55"}, *got.Artifact())

	_, err = f.decide(req.ID, seniorStaff, models.OutcomeAccept, "")
	require.NoError(t, err)
	require.Len(t, f.dispatcher.artifacts, 1)
	require.NotNil(t, f.dispatcher.artifacts[0].Artifact)
	assert.Equal(t, "55", f.dispatcher.artifacts[0].Artifact.MessageID)
}

func TestPurge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.submitLOA(t, staffMember, "1D")

	_, err := f.engine.Purge(ctx, Actor{ID: seniorStaff, Roles: seniorRoles}, req.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	purged, err := f.engine.Purge(ctx, Actor{ID: adminMember, Roles: adminRoles}, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, purged.ID)

	_, err = f.requests.GetByID(ctx, req.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.engine.Purge(ctx, Actor{ID: adminMember, Roles: adminRoles}, req.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// A purged pending request no longer blocks a new one.
	f.submitLOA(t, staffMember, "1D")
}

func TestListSideEffects_RequiresReviewer(t *testing.T) {
	f := newFixture(t)
	req := f.submitLOA(t, staffMember, "1D")

	_, err := f.engine.ListSideEffects(context.Background(), Actor{ID: staffMember, Roles: staffRoles}, req.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.engine.ListSideEffects(context.Background(), Actor{ID: seniorStaff, Roles: seniorRoles}, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReloadPolicies(t *testing.T) {
	path := testutil.WritePolicy(t, testutil.Policy)
	f := newFixtureFromPath(t, path)
	ctx := context.Background()
	admin := Actor{ID: adminMember, Roles: adminRoles}

	assert.ErrorIs(t, f.engine.ReloadPolicies(ctx, Actor{Roles: staffRoles}), models.ErrForbidden)

	widened := strings.Replace(testutil.Policy, `admin: ["300"]`, `admin: ["300", "301"]`, 1)
	require.NoError(t, os.WriteFile(path, []byte(widened), 0o600))
	require.NoError(t, f.engine.ReloadPolicies(ctx, admin))
	assert.NoError(t, f.engine.ReloadPolicies(ctx, Actor{Roles: []string{"301"}}))

	require.NoError(t, os.WriteFile(path, []byte("policies:\n  admin: [\"300\"]\n"), 0o600))
	err := f.engine.ReloadPolicies(ctx, admin)
	require.ErrorIs(t, err, models.ErrConfiguration)
	assert.Contains(t, err.Error(), "loa_submit")
}

func TestKindToggles(t *testing.T) {
	f := newFixture(t, withFlags("appeal=off,review=on"))

	toggles := f.engine.KindToggles(member)
	assert.Equal(t, map[string]bool{"loa": true, "appeal": false, "infraction": true, "review": true}, toggles)
	assert.False(t, f.engine.KindEnabled(models.KindAppeal, member))
}

func TestRequiredPolicies(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.policies.Require(RequiredPolicies()...))
	assert.Contains(t, RequiredPolicies(), "review_review")
}
