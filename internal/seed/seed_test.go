package seed

import (
	"context"
	"testing"
	"time"

	"staffdesk/internal/duration"
	"staffdesk/internal/models"
	"staffdesk/internal/repository"
	"staffdesk/internal/testutil"
	"staffdesk/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequest_PayloadsAreValid(t *testing.T) {
	f := NewFactory(nil, Options{DryRun: true, MaxDays: 30, Seed: 42})

	for _, kind := range models.Kinds {
		t.Run(string(kind), func(t *testing.T) {
			req := f.BuildRequest(kind)
			assert.Equal(t, models.StatusPending, req.Status)
			require.NoError(t, validation.ValidateMemberID(req.SubmitterID))
			require.NoError(t, validation.ValidateMemberID(req.SubjectID))
			assert.WithinDuration(t, time.Now(), req.CreatedAt, 31*24*time.Hour)

			p := req.Payload
			switch kind {
			case models.KindLOA:
				require.NoError(t, validation.ValidateText("reason", p.Reason, validation.MaxReasonLength, true))
				_, err := duration.Parse(p.Duration, req.CreatedAt)
				require.NoError(t, err)
				require.NotNil(t, req.EndAt)
				assert.True(t, req.EndAt.After(*req.StartAt))
			case models.KindAppeal:
				assert.NotEmpty(t, p.Reason)
				assert.NotEmpty(t, p.Evidence)
			case models.KindInfraction:
				assert.NotEqual(t, req.SubmitterID, req.SubjectID)
				_, err := validation.NormalizeInfractionType(p.InfractionType)
				require.NoError(t, err)
				require.NoError(t, validation.ValidateDocLink(p.DocLink))
			case models.KindReview:
				require.NoError(t, validation.ValidateRating(p.Rating))
				require.NoError(t, validation.ValidateText("feedback", p.Feedback, validation.MaxFeedbackLength, true))
			}
		})
	}
}

func TestBuildRequest_Overrides(t *testing.T) {
	f := NewFactory(nil, Options{DryRun: true, Seed: 7})
	req := f.BuildRequest(models.KindAppeal, func(r *models.Request) {
		r.SubmitterID = "123"
	})
	assert.Equal(t, "123", req.SubmitterID)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	s := NewSeeder(nil, Options{PendingPerKind: 2, ResolvedPerKind: 2, DryRun: true, Seed: 1})

	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 16, summary.Total())
	require.NoError(t, s.ClearAll(context.Background()))
}

func TestRun_SeedsEveryKind(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	s := NewSeeder(db, Options{PendingPerKind: 3, ResolvedPerKind: 2, MaxDays: 10, Seed: 99})

	summary, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, summary.Total())

	repo := repository.NewRequestRepository(db)
	for _, kind := range models.Kinds {
		assert.Equal(t, 3, summary[kind][models.StatusPending])
		assert.Equal(t, 1, summary[kind][models.StatusAccepted])
		assert.Equal(t, 1, summary[kind][models.StatusDenied])

		pending, err := repo.ListPending(ctx, kind, 100, 0)
		require.NoError(t, err)
		assert.Len(t, pending, 3)
	}

	var resolved []models.Request
	require.NoError(t, db.Where("status <> ?", models.StatusPending).Find(&resolved).Error)
	require.Len(t, resolved, 8)
	for _, r := range resolved {
		require.NotNil(t, r.ResolverID)
		require.NotNil(t, r.ResolvedAt)
		require.NotNil(t, r.ResolutionReason)
	}

	require.NoError(t, s.ClearAll(ctx))
	var count int64
	require.NoError(t, db.Model(&models.Request{}).Count(&count).Error)
	assert.Zero(t, count)
}
