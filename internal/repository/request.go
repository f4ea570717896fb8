// Package repository implements the data access layer for workflow requests.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"staffdesk/internal/models"
	"staffdesk/internal/observability"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 25
	maxListLimit     = 100
)

// Resolution is the terminal state written by a successful compare-and-set.
type Resolution struct {
	Status     models.Status
	ResolverID string
	Reason     *string
	ResolvedAt time.Time
}

// RequestRepository defines persistence operations for workflow requests.
type RequestRepository interface {
	Insert(ctx context.Context, req *models.Request) error
	GetByID(ctx context.Context, id string) (*models.Request, error)
	CompareAndSetStatus(ctx context.Context, id string, expected models.Status, res Resolution) (bool, error)
	ListBySubmitter(ctx context.Context, submitterID string, kind models.Kind, limit int) ([]models.Request, error)
	ListBySubject(ctx context.Context, subjectID string, kind models.Kind, limit int) ([]models.Request, error)
	ListPending(ctx context.Context, kind models.Kind, limit, offset int) ([]models.Request, error)
	FindActiveOrPending(ctx context.Context, submitterID string, kind models.Kind, now time.Time) (*models.Request, error)
	LatestResolved(ctx context.Context, submitterID string, kind models.Kind, status models.Status) (*models.Request, error)
	CountEnded(ctx context.Context, submitterID string, kind models.Kind, now time.Time) (int64, error)
	SetArtifact(ctx context.Context, id string, ref models.ArtifactRef) error
	Delete(ctx context.Context, id string) (*models.Request, error)
}

type requestRepository struct {
	db      *gorm.DB
	metrics *observability.DatabaseMetrics
}

// NewRequestRepository returns a new RequestRepository implementation.
func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{
		db:      db,
		metrics: observability.NewDatabaseMetrics(models.Request{}.TableName()),
	}
}

func (r *requestRepository) begin(ctx context.Context, op string) (context.Context, func()) {
	ctx, span := observability.GetTraceLayer().TraceRepositoryMethod(ctx, op, "requests")
	done := r.metrics.TrackQuery(op)
	return ctx, func() {
		done()
		span.End()
	}
}

// Insert persists a new request. A violation of the one-pending-per-kind
// index is reported as DuplicatePending.
func (r *requestRepository) Insert(ctx context.Context, req *models.Request) error {
	ctx, end := r.begin(ctx, "Insert")
	defer end()

	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		if isUniqueViolation(err) {
			return models.NewDuplicatePendingError(req.Kind)
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *requestRepository) GetByID(ctx context.Context, id string) (*models.Request, error) {
	ctx, end := r.begin(ctx, "GetByID")
	defer end()

	var req models.Request
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Request", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &req, nil
}

// CompareAndSetStatus moves a request out of expected in one conditional
// UPDATE. It reports false when no row matched, either because the id is
// unknown or because another writer already moved it.
func (r *requestRepository) CompareAndSetStatus(ctx context.Context, id string, expected models.Status, res Resolution) (bool, error) {
	ctx, end := r.begin(ctx, "CompareAndSetStatus")
	defer end()

	result := r.db.WithContext(ctx).
		Model(&models.Request{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(map[string]interface{}{
			"status":            res.Status,
			"resolver_id":       res.ResolverID,
			"resolution_reason": res.Reason,
			"resolved_at":       res.ResolvedAt,
		})
	if result.Error != nil {
		return false, models.NewInternalError(result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *requestRepository) ListBySubmitter(ctx context.Context, submitterID string, kind models.Kind, limit int) ([]models.Request, error) {
	ctx, end := r.begin(ctx, "ListBySubmitter")
	defer end()

	q := r.db.WithContext(ctx).Where("submitter_id = ?", submitterID)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	return r.list(q.Order("created_at DESC"), limit, 0)
}

func (r *requestRepository) ListBySubject(ctx context.Context, subjectID string, kind models.Kind, limit int) ([]models.Request, error) {
	ctx, end := r.begin(ctx, "ListBySubject")
	defer end()

	q := r.db.WithContext(ctx).Where("subject_id = ?", subjectID)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	return r.list(q.Order("created_at DESC"), limit, 0)
}

// ListPending returns the review queue for kind, oldest first.
func (r *requestRepository) ListPending(ctx context.Context, kind models.Kind, limit, offset int) ([]models.Request, error) {
	ctx, end := r.begin(ctx, "ListPending")
	defer end()

	q := r.db.WithContext(ctx).
		Where("kind = ? AND status = ?", kind, models.StatusPending).
		Order("created_at ASC")
	return r.list(q, limit, offset)
}

func (r *requestRepository) list(q *gorm.DB, limit, offset int) ([]models.Request, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	var out []models.Request
	if err := q.Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return out, nil
}

// FindActiveOrPending returns the submitter's pending request of kind, or an
// accepted one whose interval covers now. Returns nil when there is neither.
func (r *requestRepository) FindActiveOrPending(ctx context.Context, submitterID string, kind models.Kind, now time.Time) (*models.Request, error) {
	ctx, end := r.begin(ctx, "FindActiveOrPending")
	defer end()

	var out []models.Request
	err := r.db.WithContext(ctx).
		Where("submitter_id = ? AND kind = ?", submitterID, kind).
		Where(
			r.db.Where("status = ?", models.StatusPending).
				Or("status = ? AND start_at <= ? AND end_at > ?", models.StatusAccepted, now, now),
		).
		Order("created_at DESC").
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// LatestResolved returns the most recently resolved request of kind with the
// given terminal status, or nil.
func (r *requestRepository) LatestResolved(ctx context.Context, submitterID string, kind models.Kind, status models.Status) (*models.Request, error) {
	ctx, end := r.begin(ctx, "LatestResolved")
	defer end()

	var out []models.Request
	err := r.db.WithContext(ctx).
		Where("submitter_id = ? AND kind = ? AND status = ?", submitterID, kind, status).
		Order("resolved_at DESC").
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// CountEnded counts accepted requests whose interval closed at or before now.
func (r *requestRepository) CountEnded(ctx context.Context, submitterID string, kind models.Kind, now time.Time) (int64, error) {
	ctx, end := r.begin(ctx, "CountEnded")
	defer end()

	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Request{}).
		Where("submitter_id = ? AND kind = ? AND status = ? AND end_at <= ?", submitterID, kind, models.StatusAccepted, now).
		Count(&n).Error
	if err != nil {
		return 0, models.NewInternalError(err)
	}
	return n, nil
}

func (r *requestRepository) SetArtifact(ctx context.Context, id string, ref models.ArtifactRef) error {
	ctx, end := r.begin(ctx, "SetArtifact")
	defer end()

	result := r.db.WithContext(ctx).
		Model(&models.Request{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"artifact_channel_id": ref.ChannelID,
			"artifact_message_id": ref.MessageID,
		})
	if result.Error != nil {
		return models.NewInternalError(result.Error)
	}
	if result.RowsAffected == 0 {
		return models.NewNotFoundError("Request", id)
	}
	return nil
}

// Delete removes a request and its side-effect records. It returns the row as
// it was before deletion.
func (r *requestRepository) Delete(ctx context.Context, id string) (*models.Request, error) {
	ctx, end := r.begin(ctx, "Delete")
	defer end()

	var req models.Request
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&req).Error; err != nil {
			return err
		}
		if err := tx.Where("request_id = ?", id).Delete(&models.SideEffect{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Request{}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Request", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &req, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
