package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"staffdesk/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

// The transition must be a single conditional UPDATE keyed on id and the
// expected status; a read-then-write would reopen the race between reviewers.
func TestCompareAndSetStatus_SQLShape(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "won", affected: 1, want: true},
		{name: "lost", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			repo := NewRequestRepository(db)

			mock.ExpectBegin()
			mock.ExpectExec(`UPDATE "requests" SET .*"status"=.* WHERE id = \$\d+ AND status = \$\d+`).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			mock.ExpectCommit()

			ok, err := repo.CompareAndSetStatus(context.Background(), "req-1", models.StatusPending, Resolution{
				Status:     models.StatusAccepted,
				ResolverID: "9",
				ResolvedAt: time.Now(),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCompareAndSetStatus_DBError(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRequestRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "requests"`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	ok, err := repo.CompareAndSetStatus(context.Background(), "req-1", models.StatusPending, Resolution{Status: models.StatusDenied, ResolverID: "9"})
	assert.False(t, ok)
	assert.Equal(t, models.CodeInternal, models.CodeOf(err))
}

func TestInsert_PostgresUniqueViolation(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRequestRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "requests"`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "ux_requests_pending_submitter_kind"})
	mock.ExpectRollback()

	err := repo.Insert(context.Background(), &models.Request{Kind: models.KindLOA, SubmitterID: "1", SubjectID: "1", Status: models.StatusPending})
	assert.ErrorIs(t, err, models.ErrDuplicatePending)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(gorm.ErrDuplicatedKey))
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.True(t, isUniqueViolation(errors.New("UNIQUE constraint failed: requests.submitter_id, requests.kind")))
	assert.False(t, isUniqueViolation(errors.New("disk full")))
}
