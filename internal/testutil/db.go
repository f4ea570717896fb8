// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"staffdesk/internal/config"
	"staffdesk/internal/database"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDB returns an in-memory SQLite database with the workflow schema applied.
// The pool is pinned to one connection so every query sees the same database.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), database.GormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	cfg := &config.Config{DBDriver: database.DriverSQLite, Env: "test"}
	require.NoError(t, database.ApplySchema(context.Background(), db, cfg))
	return db
}

// Policy is a policy table covering every kind. Role ids:
//
//	100 staff member, 200 senior staff, 300 admin, 400 community member,
//	500 infraction staff, 600 peer reviewer, 700 promotion officer.
const Policy = `
policies:
  loa_submit: ["100", "200"]
  loa_review: ["200"]
  appeal_submit: []
  appeal_review: ["200"]
  infraction_submit: ["500"]
  infraction_review: ["200"]
  review_submit: ["600"]
  review_review: ["200"]
  staff: ["100", "200", "500"]
  history_view: ["200"]
  admin: ["300"]
  infraction_revoke: ["100", "500"]
  promotion: ["300", "700"]
  role_manage: ["300", "700"]
roles:
  leave: "900"
  suspension: "901"
open_policies: [appeal_submit]
`

// WritePolicy writes body to a temporary policies.yml and returns its path.
func WritePolicy(t testing.TB, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}
