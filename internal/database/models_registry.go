package database

import (
	"fmt"

	"staffdesk/internal/models"

	"gorm.io/gorm"
)

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.Request{},
		&models.SideEffect{},
		&models.RoleChange{},
	}
}

// pendingUniqueIndex backs the one-pending-per-submitter-and-kind rule.
// AutoMigrate cannot express partial indexes, so auto mode creates it here.
const pendingUniqueIndex = `CREATE UNIQUE INDEX IF NOT EXISTS ux_requests_pending_submitter_kind
	ON requests (submitter_id, kind)
	WHERE status = 'pending'`

// EnsureIndexes creates the indexes AutoMigrate cannot derive from struct tags.
func EnsureIndexes(db *gorm.DB) error {
	if err := db.Exec(pendingUniqueIndex).Error; err != nil {
		return fmt.Errorf("create pending unique index: %w", err)
	}
	return nil
}
