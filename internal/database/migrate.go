package database

import (
	"fmt"

	"gorm.io/gorm"
)

// activeApplicationIndex keeps a single non-withdrawn application per (user, job).
// Both postgres and sqlite accept the partial index syntax.
const activeApplicationIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_applications_active_user_job
ON applications (user_id, job_id) WHERE status <> 'Withdrawn'`

// Models lists every table owned by the service, in migration order.
func Models() []any {
	return []any{
		&User{},
		&Referral{},
		&Job{},
		&Profile{},
		&Application{},
		&Message{},
		&Notification{},
		&ReportedJob{},
		&Feedback{},
	}
}

// Migrate 自动迁移所有模型，并创建 GORM 标签无法表达的部分索引。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec(activeApplicationIndex).Error; err != nil {
		return fmt.Errorf("create active application index: %w", err)
	}
	return nil
}
