package registry

import (
	"fmt"

	"gorm.io/gorm"
)

// AutoMigrate creates or updates all registry tables and makes sure the
// sentinel unclaimed owner exists.
func AutoMigrate(db *gorm.DB) error {
	models := []any{
		&Owner{},
		&Pod{},
		&PodVersion{},
		&Commit{},
		&LogMessage{},
		&Session{},
		&Dispute{},
	}
	for _, m := range models {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("auto-migrate registry: %w", err)
		}
	}
	if _, err := NewOwnerStore(db).Unclaimed(); err != nil {
		return fmt.Errorf("ensure unclaimed owner: %w", err)
	}
	return nil
}
