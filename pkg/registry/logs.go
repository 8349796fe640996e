package registry

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LogStore appends entries to the audit trail. Entries are write-once;
// nothing here updates or deletes them.
type LogStore struct {
	db *gorm.DB
}

// NewLogStore creates a new LogStore.
func NewLogStore(db *gorm.DB) *LogStore {
	return &LogStore{db: db}
}

// Append writes one log message. versionID and ownerID may be empty when
// the message is not tied to a version or owner.
func (s *LogStore) Append(level LogLevel, message, data, versionID, ownerID string) (*LogMessage, error) {
	msg := &LogMessage{
		ID:      uuid.New().String(),
		Level:   level,
		Message: message,
		Data:    data,
	}
	if versionID != "" {
		msg.PodVersionID = &versionID
	}
	if ownerID != "" {
		msg.OwnerID = &ownerID
	}
	if err := s.db.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("append log message: %w", err)
	}
	return msg, nil
}

// ListByVersion returns the log messages of a version, oldest first.
func (s *LogStore) ListByVersion(versionID string) ([]LogMessage, error) {
	var messages []LogMessage
	err := s.db.Where("pod_version_id = ?", versionID).Order("created_at ASC").Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list log messages: %w", err)
	}
	return messages, nil
}
