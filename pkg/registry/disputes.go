package registry

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DisputeStore provides database operations for ownership disputes.
type DisputeStore struct {
	db *gorm.DB
}

// NewDisputeStore creates a new DisputeStore.
func NewDisputeStore(db *gorm.DB) *DisputeStore {
	return &DisputeStore{db: db}
}

// Create opens a dispute raised by claimer.
func (s *DisputeStore) Create(claimer *Owner, message string) (*Dispute, error) {
	dispute := &Dispute{
		ID:        uuid.New().String(),
		ClaimerID: claimer.ID,
		Message:   message,
	}
	if err := s.db.Create(dispute).Error; err != nil {
		return nil, fmt.Errorf("create dispute: %w", err)
	}
	return dispute, nil
}

// FindByID looks up a dispute. Returns nil, nil if absent.
func (s *DisputeStore) FindByID(id string) (*Dispute, error) {
	var dispute Dispute
	err := s.db.Preload("Claimer").Where("id = ?", id).First(&dispute).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find dispute: %w", err)
	}
	return &dispute, nil
}

// List returns disputes, optionally restricted to unsettled ones.
func (s *DisputeStore) List(unsettledOnly bool) ([]Dispute, error) {
	query := s.db.Preload("Claimer").Order("created_at ASC")
	if unsettledOnly {
		query = query.Where("settled = ?", false)
	}
	var disputes []Dispute
	if err := query.Find(&disputes).Error; err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	return disputes, nil
}

// Settle marks a dispute as settled.
func (s *DisputeStore) Settle(dispute *Dispute) error {
	if err := s.db.Model(dispute).Update("settled", true).Error; err != nil {
		return fmt.Errorf("settle dispute: %w", err)
	}
	dispute.Settled = true
	return nil
}
