package registry

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OwnerStore provides database operations for owners.
type OwnerStore struct {
	db *gorm.DB
}

// NewOwnerStore creates a new OwnerStore.
func NewOwnerStore(db *gorm.DB) *OwnerStore {
	return &OwnerStore{db: db}
}

// FindByEmail looks up an owner by normalized email.
// Returns nil, nil if no owner exists.
func (s *OwnerStore) FindByEmail(email string) (*Owner, error) {
	var owner Owner
	err := s.db.Where("email = ?", NormalizeEmail(email)).First(&owner).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find owner by email: %w", err)
	}
	return &owner, nil
}

// FindByID looks up an owner by primary key. Returns nil, nil if absent.
func (s *OwnerStore) FindByID(id string) (*Owner, error) {
	var owner Owner
	err := s.db.Where("id = ?", id).First(&owner).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find owner by id: %w", err)
	}
	return &owner, nil
}

// Create registers a new owner. The email is stored normalized and must be
// unique; a collision surfaces as a ValidationError keyed "email".
func (s *OwnerStore) Create(email, name string) (*Owner, error) {
	owner := &Owner{
		ID:    uuid.New().String(),
		Email: NormalizeEmail(email),
		Name:  name,
	}
	if err := s.db.Create(owner).Error; err != nil {
		existing, lookupErr := s.FindByEmail(email)
		if lookupErr == nil && existing != nil {
			return nil, &ValidationError{Field: "email", Message: "is already taken"}
		}
		return nil, fmt.Errorf("create owner: %w", err)
	}
	return owner, nil
}

// FindOrCreateByEmail returns the owner with the given email, creating one
// with the given name if absent. Safe under concurrent invocation: a create
// that loses the race on the unique email index falls back to the winner.
func (s *OwnerStore) FindOrCreateByEmail(email, name string) (*Owner, error) {
	existing, err := s.FindByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	owner := &Owner{
		ID:    uuid.New().String(),
		Email: NormalizeEmail(email),
		Name:  name,
	}
	if err := s.db.Create(owner).Error; err != nil {
		raceExisting, lookupErr := s.FindByEmail(email)
		if lookupErr == nil && raceExisting != nil {
			return raceExisting, nil
		}
		return nil, fmt.Errorf("create owner: %w", err)
	}
	return owner, nil
}

// Unclaimed returns the sentinel unclaimed owner, creating it on first use.
func (s *OwnerStore) Unclaimed() (*Owner, error) {
	return s.FindOrCreateByEmail(UnclaimedOwnerEmail, UnclaimedOwnerName)
}
