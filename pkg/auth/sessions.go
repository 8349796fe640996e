package auth

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/podindex/trunk/pkg/registry"
)

// SessionConfig controls session lifetimes.
type SessionConfig struct {
	ValidFor time.Duration // How long a session lives from creation or last use. Default 128 days.
}

// DefaultSessionConfig returns the default session configuration.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{ValidFor: 128 * 24 * time.Hour}
}

// SessionConfigFromEnv loads config from environment variables.
// TRUNK_SESSION_VALID_DAYS
func SessionConfigFromEnv() *SessionConfig {
	cfg := DefaultSessionConfig()
	if v := os.Getenv("TRUNK_SESSION_VALID_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ValidFor = time.Duration(n) * 24 * time.Hour
		}
	}
	return cfg
}

// SessionStore issues, verifies, and prolongs sessions.
type SessionStore struct {
	db  *gorm.DB
	cfg *SessionConfig
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(db *gorm.DB, cfg *SessionConfig) *SessionStore {
	if cfg == nil {
		cfg = DefaultSessionConfig()
	}
	return &SessionStore{db: db, cfg: cfg}
}

// tokenAttempts bounds collision retries on the unique token columns.
const tokenAttempts = 5

// Create issues a new unverified session for owner. Tokens are random hex
// and collision-checked: a create that trips either unique token index is
// retried with fresh tokens.
func (s *SessionStore) Create(owner *registry.Owner, description, fromIP string) (*registry.Session, error) {
	var lastErr error
	for attempt := 0; attempt < tokenAttempts; attempt++ {
		token, err := GenerateToken(SessionTokenLength)
		if err != nil {
			return nil, err
		}
		verification, err := GenerateToken(VerificationTokenLength)
		if err != nil {
			return nil, err
		}

		session := &registry.Session{
			ID:                uuid.New().String(),
			OwnerID:           owner.ID,
			Token:             token,
			VerificationToken: &verification,
			Verified:          false,
			ValidUntil:        time.Now().Add(s.cfg.ValidFor),
			CreatedFromIP:     fromIP,
			Description:       description,
		}
		if err := s.db.Create(session).Error; err != nil {
			if !s.tokenCollision(token, verification) {
				return nil, fmt.Errorf("create session: %w", err)
			}
			lastErr = err
			continue
		}
		return session, nil
	}
	return nil, fmt.Errorf("create session: token collisions after %d attempts: %w", tokenAttempts, lastErr)
}

// tokenCollision reports whether another session already holds either
// token, distinguishing a lost race on the unique token indexes from a
// real database failure, which is not worth retrying.
func (s *SessionStore) tokenCollision(token, verification string) bool {
	var count int64
	err := s.db.Model(&registry.Session{}).
		Where("token = ? OR verification_token = ?", token, verification).
		Count(&count).Error
	return err == nil && count > 0
}

// Verify activates the session holding the given verification token and
// nulls the token out. Returns nil, nil if no session matches.
func (s *SessionStore) Verify(verificationToken string) (*registry.Session, error) {
	var session registry.Session
	err := s.db.Where("verification_token = ?", verificationToken).First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find session by verification token: %w", err)
	}
	updates := map[string]any{
		"verified":           true,
		"verification_token": nil,
	}
	if err := s.db.Model(&session).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("verify session: %w", err)
	}
	session.Verified = true
	session.VerificationToken = nil
	return &session, nil
}

// FindActiveByToken resolves a bearer token to a verified, unexpired
// session with its owner preloaded, prolonging the expiry as a side effect
// of the authenticated use. Returns nil, nil when the token does not
// authenticate.
func (s *SessionStore) FindActiveByToken(token string) (*registry.Session, error) {
	var session registry.Session
	err := s.db.Preload("Owner").Where("token = ?", token).First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find session by token: %w", err)
	}
	if !session.Active(time.Now()) {
		return nil, nil
	}
	if err := s.Prolong(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Prolong pushes the session expiry forward from now.
func (s *SessionStore) Prolong(session *registry.Session) error {
	until := time.Now().Add(s.cfg.ValidFor)
	if err := s.db.Model(session).Update("valid_until", until).Error; err != nil {
		return fmt.Errorf("prolong session: %w", err)
	}
	session.ValidUntil = until
	return nil
}

// ListByOwner returns an owner's sessions, newest first.
func (s *SessionStore) ListByOwner(owner *registry.Owner) ([]registry.Session, error) {
	var sessions []registry.Session
	err := s.db.Where("owner_id = ?", owner.ID).Order("created_at DESC").Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Destroy deletes one session.
func (s *SessionStore) Destroy(session *registry.Session) error {
	if err := s.db.Delete(session).Error; err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

// DestroyAll deletes every session of an owner.
func (s *SessionStore) DestroyAll(owner *registry.Owner) error {
	if err := s.db.Where("owner_id = ?", owner.ID).Delete(&registry.Session{}).Error; err != nil {
		return fmt.Errorf("destroy sessions: %w", err)
	}
	return nil
}
