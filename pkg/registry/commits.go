package registry

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CommitStore provides database operations for commits.
type CommitStore struct {
	db   *gorm.DB
	pods *PodStore
}

// NewCommitStore creates a new CommitStore.
func NewCommitStore(db *gorm.DB, pods *PodStore) *CommitStore {
	return &CommitStore{db: db, pods: pods}
}

// FindBySHA looks up the commit with the given sha on a version.
// Returns nil, nil if absent.
func (s *CommitStore) FindBySHA(version *PodVersion, sha string) (*Commit, error) {
	var commit Commit
	err := s.db.Where("pod_version_id = ? AND sha = ?", version.ID, sha).First(&commit).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find commit by sha: %w", err)
	}
	return &commit, nil
}

// ListByVersion returns the commits of a version, oldest first.
func (s *CommitStore) ListByVersion(version *PodVersion) ([]Commit, error) {
	var commits []Commit
	err := s.db.Where("pod_version_id = ?", version.ID).Order("created_at ASC").Find(&commits).Error
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	return commits, nil
}

// Create records a push commit (Imported=false) against the version and
// updates the version's commit_sha to point at it. The sha must be exactly
// 40 lowercase hex characters.
func (s *CommitStore) Create(version *PodVersion, committer *Owner, sha, specData string) (*Commit, error) {
	commit, _, err := s.FindOrCreateBySHA(version, committer, sha, specData, false)
	return commit, err
}

// FindOrCreateBySHA records a commit against the version unless one with
// the same sha already exists, in which case the existing row is returned.
// The same sha is never duplicated on a version; concurrent creations race
// at the (pod_version_id, sha) unique index and the loser falls back to the
// winner's row. The version's commit_sha always ends up at sha.
func (s *CommitStore) FindOrCreateBySHA(version *PodVersion, committer *Owner, sha, specData string, imported bool) (*Commit, bool, error) {
	if !ValidSHA(sha) {
		return nil, false, &ValidationError{Field: "sha", Message: "must be 40 lowercase hex characters"}
	}

	existing, err := s.FindBySHA(version, sha)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	commit := &Commit{
		ID:                uuid.New().String(),
		PodVersionID:      version.ID,
		CommitterID:       committer.ID,
		SHA:               sha,
		SpecificationData: specData,
		Imported:          imported,
	}
	if err := s.db.Create(commit).Error; err != nil {
		raceExisting, lookupErr := s.FindBySHA(version, sha)
		if lookupErr == nil && raceExisting != nil {
			return raceExisting, false, nil
		}
		return nil, false, fmt.Errorf("create commit: %w", err)
	}

	if err := s.pods.SetVersionCommitSHA(version, sha); err != nil {
		return nil, false, err
	}
	return commit, true, nil
}
