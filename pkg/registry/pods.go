package registry

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PodStore provides database operations for pods and their versions.
type PodStore struct {
	db     *gorm.DB
	owners *OwnerStore
}

// NewPodStore creates a new PodStore.
func NewPodStore(db *gorm.DB, owners *OwnerStore) *PodStore {
	return &PodStore{db: db, owners: owners}
}

// FindByName looks up a pod by its normalized name. Deleted pods are
// excluded unless includeDeleted is set. Returns nil, nil if absent.
func (s *PodStore) FindByName(name string, includeDeleted bool) (*Pod, error) {
	query := s.db.Preload("Owners").Where("normalized_name = ?", NormalizePodName(name))
	if !includeDeleted {
		query = query.Where("deleted = ?", false)
	}
	var pod Pod
	err := query.First(&pod).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find pod by name: %w", err)
	}
	return &pod, nil
}

// FindByNameAndOwner looks up a pod by name, additionally requiring that
// owner is among its owners. Returns nil, nil when no pod exists, and an
// OwnershipError naming the real owners when the pod exists under someone
// else. That distinction is what lets callers answer 404 versus 403.
// Deleted pods are included: a deleted pod still holds its name and its
// owner list, and a re-push by an owner revives it.
func (s *PodStore) FindByNameAndOwner(name string, owner *Owner) (*Pod, error) {
	pod, err := s.FindByName(name, true)
	if err != nil {
		return nil, err
	}
	if pod == nil {
		return nil, nil
	}
	for _, o := range pod.Owners {
		if o.ID == owner.ID {
			return pod, nil
		}
	}
	names := make([]string, 0, len(pod.Owners))
	for _, o := range pod.Owners {
		if o.Name != "" {
			names = append(names, o.Name)
		} else {
			names = append(names, o.Email)
		}
	}
	return nil, &OwnershipError{PodName: pod.Name, OwnerNames: names}
}

// Create registers a new pod owned by owner. Name uniqueness is enforced on
// the normalized (lowercased) form; a collision surfaces as a
// ValidationError keyed by the human-facing "name" attribute.
func (s *PodStore) Create(name string, owner *Owner) (*Pod, error) {
	pod := &Pod{
		ID:             uuid.New().String(),
		Name:           name,
		NormalizedName: NormalizePodName(name),
		Owners:         []*Owner{owner},
	}
	if err := s.db.Create(pod).Error; err != nil {
		existing, lookupErr := s.FindByName(name, true)
		if lookupErr == nil && existing != nil {
			return nil, &ValidationError{Field: "name", Message: "is already taken"}
		}
		return nil, fmt.Errorf("create pod: %w", err)
	}
	return pod, nil
}

// AddOwner attaches owner to the pod. If the pod was held by the sentinel
// unclaimed owner, the sentinel is detached in the same step.
func (s *PodStore) AddOwner(pod *Pod, owner *Owner) error {
	if err := s.db.Model(pod).Association("Owners").Append(owner); err != nil {
		return fmt.Errorf("add owner: %w", err)
	}
	if !owner.Unclaimed() {
		for _, o := range pod.Owners {
			if o.Unclaimed() {
				if err := s.db.Model(pod).Association("Owners").Delete(o); err != nil {
					return fmt.Errorf("detach unclaimed owner: %w", err)
				}
			}
		}
	}
	return s.reloadOwners(pod)
}

// RemoveOwner detaches owner from the pod. A pod must never be observable
// with zero owners: removing the last one attaches the unclaimed sentinel.
func (s *PodStore) RemoveOwner(pod *Pod, owner *Owner) error {
	if err := s.db.Model(pod).Association("Owners").Delete(owner); err != nil {
		return fmt.Errorf("remove owner: %w", err)
	}
	count := s.db.Model(pod).Association("Owners").Count()
	if count == 0 {
		unclaimed, err := s.owners.Unclaimed()
		if err != nil {
			return err
		}
		if err := s.db.Model(pod).Association("Owners").Append(unclaimed); err != nil {
			return fmt.Errorf("attach unclaimed owner: %w", err)
		}
	}
	return s.reloadOwners(pod)
}

func (s *PodStore) reloadOwners(pod *Pod) error {
	var fresh Pod
	if err := s.db.Preload("Owners").First(&fresh, "id = ?", pod.ID).Error; err != nil {
		return fmt.Errorf("reload pod owners: %w", err)
	}
	pod.Owners = fresh.Owners
	return nil
}

// FindVersion looks up a version of a pod by name. Returns nil, nil if
// absent. Deleted versions are excluded.
func (s *PodStore) FindVersion(pod *Pod, name string) (*PodVersion, error) {
	return s.findVersion(pod, name, false)
}

func (s *PodStore) findVersion(pod *Pod, name string, includeDeleted bool) (*PodVersion, error) {
	query := s.db.Where("pod_id = ? AND name = ?", pod.ID, name)
	if !includeDeleted {
		query = query.Where("deleted = ?", false)
	}
	var version PodVersion
	err := query.First(&version).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find version: %w", err)
	}
	return &version, nil
}

// ListVersions returns the pod's versions, oldest first. Deleted versions
// are excluded unless includeDeleted is set.
func (s *PodStore) ListVersions(pod *Pod, includeDeleted bool) ([]PodVersion, error) {
	query := s.db.Where("pod_id = ?", pod.ID).Order("created_at ASC")
	if !includeDeleted {
		query = query.Where("deleted = ?", false)
	}
	var versions []PodVersion
	if err := query.Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

// VersionPublished reports whether the version has at least one commit.
func (s *PodStore) VersionPublished(version *PodVersion) (bool, error) {
	var count int64
	if err := s.db.Model(&Commit{}).Where("pod_version_id = ?", version.ID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count commits: %w", err)
	}
	return count > 0, nil
}

// FindOrCreateVersion reserves a version slot for the pod. The operation is
// idempotent per (pod, name): an existing unpublished version is returned
// as-is so a retry reuses the same placeholder, and only a live, already
// published version is rejected, with a VersionPublishedError the caller
// maps to a 409. A soft-deleted row is revived and reused; the unique
// (pod_id, name) index covers deleted rows, so the slot must come back
// rather than collide forever. Concurrent creations race at that index;
// the loser falls back to the winner's row.
func (s *PodStore) FindOrCreateVersion(pod *Pod, name string) (*PodVersion, bool, error) {
	existing, err := s.findVersion(pod, name, true)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		version, err := s.reuseVersion(pod, existing)
		return version, false, err
	}

	version := &PodVersion{
		ID:    uuid.New().String(),
		PodID: pod.ID,
		Name:  name,
	}
	if err := s.db.Create(version).Error; err != nil {
		// Lost the race on the unique index; the winner's row is the
		// placeholder we reuse, unless it is live and published.
		raceExisting, lookupErr := s.findVersion(pod, name, true)
		if lookupErr == nil && raceExisting != nil {
			reused, reuseErr := s.reuseVersion(pod, raceExisting)
			return reused, false, reuseErr
		}
		return nil, false, fmt.Errorf("create version: %w", err)
	}
	if err := s.revivePod(pod); err != nil {
		return nil, false, err
	}
	return version, true, nil
}

// reuseVersion returns an existing row as the reservation placeholder.
// Re-pushing a soft-deleted version is the undeletion path: the row and
// its pod come back live and the new commit republishes it. Only a live
// published version is a conflict.
func (s *PodStore) reuseVersion(pod *Pod, existing *PodVersion) (*PodVersion, error) {
	if existing.Deleted {
		if err := s.MarkVersionDeleted(existing, false); err != nil {
			return nil, err
		}
		if err := s.revivePod(pod); err != nil {
			return nil, err
		}
		return existing, nil
	}
	published, err := s.VersionPublished(existing)
	if err != nil {
		return nil, err
	}
	if published {
		return nil, &VersionPublishedError{PodName: pod.Name, VersionName: existing.Name}
	}
	if err := s.revivePod(pod); err != nil {
		return nil, err
	}
	return existing, nil
}

// revivePod clears the deleted flag: attaching a live version to a
// soft-deleted pod makes the pod visible again.
func (s *PodStore) revivePod(pod *Pod) error {
	if !pod.Deleted {
		return nil
	}
	return s.MarkPodDeleted(pod, false)
}

// EnsureVersion is the import-path variant of FindOrCreateVersion: it
// returns the existing version whether or not it is published, since a
// webhook import of an already-published version is a legitimate
// reconciliation, not a conflict. Deleted rows revive here too; a spec
// file reappearing in the repository means the version is back.
func (s *PodStore) EnsureVersion(pod *Pod, name string) (*PodVersion, bool, error) {
	existing, err := s.findVersion(pod, name, true)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if existing.Deleted {
			if err := s.MarkVersionDeleted(existing, false); err != nil {
				return nil, false, err
			}
		}
		if err := s.revivePod(pod); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	version := &PodVersion{
		ID:    uuid.New().String(),
		PodID: pod.ID,
		Name:  name,
	}
	if err := s.db.Create(version).Error; err != nil {
		raceExisting, lookupErr := s.findVersion(pod, name, true)
		if lookupErr == nil && raceExisting != nil {
			if raceExisting.Deleted {
				if markErr := s.MarkVersionDeleted(raceExisting, false); markErr != nil {
					return nil, false, markErr
				}
			}
			if reviveErr := s.revivePod(pod); reviveErr != nil {
				return nil, false, reviveErr
			}
			return raceExisting, false, nil
		}
		return nil, false, fmt.Errorf("create version: %w", err)
	}
	if err := s.revivePod(pod); err != nil {
		return nil, false, err
	}
	return version, true, nil
}

// SetVersionCommitSHA records the sha of the most recently applied commit
// on the version row.
func (s *PodStore) SetVersionCommitSHA(version *PodVersion, sha string) error {
	if !ValidSHA(sha) {
		return &ValidationError{Field: "sha", Message: "must be 40 lowercase hex characters"}
	}
	if err := s.db.Model(version).Update("commit_sha", sha).Error; err != nil {
		return fmt.Errorf("set version commit sha: %w", err)
	}
	version.CommitSHA = &sha
	return nil
}

// DeleteVersion removes a version along with its commits and log messages.
// If this empties the pod's live version set, the pod is marked deleted.
func (s *PodStore) DeleteVersion(pod *Pod, version *PodVersion) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("pod_version_id = ?", version.ID).Delete(&Commit{}).Error; err != nil {
			return fmt.Errorf("delete commits: %w", err)
		}
		if err := tx.Where("pod_version_id = ?", version.ID).Delete(&LogMessage{}).Error; err != nil {
			return fmt.Errorf("delete log messages: %w", err)
		}
		if err := tx.Delete(version).Error; err != nil {
			return fmt.Errorf("delete version: %w", err)
		}
		var remaining int64
		if err := tx.Model(&PodVersion{}).Where("pod_id = ? AND deleted = ?", pod.ID, false).Count(&remaining).Error; err != nil {
			return fmt.Errorf("count remaining versions: %w", err)
		}
		if remaining == 0 {
			if err := tx.Model(pod).Update("deleted", true).Error; err != nil {
				return fmt.Errorf("mark pod deleted: %w", err)
			}
			pod.Deleted = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

// MarkVersionDeleted soft-deletes a version without dropping its commits.
// Used by the API delete operation, where the audit trail must survive.
func (s *PodStore) MarkVersionDeleted(version *PodVersion, deleted bool) error {
	if err := s.db.Model(version).Update("deleted", deleted).Error; err != nil {
		return fmt.Errorf("mark version deleted: %w", err)
	}
	version.Deleted = deleted
	return nil
}

// MarkPodDeleted soft-deletes or undeletes a pod.
func (s *PodStore) MarkPodDeleted(pod *Pod, deleted bool) error {
	if err := s.db.Model(pod).Update("deleted", deleted).Error; err != nil {
		return fmt.Errorf("mark pod deleted: %w", err)
	}
	pod.Deleted = deleted
	return nil
}
