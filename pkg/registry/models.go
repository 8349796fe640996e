// Package registry holds the relational data model for the package index:
// owners, pods, versions, commits, sessions, and the append-only log trail.
package registry

import (
	"regexp"
	"strings"
	"time"
)

// UnclaimedOwnerEmail is the address of the sentinel owner attached to any
// pod that has no real owner. It is not routable on purpose.
const UnclaimedOwnerEmail = "unclaimed-pods@trunk.invalid"

// UnclaimedOwnerName is the display name of the sentinel owner.
const UnclaimedOwnerName = "Unclaimed Pods"

// shaPattern matches exactly 40 lowercase hex characters.
var shaPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ValidSHA reports whether s is a well-formed commit SHA
// (exactly 40 lowercase hex characters).
func ValidSHA(s string) bool {
	return shaPattern.MatchString(s)
}

// NormalizePodName lowercases a pod name for uniqueness comparison.
// Pod names are unique case-insensitively; the normalized form backs the
// unique index while the original casing is what clients see.
func NormalizePodName(name string) string {
	return strings.ToLower(name)
}

// NormalizeEmail lowercases and trims an owner email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Owner is a registered account that can own pods and hold sessions.
type Owner struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Email     string    `gorm:"column:email;uniqueIndex;not null"`
	Name      string    `gorm:"column:name"`
	Pods      []*Pod    `gorm:"many2many:pod_owners"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Owner) TableName() string { return "owners" }

// Unclaimed reports whether this owner is the sentinel unclaimed owner.
func (o *Owner) Unclaimed() bool {
	return o.Email == UnclaimedOwnerEmail
}

// Pod is a named package in the index.
type Pod struct {
	ID             string       `gorm:"primaryKey;column:id;type:varchar(36)"`
	Name           string       `gorm:"column:name;not null"`
	NormalizedName string       `gorm:"column:normalized_name;uniqueIndex;not null"`
	Deleted        bool         `gorm:"column:deleted;default:false;not null"`
	Owners         []*Owner     `gorm:"many2many:pod_owners"`
	Versions       []PodVersion `gorm:"foreignKey:PodID"`
	CreatedAt      time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (Pod) TableName() string { return "pods" }

// PodVersion is one released version of a pod. It is published once it has
// at least one associated commit.
type PodVersion struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	PodID     string    `gorm:"column:pod_id;uniqueIndex:idx_pod_version,priority:1;not null"`
	Name      string    `gorm:"column:name;uniqueIndex:idx_pod_version,priority:2;not null"`
	Deleted   bool      `gorm:"column:deleted;default:false;not null"`
	CommitSHA *string   `gorm:"column:commit_sha;type:varchar(40)"`
	Commits   []Commit  `gorm:"foreignKey:PodVersionID"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (PodVersion) TableName() string { return "pod_versions" }

// ResourcePath returns the API path of a version given its pod name,
// e.g. "/Foo/versions/1.0.0".
func (v *PodVersion) ResourcePath(podName string) string {
	return "/" + podName + "/versions/" + v.Name
}

// Commit records one successful write of a version's spec data to the
// backing repository. Imported distinguishes webhook-driven writes from
// API-pushed writes.
type Commit struct {
	ID                string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	PodVersionID      string    `gorm:"column:pod_version_id;uniqueIndex:idx_version_sha,priority:1;not null"`
	CommitterID       string    `gorm:"column:committer_id;not null"`
	Committer         *Owner    `gorm:"foreignKey:CommitterID"`
	SHA               string    `gorm:"column:sha;type:varchar(40);uniqueIndex:idx_version_sha,priority:2;not null"`
	SpecificationData string    `gorm:"column:specification_data;type:text"`
	Imported          bool      `gorm:"column:imported;default:false;not null"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (Commit) TableName() string { return "commits" }

// LogLevel classifies a log message.
type LogLevel string

// Log levels.
const (
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// LogMessage is one entry in the append-only audit trail. Entries are never
// mutated; they go away only when their version is deleted.
type LogMessage struct {
	ID           string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	PodVersionID *string   `gorm:"column:pod_version_id;index"`
	OwnerID      *string   `gorm:"column:owner_id;index"`
	Level        LogLevel  `gorm:"column:level;not null"`
	Message      string    `gorm:"column:message;not null"`
	Data         string    `gorm:"column:data;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (LogMessage) TableName() string { return "log_messages" }

// Session is a bearer token tied to an owner. It starts unverified with a
// verification token; once verified it authenticates requests until
// ValidUntil passes. Each authenticated use pushes ValidUntil forward.
type Session struct {
	ID                string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	OwnerID           string    `gorm:"column:owner_id;index;not null"`
	Owner             *Owner    `gorm:"foreignKey:OwnerID"`
	Token             string    `gorm:"column:token;type:varchar(32);uniqueIndex;not null"`
	VerificationToken *string   `gorm:"column:verification_token;type:varchar(8);uniqueIndex"`
	Verified          bool      `gorm:"column:verified;default:false;not null"`
	ValidUntil        time.Time `gorm:"column:valid_until;not null"`
	CreatedFromIP     string    `gorm:"column:created_from_ip"`
	Description       string    `gorm:"column:description"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Session) TableName() string { return "sessions" }

// Active reports whether the session authenticates requests at time now.
func (s *Session) Active(now time.Time) bool {
	return s.Verified && now.Before(s.ValidUntil)
}

// Dispute is raised when a claim over a pod conflicts with existing
// ownership.
type Dispute struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	ClaimerID string    `gorm:"column:claimer_id;not null"`
	Claimer   *Owner    `gorm:"foreignKey:ClaimerID"`
	Message   string    `gorm:"column:message;type:text"`
	Settled   bool      `gorm:"column:settled;default:false;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (Dispute) TableName() string { return "disputes" }
