package registry

import (
	"fmt"
	"strings"
)

// ValidationError reports a business-rule violation keyed by the
// human-facing attribute it concerns, e.g. a pod name collision surfaces
// under "name" even though the unique index lives on normalized_name.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// OwnershipError is returned when a pod exists but the acting owner is not
// among its owners. It carries the real owner names so the caller can tell
// "exists but you don't own it" (403) apart from "doesn't exist" (404).
type OwnershipError struct {
	PodName    string
	OwnerNames []string
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("pod %s is owned by %s", e.PodName, strings.Join(e.OwnerNames, ", "))
}

// VersionPublishedError is returned when a version that already has at
// least one commit is pushed again. The caller maps it to a 409 with a
// Location header pointing at the existing resource.
type VersionPublishedError struct {
	PodName     string
	VersionName string
}

func (e *VersionPublishedError) Error() string {
	return fmt.Sprintf("version %s of pod %s is already published", e.VersionName, e.PodName)
}

// Location returns the path of the conflicting resource.
func (e *VersionPublishedError) Location() string {
	return "/" + e.PodName + "/versions/" + e.VersionName
}
