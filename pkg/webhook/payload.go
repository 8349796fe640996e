// Package webhook consumes repository push events and reconciles pod,
// version, and commit state asynchronously, independent of the push
// pipeline.
package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// mergeCommitPrefix identifies merge commits, which are never imported on
// their own; only the commits they merge are.
const mergeCommitPrefix = "Merge pull request #"

// specFileSuffixes are the file names the importer cares about.
var specFileSuffixes = []string{".podspec.json", ".podspec"}

// Author is the human author of a pushed commit. The author, not the
// committer, is authoritative for owner resolution: CI and bot committers
// routinely differ from the person who wrote the change.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// PushedCommit is one commit in a push event.
type PushedCommit struct {
	ID       string   `json:"id"`
	Message  string   `json:"message"`
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
	Author   Author   `json:"author"`
}

// Merge reports whether the commit is a merge commit.
func (c *PushedCommit) Merge() bool {
	return strings.HasPrefix(c.Message, mergeCommitPrefix)
}

// PushPayload is the push-event shape delivered by the remote repository.
type PushPayload struct {
	Ref        string         `json:"ref"`
	HeadCommit *PushedCommit  `json:"head_commit"`
	Commits    []PushedCommit `json:"commits"`
}

// ParsePayload decodes the JSON payload field of a webhook delivery.
// A decode failure returns nil (the HTTP layer answers 415); a payload
// that decodes but lacks a ref returns an error (422).
func ParsePayload(raw string) (*PushPayload, error) {
	var payload PushPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, nil
	}
	if payload.Ref == "" {
		return nil, fmt.Errorf("payload has no ref")
	}
	return &payload, nil
}

// SpecFile reports whether path names a spec file.
func SpecFile(path string) bool {
	for _, suffix := range specFileSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// podVersionFromPath extracts the pod name and version from a spec file
// path laid out as Specs/{Name}/{Version}/{Name}.podspec.json.
func podVersionFromPath(path string) (name, version string, ok bool) {
	parts := strings.Split(path, "/")
	if len(parts) < 4 || parts[0] != "Specs" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
