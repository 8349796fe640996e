// Package spec parses and validates pod specifications: structural lint,
// the prepare-command policy, and source reachability checks.
package spec

import (
	"encoding/json"
	"fmt"
)

// Specification is a parsed pod spec. The raw attribute map is retained so
// the pretty-printed form written to the repository round-trips unknown
// keys.
type Specification struct {
	attrs map[string]any
}

// Parse decodes a raw JSON spec. Malformed JSON or a non-object root yield
// nil rather than an error; the caller turns that into a 400.
func Parse(raw []byte) *Specification {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	attrs, ok := decoded.(map[string]any)
	if !ok {
		return nil
	}
	return &Specification{attrs: attrs}
}

// Name returns the pod name, or "" when absent.
func (s *Specification) Name() string {
	return s.stringAttr("name")
}

// Version returns the version string, or "" when absent.
func (s *Specification) Version() string {
	return s.stringAttr("version")
}

// Summary returns the summary, or "" when absent.
func (s *Specification) Summary() string {
	return s.stringAttr("summary")
}

// PrepareCommand returns the prepare_command, or "" when absent.
func (s *Specification) PrepareCommand() string {
	return s.stringAttr("prepare_command")
}

// Source returns the source attribute map, or nil when absent.
func (s *Specification) Source() map[string]any {
	source, _ := s.attrs["source"].(map[string]any)
	return source
}

// sourceField returns a string field of the source map.
func (s *Specification) sourceField(key string) string {
	source := s.Source()
	if source == nil {
		return ""
	}
	v, _ := source[key].(string)
	return v
}

// HTTPSource returns the http source URL, or "" when absent.
func (s *Specification) HTTPSource() string { return s.sourceField("http") }

// GitSource returns the git source URL, or "" when absent.
func (s *Specification) GitSource() string { return s.sourceField("git") }

// HgSource returns the hg source URL, or "" when absent.
func (s *Specification) HgSource() string { return s.sourceField("hg") }

// GitTag returns the git tag, or "" when absent.
func (s *Specification) GitTag() string { return s.sourceField("tag") }

// GitBranch returns the git branch, or "" when absent.
func (s *Specification) GitBranch() string { return s.sourceField("branch") }

// GitCommit returns the git commit, or "" when absent.
func (s *Specification) GitCommit() string { return s.sourceField("commit") }

// PrettyJSON returns the spec as indented JSON, the form durably stored on
// commits and written to the repository.
func (s *Specification) PrettyJSON() (string, error) {
	out, err := json.MarshalIndent(s.attrs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("pretty-print spec: %w", err)
	}
	return string(out) + "\n", nil
}

// FilePath returns the repository path the spec file lives at,
// e.g. "Specs/Foo/1.0.0/Foo.podspec.json".
func (s *Specification) FilePath() string {
	return fmt.Sprintf("Specs/%s/%s/%s.podspec.json", s.Name(), s.Version(), s.Name())
}

func (s *Specification) stringAttr(key string) string {
	v, _ := s.attrs[key].(string)
	return v
}
