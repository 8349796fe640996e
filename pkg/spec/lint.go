package spec

import (
	"fmt"
	"regexp"

	mapset "github.com/deckarep/golang-set/v2"
)

// prepareCommandAllowList names the pods that predate the prepare-command
// ban and keep the legacy exemption. Everyone else gets an error: a
// prepare command runs arbitrary shell during install.
var prepareCommandAllowList = mapset.NewSet(
	"Bolts",
	"LevelDB",
	"OpenSSL",
	"couchbase-lite-ios",
	"realm-core",
)

// knownAttributes are the top-level spec keys lint recognizes. Anything
// else yields an "unrecognized attribute" warning.
var knownAttributes = mapset.NewSet(
	"name", "version", "summary", "description", "homepage", "license",
	"authors", "source", "source_files", "platforms", "dependencies",
	"frameworks", "libraries", "requires_arc", "prepare_command",
	"swift_version", "module_name",
	"social_media_url", "screenshots", "documentation_url", "resources",
	"vendored_frameworks", "vendored_libraries", "subspecs",
	"default_subspecs", "deprecated", "deprecated_in_favor_of",
)

// benignWarning is a known-noise warning filtered out before validity is
// computed. The attribute is emitted by a widely deployed client and is
// not a real defect.
const benignWarning = "Unrecognized attribute `pushed_with_swift_version`"

var (
	namePattern    = regexp.MustCompile(`^[A-Za-z0-9+_.-]+$`)
	versionPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*([-+][0-9A-Za-z.-]+)?$`)
)

// LintResult holds the structured warnings and errors of one lint run.
type LintResult struct {
	Warnings []string `json:"warnings"`
	Errors   []string `json:"errors"`
}

// ValidationErrors runs the structural rules plus the prepare-command
// policy and returns the surviving warnings and errors.
func (s *Specification) ValidationErrors() LintResult {
	var result LintResult

	addError := func(format string, args ...any) {
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}
	addWarning := func(format string, args ...any) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(format, args...))
	}

	name := s.Name()
	switch {
	case name == "":
		addError("attribute `name` is required")
	case !namePattern.MatchString(name):
		addError("attribute `name` contains invalid characters")
	}

	version := s.Version()
	switch {
	case version == "":
		addError("attribute `version` is required")
	case !versionPattern.MatchString(version):
		addError("attribute `version` is not a valid version string")
	}

	if s.Summary() == "" {
		addError("attribute `summary` is required")
	}
	if _, ok := s.attrs["license"]; !ok {
		addWarning("attribute `license` is missing")
	}
	if _, ok := s.attrs["authors"]; !ok {
		addWarning("attribute `authors` is missing")
	}
	if s.Source() == nil {
		addError("attribute `source` is required")
	} else if s.HTTPSource() == "" && s.GitSource() == "" && s.HgSource() == "" {
		addError("attribute `source` must declare an http, git, or hg location")
	}

	if s.PrepareCommand() != "" && !prepareCommandAllowList.Contains(name) {
		addError("attribute `prepare_command` is not allowed")
	}

	for key := range s.attrs {
		if !knownAttributes.Contains(key) {
			addWarning("Unrecognized attribute `%s`", key)
		}
	}

	result.Warnings = filterBenign(result.Warnings)
	return result
}

// Lint reports whether the spec passes validation. With allowWarnings
// unset, any surviving warning fails validation alongside hard errors.
func (s *Specification) Lint(allowWarnings bool) bool {
	result := s.ValidationErrors()
	if len(result.Errors) > 0 {
		return false
	}
	if !allowWarnings && len(result.Warnings) > 0 {
		return false
	}
	return true
}

func filterBenign(warnings []string) []string {
	filtered := warnings[:0]
	for _, w := range warnings {
		if w == benignWarning {
			continue
		}
		filtered = append(filtered, w)
	}
	return filtered
}
