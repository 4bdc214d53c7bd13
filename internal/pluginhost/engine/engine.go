// Package engine wraps semver parsing and range matching for the manifest
// validator's engine-gating rules and the registry client's version
// selection, grounded on the constraint-matching idiom used elsewhere in
// this codebase's dependency manager (parse version, parse constraint,
// check).
package engine

import (
	"sort"

	"github.com/Masterminds/semver/v3"
)

// ParseVersion parses s as strict semver.
func ParseVersion(s string) (*semver.Version, error) {
	return semver.StrictNewVersion(s)
}

// Satisfies reports whether version satisfies the given semver range
// constraint (e.g. "^1.2.0", "*", ">=1.0.0 <2.0.0").
func Satisfies(version, constraint string) (bool, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, err
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}

// HighestValid returns the highest valid semver string among versions. If
// none parse as valid semver, it falls back to the lexicographically
// greatest string, matching the registry client's documented fallback.
func HighestValid(versions []string) (string, bool) {
	if len(versions) == 0 {
		return "", false
	}

	type parsed struct {
		raw string
		v   *semver.Version
	}
	var valid []parsed
	for _, raw := range versions {
		if v, err := semver.NewVersion(raw); err == nil {
			valid = append(valid, parsed{raw: raw, v: v})
		}
	}

	if len(valid) > 0 {
		sort.Slice(valid, func(i, j int) bool { return valid[i].v.LessThan(valid[j].v) })
		return valid[len(valid)-1].raw, true
	}

	sorted := append([]string(nil), versions...)
	sort.Strings(sorted)
	return sorted[len(sorted)-1], true
}
