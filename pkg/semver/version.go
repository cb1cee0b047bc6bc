// Package semver implements the version range engine: semantic version
// parsing and precedence, requirement constraint evaluation with Cargo
// operator semantics, and advisory range matching with provenance.
//
// The engine is pure computation. Nothing here performs I/O or holds state,
// so every operation is deterministic for identical inputs.
package semver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cratewatch/cratewatch/pkg/errors"
)

// Version is a concrete semantic version: major.minor.patch with optional
// prerelease identifiers and build metadata.
type Version struct {
	Major uint64
	Minor uint64
	Patch uint64

	// Pre holds the dot-separated prerelease identifiers, nil for releases.
	Pre []string

	// Build is the build metadata after '+'. It never affects precedence.
	Build string
}

// ParseVersion parses a concrete version. All three numeric fields are
// required; partial versions are only legal inside constraints.
func ParseVersion(s string) (Version, error) {
	const op = "semver.ParseVersion"

	raw := strings.TrimSpace(s)
	if raw == "" {
		return Version{}, errors.ConstraintSyntax(op, s, fmt.Errorf("empty version"))
	}

	var v Version
	rest := raw

	if i := strings.IndexByte(rest, '+'); i >= 0 {
		v.Build = rest[i+1:]
		rest = rest[:i]
		if v.Build == "" {
			return Version{}, errors.ConstraintSyntax(op, s, fmt.Errorf("empty build metadata"))
		}
	}
	if i := strings.IndexByte(rest, '-'); i >= 0 {
		pre := rest[i+1:]
		rest = rest[:i]
		if pre == "" {
			return Version{}, errors.ConstraintSyntax(op, s, fmt.Errorf("empty prerelease"))
		}
		v.Pre = strings.Split(pre, ".")
		for _, id := range v.Pre {
			if id == "" {
				return Version{}, errors.ConstraintSyntax(op, s, fmt.Errorf("empty prerelease identifier"))
			}
		}
	}

	fields := strings.Split(rest, ".")
	if len(fields) != 3 {
		return Version{}, errors.ConstraintSyntax(op, s, fmt.Errorf("expected major.minor.patch, got %d fields", len(fields)))
	}

	var err error
	if v.Major, err = parseNumericField(fields[0]); err != nil {
		return Version{}, errors.ConstraintSyntax(op, s, err)
	}
	if v.Minor, err = parseNumericField(fields[1]); err != nil {
		return Version{}, errors.ConstraintSyntax(op, s, err)
	}
	if v.Patch, err = parseNumericField(fields[2]); err != nil {
		return Version{}, errors.ConstraintSyntax(op, s, err)
	}

	return v, nil
}

// MustParseVersion parses a version and panics on error. Test helper.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func parseNumericField(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty version field")
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("non-numeric version field %q", s)
	}
	return n, nil
}

// String renders the canonical form, e.g. "1.2.3-alpha.1+build5".
func (v Version) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d.%d.%d", v.Major, v.Minor, v.Patch)
	if len(v.Pre) > 0 {
		b.WriteByte('-')
		b.WriteString(strings.Join(v.Pre, "."))
	}
	if v.Build != "" {
		b.WriteByte('+')
		b.WriteString(v.Build)
	}
	return b.String()
}

// IsPrerelease reports whether the version carries prerelease identifiers.
func (v Version) IsPrerelease() bool {
	return len(v.Pre) > 0
}

// CoreEquals reports whether two versions share the same major.minor.patch
// tuple, ignoring prerelease and build.
func (v Version) CoreEquals(w Version) bool {
	return v.Major == w.Major && v.Minor == w.Minor && v.Patch == w.Patch
}

// Compare orders v against w by semantic version precedence: major, minor,
// patch, then prerelease identifiers. A prerelease orders before its
// release. Build metadata is ignored. Returns -1, 0 or +1.
func (v Version) Compare(w Version) int {
	if c := compareUint(v.Major, w.Major); c != 0 {
		return c
	}
	if c := compareUint(v.Minor, w.Minor); c != 0 {
		return c
	}
	if c := compareUint(v.Patch, w.Patch); c != 0 {
		return c
	}
	return comparePrerelease(v.Pre, w.Pre)
}

// Less reports whether v orders before w.
func (v Version) Less(w Version) bool {
	return v.Compare(w) < 0
}

// Equal reports whether v and w have identical precedence. Build metadata
// is ignored, per semantic version rules.
func (v Version) Equal(w Version) bool {
	return v.Compare(w) == 0
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// comparePrerelease orders prerelease identifier lists. Empty (a release)
// orders after any non-empty list. Numeric identifiers compare numerically
// and order before alphanumeric ones; otherwise ASCII order. A shorter list
// that is a prefix of a longer one orders first.
func comparePrerelease(a, b []string) int {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	if len(a) == 0 {
		return 1
	}
	if len(b) == 0 {
		return -1
	}

	for i := 0; i < len(a) && i < len(b); i++ {
		if c := comparePreIdentifier(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func comparePreIdentifier(a, b string) int {
	an, aNum := parsePreNumber(a)
	bn, bNum := parsePreNumber(b)
	switch {
	case aNum && bNum:
		return compareUint(an, bn)
	case aNum:
		return -1
	case bNum:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func parsePreNumber(s string) (uint64, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	return n, err == nil
}
