package semver

import (
	"fmt"
	"strings"

	"github.com/cratewatch/cratewatch/pkg/errors"
)

// Op is a constraint comparator operator.
type Op uint8

const (
	// OpCaret allows compatible upgrades: the leftmost non-zero field is
	// pinned ("^1.2.3" means ">=1.2.3, <2.0.0").
	OpCaret Op = iota
	// OpTilde allows patch-level upgrades ("~1.2.3" means ">=1.2.3, <1.3.0").
	OpTilde
	// OpExact requires an exact version, or any version inside a partial
	// version's span ("=1.2" means ">=1.2.0, <1.3.0").
	OpExact
	// OpWildcard matches any value in the starred position ("1.2.*").
	OpWildcard
	OpGreater
	OpGreaterEq
	OpLess
	OpLessEq
)

func (o Op) String() string {
	switch o {
	case OpCaret:
		return "^"
	case OpTilde:
		return "~"
	case OpExact:
		return "="
	case OpWildcard:
		return "*"
	case OpGreater:
		return ">"
	case OpGreaterEq:
		return ">="
	case OpLess:
		return "<"
	case OpLessEq:
		return "<="
	default:
		return "?"
	}
}

// comparator is one operator applied to a possibly partial version.
type comparator struct {
	op Op

	major, minor, patch uint64
	minorSet, patchSet  bool
	pre                 []string

	// any is the bare "*" comparator matching every version.
	any bool
}

// Constraint is a parsed requirement expression: one or more comparators
// joined by commas, all of which must hold.
type Constraint struct {
	raw   string
	comps []comparator
}

// ParseConstraint parses a requirement expression. Operators: caret, tilde,
// exact, wildcard, comparisons, and comma-joined conjunctions. A bare
// version defaults to caret, matching Cargo requirement semantics.
func ParseConstraint(s string) (*Constraint, error) {
	return parseConstraint(s, OpCaret)
}

// ParseExactConstraint parses a requirement expression where a bare version
// means exact. Advisory affected ranges use this form: a listed version
// affects only itself unless an operator widens it.
func ParseExactConstraint(s string) (*Constraint, error) {
	return parseConstraint(s, OpExact)
}

func parseConstraint(s string, bareOp Op) (*Constraint, error) {
	const op = "semver.ParseConstraint"

	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil, errors.ConstraintSyntax(op, s, fmt.Errorf("empty constraint"))
	}

	parts := strings.Split(raw, ",")
	comps := make([]comparator, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, errors.ConstraintSyntax(op, s, fmt.Errorf("empty comparator in conjunction"))
		}
		c, err := parseComparator(part, bareOp)
		if err != nil {
			return nil, errors.ConstraintSyntax(op, s, err)
		}
		comps = append(comps, c)
	}

	return &Constraint{raw: raw, comps: comps}, nil
}

// MustParseConstraint parses a constraint and panics on error. Test helper.
func MustParseConstraint(s string) *Constraint {
	c, err := ParseConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the raw expression the constraint was parsed from.
func (c *Constraint) String() string {
	return c.raw
}

func parseComparator(s string, bareOp Op) (comparator, error) {
	c := comparator{}

	switch {
	case strings.HasPrefix(s, ">="):
		c.op = OpGreaterEq
		s = s[2:]
	case strings.HasPrefix(s, "<="):
		c.op = OpLessEq
		s = s[2:]
	case strings.HasPrefix(s, ">"):
		c.op = OpGreater
		s = s[1:]
	case strings.HasPrefix(s, "<"):
		c.op = OpLess
		s = s[1:]
	case strings.HasPrefix(s, "="):
		c.op = OpExact
		s = s[1:]
	case strings.HasPrefix(s, "^"):
		c.op = OpCaret
		s = s[1:]
	case strings.HasPrefix(s, "~"):
		c.op = OpTilde
		s = s[1:]
	default:
		c.op = bareOp
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return c, fmt.Errorf("operator with no version")
	}

	// Bare "*" matches everything.
	if s == "*" || s == "x" || s == "X" {
		if c.op != bareOp && c.op != OpExact {
			return c, fmt.Errorf("wildcard cannot follow operator %q", c.op)
		}
		c.op = OpWildcard
		c.any = true
		return c, nil
	}

	// Strip build metadata; it never affects matching.
	if i := strings.IndexByte(s, '+'); i >= 0 {
		s = s[:i]
		if s == "" {
			return c, fmt.Errorf("empty version before build metadata")
		}
	}

	if i := strings.IndexByte(s, '-'); i >= 0 {
		pre := s[i+1:]
		s = s[:i]
		if pre == "" {
			return c, fmt.Errorf("empty prerelease")
		}
		c.pre = strings.Split(pre, ".")
	}

	fields := strings.Split(s, ".")
	if len(fields) > 3 {
		return c, fmt.Errorf("too many version fields in %q", s)
	}

	sawWildcard := false
	for i, f := range fields {
		isWild := f == "*" || f == "x" || f == "X"
		if sawWildcard && !isWild {
			return c, fmt.Errorf("numeric field after wildcard in %q", s)
		}
		if isWild {
			if i == 0 {
				return c, fmt.Errorf("wildcard major must stand alone")
			}
			sawWildcard = true
			continue
		}
		n, err := parseNumericField(f)
		if err != nil {
			return c, err
		}
		switch i {
		case 0:
			c.major = n
		case 1:
			c.minor = n
			c.minorSet = true
		case 2:
			c.patch = n
			c.patchSet = true
		}
	}

	if sawWildcard {
		if c.op != bareOp && c.op != OpExact && c.op != OpWildcard {
			return c, fmt.Errorf("wildcard cannot follow operator %q", c.op)
		}
		if len(c.pre) > 0 {
			return c, fmt.Errorf("wildcard version cannot carry prerelease")
		}
		c.op = OpWildcard
	}

	if len(c.pre) > 0 && !c.patchSet {
		return c, fmt.Errorf("prerelease requires a full major.minor.patch version")
	}

	return c, nil
}

// base returns the comparator's version with unset fields as zero.
func (c comparator) base() Version {
	return Version{Major: c.major, Minor: c.minor, Patch: c.patch, Pre: c.pre}
}

// upperFor computes the exclusive upper bound of span-style comparators.
func (c comparator) upperFor() Version {
	switch c.op {
	case OpCaret:
		// The leftmost non-zero specified field pins compatibility.
		switch {
		case c.major > 0 || !c.minorSet:
			return Version{Major: c.major + 1}
		case c.minor > 0 || !c.patchSet:
			return Version{Major: c.major, Minor: c.minor + 1}
		default:
			return Version{Major: c.major, Minor: c.minor, Patch: c.patch + 1}
		}
	case OpTilde:
		if c.minorSet {
			return Version{Major: c.major, Minor: c.minor + 1}
		}
		return Version{Major: c.major + 1}
	default: // OpWildcard and partial OpExact spans
		if !c.minorSet {
			return Version{Major: c.major + 1}
		}
		if !c.patchSet {
			return Version{Major: c.major, Minor: c.minor + 1}
		}
		return Version{Major: c.major, Minor: c.minor, Patch: c.patch + 1}
	}
}

// matchesPrecedence evaluates the comparator by pure precedence, without
// the prerelease gating policy.
func (c comparator) matchesPrecedence(v Version) bool {
	if c.any {
		return true
	}
	base := c.base()

	switch c.op {
	case OpExact:
		if c.patchSet {
			return v.Compare(base) == 0
		}
		return v.Compare(base) >= 0 && v.Compare(c.upperFor()) < 0
	case OpCaret, OpTilde, OpWildcard:
		return v.Compare(base) >= 0 && v.Compare(c.upperFor()) < 0
	case OpGreater:
		return v.Compare(base) > 0
	case OpGreaterEq:
		return v.Compare(base) >= 0
	case OpLess:
		return v.Compare(base) < 0
	case OpLessEq:
		return v.Compare(base) <= 0
	default:
		return false
	}
}

// allowsPrerelease reports whether the comparator opts a prerelease version
// in: it carries a prerelease itself and pins the same major.minor.patch.
func (c comparator) allowsPrerelease(v Version) bool {
	return len(c.pre) > 0 && c.patchSet &&
		c.major == v.Major && c.minor == v.Minor && c.patch == v.Patch
}

// Satisfies evaluates a concrete version against the constraint.
//
// Prerelease versions are gated: a prerelease only satisfies the constraint
// when, in addition to precedence, some comparator in the conjunction
// carries a prerelease with the same major.minor.patch tuple. This keeps
// "^1.2.3" from matching "1.2.3-alpha" while "1.2.3-alpha" still matches
// itself.
func (c *Constraint) Satisfies(v Version) bool {
	for _, comp := range c.comps {
		if !comp.matchesPrecedence(v) {
			return false
		}
	}
	if v.IsPrerelease() {
		for _, comp := range c.comps {
			if comp.allowsPrerelease(v) {
				return true
			}
		}
		return false
	}
	return true
}

// MinVersion returns the lowest version the constraint's lower bounds name:
// the base of the first comparator that establishes a lower bound, or the
// zero version when none does. Used to give speculative deep-scan nodes a
// concrete placeholder identity.
func (c *Constraint) MinVersion() Version {
	for _, comp := range c.comps {
		if comp.any {
			continue
		}
		switch comp.op {
		case OpCaret, OpTilde, OpExact, OpWildcard, OpGreaterEq, OpGreater:
			return comp.base()
		}
	}
	return Version{}
}

// Contains evaluates by pure precedence with no prerelease gating. Advisory
// range matching uses this form so a prerelease build inside an affected
// window is never silently skipped.
func (c *Constraint) Contains(v Version) bool {
	for _, comp := range c.comps {
		if !comp.matchesPrecedence(v) {
			return false
		}
	}
	return true
}
