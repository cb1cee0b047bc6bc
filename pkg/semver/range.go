package semver

// Range is one affected-version range from an advisory, kept with the raw
// expression it was parsed from so findings can cite it verbatim.
type Range struct {
	raw        string
	constraint *Constraint
}

// ParseRange parses an advisory affected range. The syntax is the same as
// requirement constraints, but a bare version means exactly that version:
// an advisory listing "1.0.5" affects only 1.0.5.
func ParseRange(s string) (*Range, error) {
	c, err := ParseExactConstraint(s)
	if err != nil {
		return nil, err
	}
	return &Range{raw: s, constraint: c}, nil
}

// MustParseRange parses a range and panics on error. Test helper.
func MustParseRange(s string) *Range {
	r, err := ParseRange(s)
	if err != nil {
		panic(err)
	}
	return r
}

// String returns the raw range expression.
func (r *Range) String() string {
	return r.raw
}

// Contains reports whether the version falls inside the range. Matching is
// by pure precedence: prerelease builds inside an affected window count as
// affected.
func (r *Range) Contains(v Version) bool {
	return r.constraint.Contains(v)
}

// RangeSet is the ordered set of affected ranges from a single advisory.
type RangeSet struct {
	ranges []*Range
}

// ParseRangeSet parses each expression into a range, preserving order.
func ParseRangeSet(exprs []string) (*RangeSet, error) {
	ranges := make([]*Range, 0, len(exprs))
	for _, expr := range exprs {
		r, err := ParseRange(expr)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return &RangeSet{ranges: ranges}, nil
}

// Ranges returns the ranges in declaration order.
func (s *RangeSet) Ranges() []*Range {
	return s.ranges
}

// Len returns the number of ranges.
func (s *RangeSet) Len() int {
	return len(s.ranges)
}

// Overlaps returns the first range containing the version, or nil when the
// version is unaffected.
func (s *RangeSet) Overlaps(v Version) *Range {
	for _, r := range s.ranges {
		if r.Contains(v) {
			return r
		}
	}
	return nil
}

// AllOverlaps returns every range containing the version, in declaration
// order. A finding is reported once per distinct matched range.
func (s *RangeSet) AllOverlaps(v Version) []*Range {
	var matched []*Range
	for _, r := range s.ranges {
		if r.Contains(v) {
			matched = append(matched, r)
		}
	}
	return matched
}
