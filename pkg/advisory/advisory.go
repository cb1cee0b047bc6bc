// Package advisory loads vulnerability advisory records and indexes them by
// package name for the matcher. The loaded set is read-only reference data
// for the lifetime of one scan.
package advisory

import (
	"fmt"
	"sort"

	"github.com/cratewatch/cratewatch/pkg/errors"
	"github.com/cratewatch/cratewatch/pkg/semver"
	"github.com/cratewatch/cratewatch/pkg/shared/severity"
)

// Record is one known-vulnerability advisory.
type Record struct {
	// ID is the advisory identifier (e.g. "RUSTSEC-2020-0001", "GHSA-...").
	ID string `json:"id"`

	// Package is the affected package name. Matching is case-sensitive.
	Package string `json:"package"`

	// Severity is the normalized severity level.
	Severity severity.Level `json:"severity"`

	// CVSS optionally carries the raw score the severity derives from.
	CVSS float64 `json:"cvss,omitempty"`

	// Description summarizes the vulnerability.
	Description string `json:"description"`

	// Affected lists the affected version range expressions, in the
	// order the advisory declares them.
	Affected []string `json:"affected"`

	// Patched hints at the first fixed version, when known.
	Patched string `json:"patched,omitempty"`

	// ranges is the parsed form of Affected.
	ranges *semver.RangeSet
}

// Validate parses the affected ranges and normalizes the severity. It must
// be called once before the record is matched against versions.
func (r *Record) Validate() error {
	const op = "advisory.Validate"

	if r.ID == "" {
		return errors.E(errors.KindInternal, op, "advisory record has no identifier")
	}
	if r.Package == "" {
		return errors.E(errors.KindInternal, op, fmt.Sprintf("advisory %s names no package", r.ID))
	}
	if len(r.Affected) == 0 {
		return errors.E(errors.KindInternal, op, fmt.Sprintf("advisory %s lists no affected ranges", r.ID))
	}

	set, err := semver.ParseRangeSet(r.Affected)
	if err != nil {
		return err
	}
	r.ranges = set

	if r.Severity == "" && r.CVSS > 0 {
		r.Severity = severity.FromCVSS(r.CVSS)
	}
	r.Severity = severity.FromString(r.Severity.String())

	return nil
}

// Ranges returns the parsed affected range set. Nil until Validate ran.
func (r *Record) Ranges() *semver.RangeSet {
	return r.ranges
}

// Index is the name-keyed advisory lookup table, built once per scan.
// Lookups are read-only and safe for concurrent use.
type Index struct {
	byName map[string][]*Record
	total  int
}

// NewIndex validates every record and builds the index. Records for the
// same package keep a deterministic order by advisory ID.
func NewIndex(records []*Record) (*Index, error) {
	idx := &Index{byName: make(map[string][]*Record, len(records))}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		idx.byName[r.Package] = append(idx.byName[r.Package], r)
		idx.total++
	}
	for _, list := range idx.byName {
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
	return idx, nil
}

// Lookup returns the advisories for an exact package name. A nil result is
// the normal outcome for an unlisted package, not an error.
func (i *Index) Lookup(name string) []*Record {
	return i.byName[name]
}

// Len returns the number of indexed advisories.
func (i *Index) Len() int {
	return i.total
}

// Packages returns the indexed package names, sorted.
func (i *Index) Packages() []string {
	names := make([]string, 0, len(i.byName))
	for name := range i.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
