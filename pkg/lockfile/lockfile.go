// Package lockfile parses Cargo.lock files into the pinned package set and
// the resolution edges the lockfile records. This is the ground truth the
// dependency graph is built from.
package lockfile

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/cratewatch/cratewatch/pkg/errors"
	"github.com/cratewatch/cratewatch/pkg/semver"
)

// DepRef is one dependency reference as the lockfile records it. Cargo
// writes a bare name when it is unambiguous and qualifies it with a version
// (and sometimes a source URL) when several versions of the name coexist.
type DepRef struct {
	Name    string
	Version *semver.Version // nil when the reference is unqualified
	Source  string
}

// Package is one pinned package entry.
type Package struct {
	Name    string
	Version semver.Version
	Source  string // empty for the workspace root and path dependencies
	Deps    []DepRef
}

// ID renders the canonical name@version identity.
func (p *Package) ID() string {
	return p.Name + "@" + p.Version.String()
}

// Lockfile is the parsed lockfile.
type Lockfile struct {
	// FormatVersion is the lockfile schema version (1 through 4).
	FormatVersion int

	// Packages holds every pinned package in file order.
	Packages []Package

	// Path is where the lockfile was read from, for error reporting.
	Path string
}

type rawLockfile struct {
	Version  int          `toml:"version"`
	Packages []rawPackage `toml:"package"`
}

type rawPackage struct {
	Name         string   `toml:"name"`
	Version      string   `toml:"version"`
	Source       string   `toml:"source"`
	Checksum     string   `toml:"checksum"`
	Dependencies []string `toml:"dependencies"`
}

// ParseFile reads and parses the lockfile at path.
func ParseFile(path string) (*Lockfile, error) {
	const op = "lockfile.ParseFile"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.Error{Kind: errors.KindLockParse, Op: op, Message: "read lockfile", Input: path, Err: err}
	}
	lf, perr := Parse(data, path)
	if perr != nil {
		return nil, perr
	}
	return lf, nil
}

// Parse parses lockfile text. origin identifies the source in errors.
func Parse(data []byte, origin string) (*Lockfile, error) {
	const op = "lockfile.Parse"

	var raw rawLockfile
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, &errors.Error{Kind: errors.KindLockParse, Op: op, Message: "invalid TOML", Input: origin, Err: err}
	}

	// Version 1 lockfiles predate the explicit version field.
	switch {
	case raw.Version == 0 && len(raw.Packages) > 0:
		raw.Version = 1
	case raw.Version >= 1 && raw.Version <= 4:
	default:
		return nil, errors.LockParse(op,
			fmt.Sprintf("unrecognized lockfile format version %d", raw.Version), origin)
	}
	if len(raw.Packages) == 0 {
		return nil, errors.LockParse(op, "lockfile declares no packages", origin)
	}

	lf := &Lockfile{FormatVersion: raw.Version, Path: origin}
	seen := make(map[string]bool, len(raw.Packages))

	for _, rp := range raw.Packages {
		if rp.Name == "" {
			return nil, errors.LockParse(op, "package entry with no name", origin)
		}
		if rp.Version == "" {
			return nil, errors.LockParse(op,
				fmt.Sprintf("package %q has no resolvable exact version", rp.Name), rp.Name)
		}
		version, err := semver.ParseVersion(rp.Version)
		if err != nil {
			return nil, &errors.Error{
				Kind: errors.KindLockParse, Op: op,
				Message: fmt.Sprintf("package %q pins invalid version %q", rp.Name, rp.Version),
				Input:   rp.Name, Err: err,
			}
		}

		pkg := Package{Name: rp.Name, Version: version, Source: rp.Source}
		if seen[pkg.ID()] {
			return nil, errors.LockParse(op,
				fmt.Sprintf("duplicate package declaration for %s", pkg.ID()), pkg.ID())
		}
		seen[pkg.ID()] = true

		for _, dep := range rp.Dependencies {
			ref, err := parseDepRef(dep)
			if err != nil {
				return nil, &errors.Error{
					Kind: errors.KindLockParse, Op: op,
					Message: fmt.Sprintf("package %q has malformed dependency reference", rp.Name),
					Input:   dep, Err: err,
				}
			}
			pkg.Deps = append(pkg.Deps, ref)
		}

		lf.Packages = append(lf.Packages, pkg)
	}

	return lf, nil
}

// parseDepRef parses "name", "name version" or "name version (source)".
func parseDepRef(s string) (DepRef, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	switch len(fields) {
	case 0:
		return DepRef{}, fmt.Errorf("empty dependency reference")
	case 1:
		return DepRef{Name: fields[0]}, nil
	case 2, 3:
		v, err := semver.ParseVersion(fields[1])
		if err != nil {
			return DepRef{}, err
		}
		ref := DepRef{Name: fields[0], Version: &v}
		if len(fields) == 3 {
			src := strings.TrimSuffix(strings.TrimPrefix(fields[2], "("), ")")
			ref.Source = src
		}
		return ref, nil
	default:
		return DepRef{}, fmt.Errorf("too many fields in dependency reference")
	}
}

// ByName groups packages by name. Several versions of one name may coexist.
func (l *Lockfile) ByName() map[string][]*Package {
	m := make(map[string][]*Package, len(l.Packages))
	for i := range l.Packages {
		p := &l.Packages[i]
		m[p.Name] = append(m[p.Name], p)
	}
	return m
}

// Find returns the unique package with the given name, or an error when the
// name is absent or ambiguous.
func (l *Lockfile) Find(name string) (*Package, error) {
	const op = "lockfile.Find"

	var found *Package
	for i := range l.Packages {
		p := &l.Packages[i]
		if p.Name != name {
			continue
		}
		if found != nil {
			return nil, errors.LockParse(op,
				fmt.Sprintf("bare reference to %q is ambiguous: multiple versions locked", name), name)
		}
		found = p
	}
	if found == nil {
		return nil, &errors.Error{Kind: errors.KindNotFound, Op: op,
			Message: fmt.Sprintf("package %q not present in lockfile", name), Input: name}
	}
	return found, nil
}
