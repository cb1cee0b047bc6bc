// Package manifest parses Cargo.toml project manifests into the ordered
// list of declared dependency requirements. It only records intent; version
// resolution belongs to the lockfile and the graph builder.
package manifest

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/cratewatch/cratewatch/pkg/errors"
	"github.com/cratewatch/cratewatch/pkg/semver"
)

// DepKind classifies where in the manifest a dependency was declared.
type DepKind string

const (
	KindNormal DepKind = "normal"
	KindDev    DepKind = "dev"
	KindBuild  DepKind = "build"
)

// Origin describes where a dependency is sourced from. Informational only.
type Origin string

const (
	OriginRegistry Origin = "registry"
	OriginGit      Origin = "git"
	OriginPath     Origin = "path"
)

// Entry is one declared dependency requirement.
type Entry struct {
	// Name is the dependency's package name. When the manifest renames a
	// dependency this is the real package name, not the alias.
	Name string

	// Constraint is the parsed version requirement.
	Constraint *semver.Constraint

	// RawRequirement is the requirement string as written.
	RawRequirement string

	Kind     DepKind
	Optional bool
	Features []string
	Origin   Origin
}

// Manifest is the parsed manifest: the project's own identity plus its
// declared dependencies in file order.
type Manifest struct {
	// Name and Version identify the root package.
	Name    string
	Version semver.Version

	// Entries lists declared dependencies in order of appearance.
	Entries []Entry

	// Path is where the manifest was read from, for error reporting.
	Path string
}

type rawManifest struct {
	Package struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
	} `toml:"package"`
	Dependencies      map[string]toml.Primitive `toml:"dependencies"`
	DevDependencies   map[string]toml.Primitive `toml:"dev-dependencies"`
	BuildDependencies map[string]toml.Primitive `toml:"build-dependencies"`
}

// rawDependency is the table form of a dependency declaration.
type rawDependency struct {
	Version  string   `toml:"version"`
	Optional bool     `toml:"optional"`
	Features []string `toml:"features"`
	Path     string   `toml:"path"`
	Git      string   `toml:"git"`
	Package  string   `toml:"package"`
}

// ParseFile reads and parses the manifest at path.
func ParseFile(path string) (*Manifest, error) {
	const op = "manifest.ParseFile"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.Error{Kind: errors.KindManifestParse, Op: op, Message: "read manifest", Input: path, Err: err}
	}
	m, perr := Parse(data, path)
	if perr != nil {
		return nil, perr
	}
	return m, nil
}

// Parse parses manifest text. origin identifies the source (a file path) in
// errors.
func Parse(data []byte, origin string) (*Manifest, error) {
	const op = "manifest.Parse"

	var raw rawManifest
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, &errors.Error{Kind: errors.KindManifestParse, Op: op, Message: "invalid TOML", Input: origin, Err: err}
	}

	if raw.Package.Name == "" {
		return nil, errors.ManifestParse(op, "manifest has no [package] name", origin)
	}
	rootVersion, err := semver.ParseVersion(raw.Package.Version)
	if err != nil {
		return nil, &errors.Error{
			Kind: errors.KindManifestParse, Op: op,
			Message: fmt.Sprintf("package %q has invalid version %q", raw.Package.Name, raw.Package.Version),
			Input:   origin, Err: err,
		}
	}

	m := &Manifest{
		Name:    raw.Package.Name,
		Version: rootVersion,
		Path:    origin,
	}

	// md.Keys preserves appearance order, which gives us a deterministic,
	// file-ordered entry sequence out of TOML's unordered tables.
	sections := map[string]struct {
		prims map[string]toml.Primitive
		kind  DepKind
	}{
		"dependencies":       {raw.Dependencies, KindNormal},
		"dev-dependencies":   {raw.DevDependencies, KindDev},
		"build-dependencies": {raw.BuildDependencies, KindBuild},
	}

	seen := make(map[string]bool)
	for _, key := range md.Keys() {
		parts := key
		if len(parts) != 2 {
			continue
		}
		section, ok := sections[parts[0]]
		if !ok {
			continue
		}
		name := parts[1]
		sectionKey := parts[0] + "." + name
		if seen[sectionKey] {
			continue
		}
		seen[sectionKey] = true

		prim, ok := section.prims[name]
		if !ok {
			continue
		}
		entry, err := decodeEntry(&md, name, prim, section.kind, origin)
		if err != nil {
			return nil, err
		}
		m.Entries = append(m.Entries, entry)
	}

	return m, nil
}

func decodeEntry(md *toml.MetaData, name string, prim toml.Primitive, kind DepKind, origin string) (Entry, error) {
	const op = "manifest.Parse"

	entry := Entry{Name: name, Kind: kind, Origin: OriginRegistry}

	// A declaration is either a bare requirement string or a detail table.
	var req string
	if err := md.PrimitiveDecode(prim, &req); err == nil {
		entry.RawRequirement = strings.TrimSpace(req)
	} else {
		var dep rawDependency
		if err := md.PrimitiveDecode(prim, &dep); err != nil {
			return Entry{}, &errors.Error{
				Kind: errors.KindManifestParse, Op: op,
				Message: fmt.Sprintf("dependency %q is neither a version string nor a table", name),
				Input:   origin, Err: err,
			}
		}
		entry.RawRequirement = strings.TrimSpace(dep.Version)
		entry.Optional = dep.Optional
		entry.Features = dep.Features
		if dep.Package != "" {
			entry.Name = dep.Package
		}
		switch {
		case dep.Git != "":
			entry.Origin = OriginGit
		case dep.Path != "":
			entry.Origin = OriginPath
		}
	}

	if entry.RawRequirement == "" {
		if entry.Origin == OriginRegistry {
			return Entry{}, errors.ManifestParse(op,
				fmt.Sprintf("dependency %q declares no version requirement", name), origin)
		}
		// Git and path dependencies may omit the requirement; they accept
		// whatever the source provides.
		entry.RawRequirement = "*"
	}

	constraint, err := semver.ParseConstraint(entry.RawRequirement)
	if err != nil {
		return Entry{}, &errors.Error{
			Kind: errors.KindManifestParse, Op: op,
			Message: fmt.Sprintf("dependency %q has unparseable requirement %q", name, entry.RawRequirement),
			Input:   origin, Err: err,
		}
	}
	entry.Constraint = constraint

	return entry, nil
}
