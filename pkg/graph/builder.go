package graph

import (
	"fmt"
	"strings"

	"github.com/cratewatch/cratewatch/pkg/core"
	"github.com/cratewatch/cratewatch/pkg/errors"
	"github.com/cratewatch/cratewatch/pkg/lockfile"
	"github.com/cratewatch/cratewatch/pkg/manifest"
	"github.com/cratewatch/cratewatch/pkg/semver"
)

// Violation is a recoverable manifest/lock disagreement: the locked version
// does not satisfy the declared requirement. The lockfile stays ground
// truth for the graph; the violation is surfaced in the report.
type Violation struct {
	Package     string `json:"package"`
	Requirement string `json:"requirement"`
	Locked      string `json:"locked"`
	Message     string `json:"message"`
}

// Builder reconciles manifest declarations against the locked package set
// into the canonical graph.
type Builder struct {
	logger core.Logger
}

// NewBuilder creates a graph builder.
func NewBuilder(logger core.Logger) *Builder {
	return &Builder{logger: core.OrNop(logger)}
}

// Build constructs the graph from the manifest and lockfile. The returned
// violations are non-fatal; a detected dependency cycle is fatal because a
// resolved build graph cannot legally contain one.
func (b *Builder) Build(m *manifest.Manifest, lf *lockfile.Lockfile) (*Graph, []Violation, error) {
	const op = "graph.Build"

	rootID := PackageID{Name: m.Name, Version: m.Version}
	g := New(rootID)

	// Every locked package becomes a node. Identity dedup is inherent in
	// the arena: diamond dependencies collapse to one node.
	byName := lf.ByName()
	for i := range lf.Packages {
		p := &lf.Packages[i]
		g.AddNode(&Node{
			ID:     PackageID{Name: p.Name, Version: p.Version},
			Origin: originOf(p.Source),
		})
	}
	// The root may be absent from a lockfile that only records external
	// packages.
	g.AddNode(&Node{ID: rootID, Origin: manifest.OriginPath})

	// Lockfile resolution edges. The lockfile pins exact versions, so each
	// edge's requirement is the pinned version itself.
	for i := range lf.Packages {
		p := &lf.Packages[i]
		from := PackageID{Name: p.Name, Version: p.Version}
		for _, ref := range p.Deps {
			to, err := b.resolveRef(p, ref, byName)
			if err != nil {
				return nil, nil, err
			}
			req, err := semver.ParseConstraint("=" + to.Version.String())
			if err != nil {
				return nil, nil, errors.E(errors.KindInternal, op, "pinned version produced invalid constraint", err)
			}
			g.AddEdge(&Edge{From: from, To: to, Requirement: req, Kind: EdgeNormal})
		}
	}

	// Reconcile manifest declarations: direct edges from the root carry
	// the declared requirement, and disagreements become violations.
	violations := b.reconcile(g, m, byName)

	// A repeated identity on any traversal stack is corrupted lock data.
	if err := b.checkCycles(g); err != nil {
		return nil, nil, err
	}

	b.logger.Debug("graph built: %d nodes, %d edges, %d violations",
		g.NodeCount(), g.EdgeCount(), len(violations))

	return g, violations, nil
}

func (b *Builder) resolveRef(p *lockfile.Package, ref lockfile.DepRef, byName map[string][]*lockfile.Package) (PackageID, error) {
	const op = "graph.Build"

	candidates := byName[ref.Name]
	if len(candidates) == 0 {
		return PackageID{}, errors.LockParse(op,
			fmt.Sprintf("package %q depends on %q which is not locked", p.Name, ref.Name), ref.Name)
	}
	if ref.Version != nil {
		for _, c := range candidates {
			if c.Version.Compare(*ref.Version) == 0 {
				return PackageID{Name: c.Name, Version: c.Version}, nil
			}
		}
		return PackageID{}, errors.LockParse(op,
			fmt.Sprintf("package %q depends on %s@%s which is not locked", p.Name, ref.Name, ref.Version), ref.Name)
	}
	if len(candidates) > 1 {
		return PackageID{}, errors.LockParse(op,
			fmt.Sprintf("package %q has ambiguous bare reference to %q: multiple versions locked", p.Name, ref.Name), ref.Name)
	}
	return PackageID{Name: candidates[0].Name, Version: candidates[0].Version}, nil
}

func (b *Builder) reconcile(g *Graph, m *manifest.Manifest, byName map[string][]*lockfile.Package) []Violation {
	var violations []Violation
	rootID := g.Root()

	for _, entry := range m.Entries {
		candidates := byName[entry.Name]
		if len(candidates) == 0 {
			violations = append(violations, Violation{
				Package:     entry.Name,
				Requirement: entry.RawRequirement,
				Message:     "declared in manifest but absent from lockfile",
			})
			continue
		}

		// Prefer the locked version that satisfies the declaration; a
		// stale lock may pin one that does not.
		locked := candidates[0]
		satisfied := false
		for _, c := range candidates {
			if entry.Constraint.Satisfies(c.Version) {
				locked = c
				satisfied = true
				break
			}
		}
		if !satisfied {
			violations = append(violations, Violation{
				Package:     entry.Name,
				Requirement: entry.RawRequirement,
				Locked:      locked.Version.String(),
				Message: fmt.Sprintf("locked version %s does not satisfy declared requirement %q",
					locked.Version, entry.RawRequirement),
			})
			b.logger.Warn("constraint violation: %s@%s vs %q", entry.Name, locked.Version, entry.RawRequirement)
		}

		to := PackageID{Name: locked.Name, Version: locked.Version}
		if node := g.Node(to); node != nil {
			node.Features = entry.Features
			node.Optional = entry.Optional
			if entry.Origin != manifest.OriginRegistry {
				node.Origin = entry.Origin
			}
		}

		// The declared edge replaces the lockfile's pinned root edge so
		// direct edges carry the requirement as written.
		key := [2]string{rootID.Key(), to.Key()}
		if existing, ok := g.edges[key]; ok {
			existing.Requirement = entry.Constraint
			existing.Kind = kindOf(entry.Kind)
		} else {
			g.AddEdge(&Edge{From: rootID, To: to, Requirement: entry.Constraint, Kind: kindOf(entry.Kind)})
		}
	}

	return violations
}

// checkCycles runs an iterative DFS over every node, failing on the first
// identity found twice on the active traversal stack.
func (b *Builder) checkCycles(g *Graph) error {
	const (
		unvisited = 0
		active    = 1
		done      = 2
	)
	state := make(map[string]int, g.NodeCount())

	var visit func(id PackageID, stack []string) error
	visit = func(id PackageID, stack []string) error {
		key := id.Key()
		switch state[key] {
		case done:
			return nil
		case active:
			return errors.Cycle("graph.Build", renderCycle(stack, key))
		}
		state[key] = active
		stack = append(stack, key)
		for _, e := range g.Outgoing(id) {
			if err := visit(e.To, stack); err != nil {
				return err
			}
		}
		state[key] = done
		return nil
	}

	for _, n := range g.Nodes() {
		if err := visit(n.ID, nil); err != nil {
			return err
		}
	}
	return nil
}

// renderCycle renders the cycle chain starting from the repeated identity,
// e.g. "a@1.0.0 -> b@2.0.0 -> a@1.0.0".
func renderCycle(stack []string, repeated string) string {
	start := 0
	for i, key := range stack {
		if key == repeated {
			start = i
			break
		}
	}
	chain := append(append([]string(nil), stack[start:]...), repeated)
	return strings.Join(chain, " -> ")
}

func kindOf(k manifest.DepKind) EdgeKind {
	switch k {
	case manifest.KindDev:
		return EdgeDev
	case manifest.KindBuild:
		return EdgeBuild
	default:
		return EdgeNormal
	}
}

// originOf maps a lockfile source URL to a node origin.
func originOf(source string) manifest.Origin {
	switch {
	case source == "":
		return manifest.OriginPath
	case strings.HasPrefix(source, "git+"):
		return manifest.OriginGit
	default:
		return manifest.OriginRegistry
	}
}
