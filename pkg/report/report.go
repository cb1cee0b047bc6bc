// Package report assembles the outcome of one scan into a single structure
// and renders it for humans (text) or machines (JSON). The report is the
// only scan output: everything the engine learned ends up here.
package report

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cratewatch/cratewatch/pkg/audit"
	"github.com/cratewatch/cratewatch/pkg/graph"
	"github.com/cratewatch/cratewatch/pkg/manifest"
	"github.com/cratewatch/cratewatch/pkg/matcher"
	"github.com/cratewatch/cratewatch/pkg/shared/severity"
)

// Stats summarizes the resolved graph.
type Stats struct {
	Nodes         int `json:"nodes"`
	Edges         int `json:"edges"`
	InferredNodes int `json:"inferred_nodes"`
	DirectDeps    int `json:"direct_deps"`
}

// DirectDep is one root-level dependency line for the tree summary.
type DirectDep struct {
	Name        string `json:"name"`
	Requirement string `json:"requirement"`
	Locked      string `json:"locked"`
	Kind        string `json:"kind"`
}

// Report is the complete outcome of one scan run.
type Report struct {
	// ScanID uniquely identifies this run.
	ScanID string `json:"scan_id"`

	// GeneratedAt is the UTC assembly timestamp.
	GeneratedAt time.Time `json:"generated_at"`

	// Project is the scanned root package, "name@version".
	Project string `json:"project"`

	// ManifestPath is the manifest the scan started from.
	ManifestPath string `json:"manifest_path"`

	Stats Stats `json:"stats"`

	// Direct lists the root's dependencies with declared requirements and
	// locked resolutions.
	Direct []DirectDep `json:"direct,omitempty"`

	// Violations are manifest/lockfile disagreements found during graph
	// reconciliation.
	Violations []graph.Violation `json:"violations,omitempty"`

	// Warnings are recoverable deep-scan failures.
	Warnings []graph.Warning `json:"warnings,omitempty"`

	// Findings are confirmed advisory matches, severity-ordered.
	Findings []matcher.Finding `json:"findings,omitempty"`

	// Issues are manifest hygiene audit results.
	Issues []audit.Issue `json:"issues,omitempty"`

	// Severities counts findings per severity level.
	Severities severity.Count `json:"severities"`
}

// Input carries everything a finished scan produced.
type Input struct {
	Manifest   *manifest.Manifest
	Graph      *graph.Graph
	Violations []graph.Violation
	Warnings   []graph.Warning
	Findings   []matcher.Finding
	Issues     []audit.Issue
}

// Assemble builds the report. Collections keep the deterministic order
// their producers established; only the direct-dependency summary is
// derived here.
func Assemble(in Input) *Report {
	r := &Report{
		ScanID:       uuid.New().String(),
		GeneratedAt:  time.Now().UTC(),
		ManifestPath: in.Manifest.Path,
		Project:      in.Manifest.Name + "@" + in.Manifest.Version.String(),
		Violations:   in.Violations,
		Warnings:     in.Warnings,
		Findings:     in.Findings,
		Issues:       in.Issues,
		Severities:   severity.Count{},
	}

	if in.Graph != nil {
		r.Stats = Stats{
			Nodes:         in.Graph.NodeCount(),
			Edges:         in.Graph.EdgeCount(),
			InferredNodes: in.Graph.InferredNodeCount(),
		}
		r.Direct = directDeps(in.Manifest, in.Graph)
		r.Stats.DirectDeps = len(r.Direct)
	}

	for _, f := range in.Findings {
		r.Severities.Add(f.Severity)
	}
	return r
}

// HasProblems reports whether the scan surfaced findings or violations,
// the conditions that flip the process exit code.
func (r *Report) HasProblems() bool {
	return len(r.Findings) > 0 || len(r.Violations) > 0
}

// Highest returns the highest finding severity, or unknown when clean.
func (r *Report) Highest() severity.Level {
	return r.Severities.Highest()
}

// directDeps pairs each declared dependency with its locked resolution.
func directDeps(m *manifest.Manifest, g *graph.Graph) []DirectDep {
	locked := make(map[string]string)
	for _, e := range g.Outgoing(g.Root()) {
		locked[e.To.Name] = e.To.Version.String()
	}

	deps := make([]DirectDep, 0, len(m.Entries))
	for _, entry := range m.Entries {
		deps = append(deps, DirectDep{
			Name:        entry.Name,
			Requirement: entry.RawRequirement,
			Locked:      locked[entry.Name],
			Kind:        string(entry.Kind),
		})
	}
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Name != deps[j].Name {
			return deps[i].Name < deps[j].Name
		}
		return deps[i].Kind < deps[j].Kind
	})
	return deps
}
