// Package audit runs hygiene heuristics over a parsed manifest and its
// resolved graph. Issues are advisories about the project's own declarations,
// not vulnerabilities; they never fail a scan on their own.
package audit

import (
	"fmt"
	"sort"

	"github.com/cratewatch/cratewatch/pkg/core"
	"github.com/cratewatch/cratewatch/pkg/graph"
	"github.com/cratewatch/cratewatch/pkg/manifest"
	"github.com/cratewatch/cratewatch/pkg/shared/severity"
)

// directDepThreshold is the direct-dependency count above which the
// manifest is flagged as hard to review.
const directDepThreshold = 20

// Issue is one hygiene finding about the manifest.
type Issue struct {
	// Package the issue is about. Empty for manifest-wide issues.
	Package string `json:"package,omitempty"`

	// Requirement is the declared requirement the issue cites, if any.
	Requirement string `json:"requirement,omitempty"`

	Severity severity.Level `json:"severity"`
	Message  string         `json:"message"`
}

// Auditor applies the heuristic checks.
type Auditor struct {
	logger core.Logger
}

// Option configures the auditor.
type Option func(*Auditor)

// WithLogger sets the logger.
func WithLogger(logger core.Logger) Option {
	return func(a *Auditor) {
		a.logger = core.OrNop(logger)
	}
}

// New creates an auditor.
func New(opts ...Option) *Auditor {
	a := &Auditor{logger: &core.NopLogger{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Audit checks the manifest declarations and the resolved versions behind
// them. The graph may be nil when resolution failed; declaration-only checks
// still run.
func (a *Auditor) Audit(m *manifest.Manifest, g *graph.Graph) []Issue {
	var issues []Issue

	for _, entry := range m.Entries {
		if entry.RawRequirement == "*" {
			issues = append(issues, Issue{
				Package:     entry.Name,
				Requirement: entry.RawRequirement,
				Severity:    severity.High,
				Message:     "wildcard requirement accepts any published version",
			})
		}
		if entry.Kind == manifest.KindBuild {
			issues = append(issues, Issue{
				Package:     entry.Name,
				Requirement: entry.RawRequirement,
				Severity:    severity.Medium,
				Message:     "build dependency runs at compile time with full host access",
			})
		}
	}

	if n := len(m.Entries); n > directDepThreshold {
		issues = append(issues, Issue{
			Severity: severity.Low,
			Message:  fmt.Sprintf("%d direct dependencies declared, consider trimming below %d", n, directDepThreshold),
		})
	}

	if g != nil {
		issues = append(issues, a.auditResolved(g)...)
	}

	sortIssues(issues)
	a.logger.Debug("audit produced %d issues", len(issues))
	return issues
}

// auditResolved flags direct dependencies locked to pre-1.0 versions, where
// any release may break the API.
func (a *Auditor) auditResolved(g *graph.Graph) []Issue {
	var issues []Issue
	for _, e := range g.Outgoing(g.Root()) {
		if e.To.Version.Major == 0 {
			issues = append(issues, Issue{
				Package:  e.To.Name,
				Severity: severity.Low,
				Message:  fmt.Sprintf("locked to pre-1.0 version %s", e.To.Version),
			})
		}
	}
	return issues
}

// sortIssues orders by severity descending, then package and message
// ascending, so repeated audits print identically.
func sortIssues(issues []Issue) {
	sort.Slice(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if c := severity.Compare(a.Severity, b.Severity); c != 0 {
			return c > 0
		}
		if a.Package != b.Package {
			return a.Package < b.Package
		}
		return a.Message < b.Message
	})
}
