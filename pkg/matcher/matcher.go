// Package matcher cross-references every graph node against the advisory
// index, producing one finding per (package, advisory, matched range).
// Output ordering is fully deterministic: identical inputs yield
// byte-identical finding sequences.
package matcher

import (
	"sort"
	"sync"

	"github.com/cratewatch/cratewatch/pkg/advisory"
	"github.com/cratewatch/cratewatch/pkg/core"
	"github.com/cratewatch/cratewatch/pkg/graph"
	"github.com/cratewatch/cratewatch/pkg/shared/severity"
)

// Finding is one confirmed match between a resolved package version and an
// advisory's affected range. Immutable once produced.
type Finding struct {
	Package     string         `json:"package"`
	Version     string         `json:"version"`
	Severity    severity.Level `json:"severity"`
	AdvisoryID  string         `json:"advisory_id"`
	Description string         `json:"description"`

	// MatchedRange is the raw affected-range expression that matched,
	// for provenance.
	MatchedRange string `json:"matched_range"`

	// Patched hints at the first fixed version, when the advisory knows.
	Patched string `json:"patched,omitempty"`

	// Path is the chain of package identities from the scan root to the
	// affected package, explaining why it is present.
	Path []string `json:"path,omitempty"`

	record *advisory.Record
}

// Advisory returns the advisory record behind the finding.
func (f *Finding) Advisory() *advisory.Record {
	return f.record
}

// Matcher evaluates a built graph against an advisory index.
type Matcher struct {
	index   *advisory.Index
	logger  core.Logger
	workers int
}

// Option configures the matcher.
type Option func(*Matcher)

// WithLogger sets the logger.
func WithLogger(logger core.Logger) Option {
	return func(m *Matcher) {
		m.logger = core.OrNop(logger)
	}
}

// WithWorkers bounds concurrent per-node lookups.
func WithWorkers(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.workers = n
		}
	}
}

// New creates a matcher over the given advisory index.
func New(index *advisory.Index, opts ...Option) *Matcher {
	m := &Matcher{
		index:   index,
		logger:  &core.NopLogger{},
		workers: 4,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match scans every node. The advisory index is read-only, so nodes are
// evaluated concurrently; findings merge and sort at the end. No finding
// for a node is the normal outcome, never an error.
func (m *Matcher) Match(g *graph.Graph) []Finding {
	nodes := g.Nodes()

	var (
		mu       sync.Mutex
		findings []Finding
	)

	jobs := make(chan *graph.Node)
	var wg sync.WaitGroup
	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for node := range jobs {
				found := m.matchNode(g, node)
				if len(found) == 0 {
					continue
				}
				mu.Lock()
				findings = append(findings, found...)
				mu.Unlock()
			}
		}()
	}
	for _, node := range nodes {
		jobs <- node
	}
	close(jobs)
	wg.Wait()

	sortFindings(findings)

	m.logger.Debug("matched %d findings across %d nodes", len(findings), len(nodes))
	return findings
}

// matchNode evaluates one node against its name's advisories. Lookup is by
// case-sensitive exact name; each distinct matched range becomes its own
// finding.
func (m *Matcher) matchNode(g *graph.Graph, node *graph.Node) []Finding {
	records := m.index.Lookup(node.ID.Name)
	if len(records) == 0 {
		return nil
	}

	var path []string
	if ids := g.PathFromRoot(node.ID); ids != nil {
		path = make([]string, len(ids))
		for i, id := range ids {
			path[i] = id.Key()
		}
	}

	var findings []Finding
	for _, record := range records {
		for _, matched := range record.Ranges().AllOverlaps(node.ID.Version) {
			findings = append(findings, Finding{
				Package:      node.ID.Name,
				Version:      node.ID.Version.String(),
				Severity:     record.Severity,
				AdvisoryID:   record.ID,
				Description:  record.Description,
				MatchedRange: matched.String(),
				Patched:      record.Patched,
				Path:         path,
				record:       record,
			})
		}
	}
	return findings
}

// sortFindings orders by severity descending, then package name, advisory
// ID, version, and matched range ascending. The trailing keys make the
// order total, so repeated runs are byte-identical.
func sortFindings(findings []Finding) {
	sort.Slice(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if c := severity.Compare(a.Severity, b.Severity); c != 0 {
			return c > 0
		}
		if a.Package != b.Package {
			return a.Package < b.Package
		}
		if a.AdvisoryID != b.AdvisoryID {
			return a.AdvisoryID < b.AdvisoryID
		}
		if a.Version != b.Version {
			return a.Version < b.Version
		}
		return a.MatchedRange < b.MatchedRange
	})
}
