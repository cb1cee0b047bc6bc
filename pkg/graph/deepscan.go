package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cratewatch/cratewatch/pkg/core"
	"github.com/cratewatch/cratewatch/pkg/errors"
	"github.com/cratewatch/cratewatch/pkg/semver"
)

// DeclaredDep is one dependency a package's own metadata declares.
type DeclaredDep struct {
	Name        string
	Requirement string
	Kind        EdgeKind
	Optional    bool
}

// MetadataSource retrieves a package's declared dependencies from its
// embedded or registry metadata. Implementations are expected to be safe
// for concurrent use.
type MetadataSource interface {
	Dependencies(ctx context.Context, name string, version semver.Version) ([]DeclaredDep, error)
}

// Warning is a recoverable per-node deep-scan failure. The node's inferred
// edges are omitted; the lockfile-derived graph stays intact.
type Warning struct {
	Package string `json:"package"`
	Message string `json:"message"`
}

// DeepScanner enriches a built graph with speculative edges from per-node
// metadata. Fetches fan out across a bounded worker pool; results merge
// into the graph at a single point, so the graph never sees concurrent
// writers.
type DeepScanner struct {
	source  MetadataSource
	workers int
	timeout time.Duration
	logger  core.Logger
}

// DeepScanOption configures a DeepScanner.
type DeepScanOption func(*DeepScanner)

// WithWorkers bounds concurrent per-node fetches.
func WithWorkers(n int) DeepScanOption {
	return func(d *DeepScanner) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithNodeTimeout sets the per-node fetch deadline. A timed-out node
// degrades to a warning.
func WithNodeTimeout(t time.Duration) DeepScanOption {
	return func(d *DeepScanner) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger core.Logger) DeepScanOption {
	return func(d *DeepScanner) {
		d.logger = core.OrNop(logger)
	}
}

// NewDeepScanner creates a deep scanner over the given metadata source.
func NewDeepScanner(source MetadataSource, opts ...DeepScanOption) *DeepScanner {
	d := &DeepScanner{
		source:  source,
		workers: 8,
		timeout: 10 * time.Second,
		logger:  &core.NopLogger{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// fetchResult is one node's enrichment outcome crossing from a worker to
// the merge step.
type fetchResult struct {
	from PackageID
	deps []DeclaredDep
	err  error
}

// Enrich fetches each node's declared dependencies and merges speculative
// edges into the graph. It never fails as a whole: per-node failures come
// back as warnings, sorted by package identity for deterministic reports.
func (d *DeepScanner) Enrich(ctx context.Context, g *Graph) []Warning {
	nodes := g.Nodes()

	jobs := make(chan *Node)
	results := make(chan fetchResult)

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for node := range jobs {
				results <- d.fetchOne(ctx, node)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, node := range nodes {
			// The root's declarations are already in the graph via the
			// manifest, and inferred placeholders have nothing to fetch.
			if node.ID.Key() == g.Root().Key() || node.Inferred {
				continue
			}
			select {
			case jobs <- node:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// Single mutation point: only this loop touches the graph.
	var warnings []Warning
	for res := range results {
		if res.err != nil {
			warnings = append(warnings, Warning{
				Package: res.from.Key(),
				Message: res.err.Error(),
			})
			continue
		}
		d.merge(g, res.from, res.deps)
	}

	if err := ctx.Err(); err != nil {
		warnings = append(warnings, Warning{Package: g.Root().Key(), Message: "deep scan interrupted: " + err.Error()})
	}

	sort.Slice(warnings, func(i, j int) bool {
		if warnings[i].Package != warnings[j].Package {
			return warnings[i].Package < warnings[j].Package
		}
		return warnings[i].Message < warnings[j].Message
	})

	d.logger.Debug("deep scan: %d nodes enriched, %d warnings", len(nodes), len(warnings))
	return warnings
}

func (d *DeepScanner) fetchOne(ctx context.Context, node *Node) fetchResult {
	fetchCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	deps, err := d.source.Dependencies(fetchCtx, node.ID.Name, node.ID.Version)
	if err != nil {
		if fetchCtx.Err() == context.DeadlineExceeded {
			err = errors.E(errors.KindTimeout, "graph.DeepScan",
				fmt.Sprintf("metadata fetch for %s timed out after %s", node.ID, d.timeout))
		}
		return fetchResult{from: node.ID, err: err}
	}
	return fetchResult{from: node.ID, deps: deps}
}

// merge applies one node's declared dependencies as inferred edges. A
// declared dependency matching an existing node links to it; otherwise a
// speculative placeholder node is created at the requirement's lower bound.
func (d *DeepScanner) merge(g *Graph, from PackageID, deps []DeclaredDep) {
	for _, dep := range deps {
		constraint, err := semver.ParseConstraint(dep.Requirement)
		if err != nil {
			// Unparseable upstream metadata invalidates one speculative
			// edge only; skip it.
			d.logger.Debug("deep scan: skipping %s -> %s: %v", from, dep.Name, err)
			continue
		}

		to, ok := d.findTarget(g, dep.Name, constraint)
		if !ok {
			to = PackageID{Name: dep.Name, Version: constraint.MinVersion()}
			g.AddNode(&Node{ID: to, Optional: dep.Optional, Inferred: true})
		}

		kind := dep.Kind
		if kind == "" {
			kind = EdgeNormal
		}
		g.AddEdge(&Edge{From: from, To: to, Requirement: constraint, Kind: kind, Inferred: true})
	}
}

// findTarget locates the lexically first existing node of the given name
// whose version satisfies the requirement.
func (d *DeepScanner) findTarget(g *Graph, name string, constraint *semver.Constraint) (PackageID, bool) {
	for _, node := range g.Nodes() {
		if node.ID.Name == name && constraint.Satisfies(node.ID.Version) {
			return node.ID, true
		}
	}
	return PackageID{}, false
}
