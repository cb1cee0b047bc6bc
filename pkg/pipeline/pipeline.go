// Package pipeline runs one scan end to end: parse the manifest and
// lockfile, build and optionally enrich the graph, match advisories, audit
// the manifest, and assemble the report.
package pipeline

import (
	"context"
	"path/filepath"

	"github.com/cratewatch/cratewatch/pkg/advisory"
	"github.com/cratewatch/cratewatch/pkg/audit"
	"github.com/cratewatch/cratewatch/pkg/core"
	"github.com/cratewatch/cratewatch/pkg/graph"
	"github.com/cratewatch/cratewatch/pkg/lockfile"
	"github.com/cratewatch/cratewatch/pkg/manifest"
	"github.com/cratewatch/cratewatch/pkg/matcher"
	"github.com/cratewatch/cratewatch/pkg/metrics"
	"github.com/cratewatch/cratewatch/pkg/report"
)

// Pipeline orchestrates one scan. Construct with New, run with Run.
type Pipeline struct {
	opts      core.ScanOptions
	records   []*advisory.Record
	source    graph.MetadataSource
	logger    core.Logger
	collector metrics.Collector
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger core.Logger) Option {
	return func(p *Pipeline) {
		p.logger = core.OrNop(logger)
	}
}

// WithCollector sets the metrics collector.
func WithCollector(c metrics.Collector) Option {
	return func(p *Pipeline) {
		p.collector = metrics.OrNop(c)
	}
}

// WithMetadataSource sets the registry metadata source used when the scan
// options request deep enrichment. Without one, deep scan is skipped.
func WithMetadataSource(source graph.MetadataSource) Option {
	return func(p *Pipeline) {
		p.source = source
	}
}

// WithAdvisories sets the advisory records to match against.
func WithAdvisories(records []*advisory.Record) Option {
	return func(p *Pipeline) {
		p.records = records
	}
}

// New creates a pipeline for the given scan options.
func New(opts *core.ScanOptions, popts ...Option) *Pipeline {
	if opts == nil {
		opts = core.DefaultScanOptions()
	}
	normalized := *opts
	normalized.Normalize()

	p := &Pipeline{
		opts:      normalized,
		logger:    &core.NopLogger{},
		collector: &metrics.NopCollector{},
	}
	for _, opt := range popts {
		opt(p)
	}
	return p
}

// Run executes the scan. Fatal errors (unreadable inputs, dependency
// cycles, broken advisory data) abort with no report; recoverable per-node
// problems surface inside the report instead.
func (p *Pipeline) Run(ctx context.Context) (*report.Report, error) {
	timer := metrics.NewTimer(p.collector, metrics.ScanDuration.Name)
	defer timer.ObserveDuration()

	rep, err := p.run(ctx)
	if err != nil {
		p.collector.CounterInc(metrics.ScansTotal.Name, "status", "error")
		return nil, err
	}
	p.collector.CounterInc(metrics.ScansTotal.Name, "status", "ok")
	return rep, nil
}

func (p *Pipeline) run(ctx context.Context) (*report.Report, error) {
	p.logger.Info("scanning %s", p.opts.ManifestPath)

	m, err := manifest.ParseFile(p.opts.ManifestPath)
	if err != nil {
		return nil, err
	}

	lockPath := p.opts.LockfilePath
	if lockPath == "" {
		lockPath = filepath.Join(filepath.Dir(p.opts.ManifestPath), core.DefaultLockfileName)
	}
	lf, err := lockfile.ParseFile(lockPath)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("lockfile %s: %d packages (format v%d)", lockPath, len(lf.Packages), lf.FormatVersion)

	g, violations, err := graph.NewBuilder(p.logger).Build(m, lf)
	if err != nil {
		return nil, err
	}
	p.collector.GaugeSet(metrics.GraphNodes.Name, float64(g.NodeCount()))

	var warnings []graph.Warning
	if p.opts.DeepScan {
		if p.source == nil {
			p.logger.Warn("deep scan requested but no metadata source configured, skipping")
		} else {
			scanner := graph.NewDeepScanner(p.source,
				graph.WithWorkers(p.opts.DeepScanWorkers),
				graph.WithNodeTimeout(p.opts.DeepScanTimeout),
				graph.WithLogger(p.logger),
			)
			warnings = scanner.Enrich(ctx, g)
		}
	}

	idx, err := advisory.NewIndex(p.records)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("advisory index: %d records for %d packages", idx.Len(), len(idx.Packages()))

	findings := matcher.New(idx, matcher.WithLogger(p.logger)).Match(g)
	for _, f := range findings {
		p.collector.CounterInc(metrics.FindingsTotal.Name, "severity", f.Severity.String())
	}

	issues := audit.New(audit.WithLogger(p.logger)).Audit(m, g)

	rep := report.Assemble(report.Input{
		Manifest:   m,
		Graph:      g,
		Violations: violations,
		Warnings:   warnings,
		Findings:   findings,
		Issues:     issues,
	})

	p.logger.Info("scan %s: %d findings, %d violations, %d warnings",
		rep.ScanID, len(findings), len(violations), len(warnings))
	return rep, nil
}
