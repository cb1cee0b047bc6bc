package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cratewatch/cratewatch/pkg/advisory"
	"github.com/cratewatch/cratewatch/pkg/core"
	"github.com/cratewatch/cratewatch/pkg/errors"
	"github.com/cratewatch/cratewatch/pkg/graph"
	"github.com/cratewatch/cratewatch/pkg/metrics"
	"github.com/cratewatch/cratewatch/pkg/semver"
	"github.com/cratewatch/cratewatch/pkg/shared/severity"
)

const testManifest = `[package]
name = "app"
version = "0.1.0"

[dependencies]
serde = "1.0"
log = "0.4"
`

const testLockfile = `version = 4

[[package]]
name = "app"
version = "0.1.0"
dependencies = [
 "log",
 "serde",
]

[[package]]
name = "log"
version = "0.4.17"
source = "registry+https://github.com/rust-lang/crates.io-index"

[[package]]
name = "serde"
version = "1.0.5"
source = "registry+https://github.com/rust-lang/crates.io-index"
`

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(testManifest), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Cargo.lock"), []byte(testLockfile), 0644); err != nil {
		t.Fatalf("write lockfile: %v", err)
	}
	return dir
}

func testAdvisories() []*advisory.Record {
	return []*advisory.Record{{
		ID:          "RUSTSEC-2020-0002",
		Package:     "serde",
		Severity:    severity.High,
		Description: "deserialization of untrusted data",
		Affected:    []string{">=1.0.0, <1.0.10"},
		Patched:     "1.0.10",
	}}
}

type stubSource struct {
	deps map[string][]graph.DeclaredDep
}

func (s *stubSource) Dependencies(ctx context.Context, name string, version semver.Version) ([]graph.DeclaredDep, error) {
	return s.deps[name], nil
}

func TestPipeline_Run(t *testing.T) {
	dir := writeProject(t)
	collector := metrics.NewInMemoryCollector()

	p := New(
		&core.ScanOptions{ManifestPath: filepath.Join(dir, "Cargo.toml")},
		WithAdvisories(testAdvisories()),
		WithCollector(collector),
	)

	rep, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.Project != "app@0.1.0" {
		t.Errorf("Project = %q, want app@0.1.0", rep.Project)
	}
	if rep.Stats.Nodes != 3 {
		t.Errorf("Stats.Nodes = %d, want 3", rep.Stats.Nodes)
	}
	if len(rep.Findings) != 1 || rep.Findings[0].AdvisoryID != "RUSTSEC-2020-0002" {
		t.Fatalf("Findings = %+v, want one serde finding", rep.Findings)
	}
	if len(rep.Violations) != 0 {
		t.Errorf("Violations = %+v, want none", rep.Violations)
	}
	// log@0.4.17 is pre-1.0, so the audit flags it.
	if len(rep.Issues) != 1 || rep.Issues[0].Package != "log" {
		t.Errorf("Issues = %+v, want one pre-1.0 issue on log", rep.Issues)
	}

	if got := collector.GetCounter(metrics.ScansTotal.Name, "status", "ok"); got != 1 {
		t.Errorf("ok scans = %v, want 1", got)
	}
	if got := collector.GetCounter(metrics.FindingsTotal.Name, "severity", "high"); got != 1 {
		t.Errorf("high findings = %v, want 1", got)
	}
	if got := collector.GetGauge(metrics.GraphNodes.Name); got != 3 {
		t.Errorf("graph nodes gauge = %v, want 3", got)
	}
}

func TestPipeline_Run_DeepScan(t *testing.T) {
	dir := writeProject(t)

	source := &stubSource{deps: map[string][]graph.DeclaredDep{
		"serde": {{Name: "serde_derive", Requirement: "^1.0", Kind: graph.EdgeNormal}},
	}}

	p := New(
		&core.ScanOptions{
			ManifestPath: filepath.Join(dir, "Cargo.toml"),
			DeepScan:     true,
		},
		WithAdvisories(testAdvisories()),
		WithMetadataSource(source),
	)

	rep, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// serde_derive is absent from the lockfile, so deep scan infers it.
	if rep.Stats.InferredNodes != 1 {
		t.Errorf("InferredNodes = %d, want 1", rep.Stats.InferredNodes)
	}
	if rep.Stats.Nodes != 4 {
		t.Errorf("Nodes = %d, want 4", rep.Stats.Nodes)
	}
}

func TestPipeline_Run_DeepScanWithoutSource(t *testing.T) {
	dir := writeProject(t)

	p := New(
		&core.ScanOptions{
			ManifestPath: filepath.Join(dir, "Cargo.toml"),
			DeepScan:     true,
		},
		WithAdvisories(testAdvisories()),
	)

	// No source configured: deep scan is skipped, not fatal.
	rep, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Stats.InferredNodes != 0 {
		t.Errorf("InferredNodes = %d, want 0", rep.Stats.InferredNodes)
	}
}

func TestPipeline_Run_MissingManifest(t *testing.T) {
	collector := metrics.NewInMemoryCollector()
	p := New(
		&core.ScanOptions{ManifestPath: filepath.Join(t.TempDir(), "Cargo.toml")},
		WithCollector(collector),
	)

	if _, err := p.Run(context.Background()); err == nil {
		t.Fatal("Run should fail without a manifest")
	}
	if got := collector.GetCounter(metrics.ScansTotal.Name, "status", "error"); got != 1 {
		t.Errorf("error scans = %v, want 1", got)
	}
}

func TestPipeline_Run_MissingLockfile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(testManifest), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	p := New(&core.ScanOptions{ManifestPath: filepath.Join(dir, "Cargo.toml")})
	_, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("Run should fail without a lockfile")
	}
	if errors.KindOf(err) != errors.KindLockParse {
		t.Errorf("kind = %v, want lock_parse", errors.KindOf(err))
	}
}

func TestPipeline_Run_BadAdvisories(t *testing.T) {
	dir := writeProject(t)
	p := New(
		&core.ScanOptions{ManifestPath: filepath.Join(dir, "Cargo.toml")},
		WithAdvisories([]*advisory.Record{{ID: "X-1", Package: "serde", Affected: []string{">=bogus"}}}),
	)

	if _, err := p.Run(context.Background()); err == nil {
		t.Fatal("Run should fail on unparseable advisory data")
	}
}
