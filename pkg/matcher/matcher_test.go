package matcher

import (
	"reflect"
	"testing"

	"github.com/cratewatch/cratewatch/pkg/advisory"
	"github.com/cratewatch/cratewatch/pkg/graph"
	"github.com/cratewatch/cratewatch/pkg/semver"
	"github.com/cratewatch/cratewatch/pkg/shared/severity"
)

func id(name, version string) graph.PackageID {
	return graph.PackageID{Name: name, Version: semver.MustParseVersion(version)}
}

// buildGraph assembles: app -> serde@1.0.5, app -> tokio@1.5.0,
// tokio -> bytes@0.4.12, app -> safe@2.0.0.
func buildGraph(t *testing.T) *graph.Graph {
	t.Helper()

	root := id("app", "0.1.0")
	g := graph.New(root)
	g.AddNode(&graph.Node{ID: root})

	deps := []struct {
		from graph.PackageID
		to   graph.PackageID
	}{
		{root, id("serde", "1.0.5")},
		{root, id("tokio", "1.5.0")},
		{id("tokio", "1.5.0"), id("bytes", "0.4.12")},
		{root, id("safe", "2.0.0")},
	}
	for _, d := range deps {
		g.AddNode(&graph.Node{ID: d.to})
		g.AddEdge(&graph.Edge{
			From:        d.from,
			To:          d.to,
			Requirement: semver.MustParseConstraint("=" + d.to.Version.String()),
			Kind:        graph.EdgeNormal,
		})
	}
	return g
}

func buildIndex(t *testing.T) *advisory.Index {
	t.Helper()

	idx, err := advisory.NewIndex([]*advisory.Record{
		{
			ID:          "RUSTSEC-2020-0002",
			Package:     "serde",
			Severity:    severity.High,
			Description: "deserialization of untrusted data",
			Affected:    []string{">=1.0.0, <1.0.10"},
			Patched:     "1.0.10",
		},
		{
			ID:          "RUSTSEC-2021-0005",
			Package:     "tokio",
			Severity:    severity.Critical,
			Description: "task starvation",
			Affected:    []string{">=1.0.0, <1.8.4", ">=1.9.0, <1.13.1"},
		},
		{
			ID:       "RUSTSEC-2019-0033",
			Package:  "bytes",
			Severity: severity.Medium,
			Affected: []string{"<0.4.12"},
		},
	})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return idx
}

func TestMatcher_Match(t *testing.T) {
	g := buildGraph(t)
	m := New(buildIndex(t))

	findings := m.Match(g)

	// bytes@0.4.12 sits outside "<0.4.12", so only serde and tokio hit.
	if len(findings) != 2 {
		t.Fatalf("len(findings) = %d, want 2", len(findings))
	}

	// Severity descending: critical tokio first, high serde second.
	if findings[0].Package != "tokio" || findings[0].AdvisoryID != "RUSTSEC-2021-0005" {
		t.Errorf("findings[0] = %s/%s, want tokio/RUSTSEC-2021-0005", findings[0].Package, findings[0].AdvisoryID)
	}
	if findings[1].Package != "serde" || findings[1].AdvisoryID != "RUSTSEC-2020-0002" {
		t.Errorf("findings[1] = %s/%s, want serde/RUSTSEC-2020-0002", findings[1].Package, findings[1].AdvisoryID)
	}

	if findings[0].MatchedRange != ">=1.0.0, <1.8.4" {
		t.Errorf("MatchedRange = %q, want the first tokio window", findings[0].MatchedRange)
	}
	if findings[1].Patched != "1.0.10" {
		t.Errorf("Patched = %q, want 1.0.10", findings[1].Patched)
	}

	wantPath := []string{"app@0.1.0", "serde@1.0.5"}
	if !reflect.DeepEqual(findings[1].Path, wantPath) {
		t.Errorf("Path = %v, want %v", findings[1].Path, wantPath)
	}

	if findings[0].Advisory() == nil || findings[0].Advisory().ID != "RUSTSEC-2021-0005" {
		t.Error("finding should carry its advisory record")
	}
}

func TestMatcher_Match_MultipleRanges(t *testing.T) {
	root := id("app", "0.1.0")
	g := graph.New(root)
	g.AddNode(&graph.Node{ID: root})
	g.AddNode(&graph.Node{ID: id("tokio", "1.10.0")})
	g.AddEdge(&graph.Edge{
		From:        root,
		To:          id("tokio", "1.10.0"),
		Requirement: semver.MustParseConstraint("^1.10"),
		Kind:        graph.EdgeNormal,
	})

	idx, err := advisory.NewIndex([]*advisory.Record{{
		ID:       "RUSTSEC-2021-0005",
		Package:  "tokio",
		Severity: severity.Critical,
		Affected: []string{">=1.0.0, <1.8.4", ">=1.9.0, <1.13.1"},
	}})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}

	findings := New(idx).Match(g)

	// 1.10.0 falls only in the second window. One finding, citing it.
	if len(findings) != 1 {
		t.Fatalf("len(findings) = %d, want 1", len(findings))
	}
	if findings[0].MatchedRange != ">=1.9.0, <1.13.1" {
		t.Errorf("MatchedRange = %q, want >=1.9.0, <1.13.1", findings[0].MatchedRange)
	}
}

func TestMatcher_Match_BothRangesHit(t *testing.T) {
	root := id("app", "0.1.0")
	g := graph.New(root)
	g.AddNode(&graph.Node{ID: root})
	g.AddNode(&graph.Node{ID: id("lib", "1.5.0")})
	g.AddEdge(&graph.Edge{
		From:        root,
		To:          id("lib", "1.5.0"),
		Requirement: semver.MustParseConstraint("^1"),
		Kind:        graph.EdgeNormal,
	})

	idx, err := advisory.NewIndex([]*advisory.Record{{
		ID:       "A-1",
		Package:  "lib",
		Severity: severity.High,
		Affected: []string{">=1.0.0", "<2.0.0"},
	}})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}

	findings := New(idx).Match(g)

	// Overlapping declared ranges both contain 1.5.0: one finding each.
	if len(findings) != 2 {
		t.Fatalf("len(findings) = %d, want 2", len(findings))
	}
	if findings[0].MatchedRange != "<2.0.0" || findings[1].MatchedRange != ">=1.0.0" {
		t.Errorf("ranges = %q, %q, want lexical order", findings[0].MatchedRange, findings[1].MatchedRange)
	}
}

func TestMatcher_Match_Deterministic(t *testing.T) {
	g := buildGraph(t)
	idx := buildIndex(t)

	first := New(idx, WithWorkers(8)).Match(g)
	for i := 0; i < 10; i++ {
		again := New(idx, WithWorkers(8)).Match(g)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d produced a different finding order", i)
		}
	}
}

func TestMatcher_Match_CleanGraph(t *testing.T) {
	root := id("app", "0.1.0")
	g := graph.New(root)
	g.AddNode(&graph.Node{ID: root})
	g.AddNode(&graph.Node{ID: id("safe", "2.0.0")})

	findings := New(buildIndex(t)).Match(g)
	if len(findings) != 0 {
		t.Errorf("len(findings) = %d, want 0 for a clean graph", len(findings))
	}
}
