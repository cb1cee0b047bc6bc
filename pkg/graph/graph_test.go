package graph

import (
	"testing"

	"github.com/cratewatch/cratewatch/pkg/semver"
)

func id(name, version string) PackageID {
	return PackageID{Name: name, Version: semver.MustParseVersion(version)}
}

func TestPackageID_Key(t *testing.T) {
	if got := id("serde", "1.0.5").Key(); got != "serde@1.0.5" {
		t.Errorf("Key() = %q, want serde@1.0.5", got)
	}
	if got := id("tokio", "1.0.0-alpha.1").Key(); got != "tokio@1.0.0-alpha.1" {
		t.Errorf("Key() = %q, want tokio@1.0.0-alpha.1", got)
	}
}

// Diamond dependencies collapse: A and B both requiring C@1.0.0 yields one
// node for C with two incoming edges.
func TestGraph_DiamondDedup(t *testing.T) {
	root := id("root", "0.1.0")
	g := New(root)

	a, b, c := id("a", "1.0.0"), id("b", "1.0.0"), id("c", "1.0.0")
	g.AddNode(&Node{ID: root})
	g.AddNode(&Node{ID: a})
	g.AddNode(&Node{ID: b})
	g.AddNode(&Node{ID: c})
	g.AddNode(&Node{ID: c}) // second arrival of the same identity

	req := semver.MustParseConstraint("^1.0.0")
	g.AddEdge(&Edge{From: root, To: a, Requirement: req, Kind: EdgeNormal})
	g.AddEdge(&Edge{From: root, To: b, Requirement: req, Kind: EdgeNormal})
	g.AddEdge(&Edge{From: a, To: c, Requirement: req, Kind: EdgeNormal})
	g.AddEdge(&Edge{From: b, To: c, Requirement: req, Kind: EdgeNormal})

	if g.NodeCount() != 4 {
		t.Errorf("NodeCount = %d, want 4", g.NodeCount())
	}

	incoming := g.Incoming(c)
	if len(incoming) != 2 {
		t.Fatalf("len(Incoming(c)) = %d, want 2", len(incoming))
	}
	if incoming[0].From.Name != "a" || incoming[1].From.Name != "b" {
		t.Errorf("incoming edges not ordered by source: %v, %v", incoming[0].From, incoming[1].From)
	}
}

func TestGraph_AddEdge_InferredNeverOverridesAsserted(t *testing.T) {
	root := id("root", "0.1.0")
	g := New(root)
	a := id("a", "1.0.0")
	g.AddNode(&Node{ID: root})
	g.AddNode(&Node{ID: a})

	asserted := semver.MustParseConstraint("=1.0.0")
	inferred := semver.MustParseConstraint("^1.0")

	g.AddEdge(&Edge{From: root, To: a, Requirement: asserted, Kind: EdgeNormal})
	g.AddEdge(&Edge{From: root, To: a, Requirement: inferred, Kind: EdgeNormal, Inferred: true})

	edges := g.Edges()
	if len(edges) != 1 {
		t.Fatalf("EdgeCount = %d, want 1", len(edges))
	}
	if edges[0].Inferred {
		t.Error("inferred edge must not override the asserted one")
	}
	if edges[0].Requirement.String() != "=1.0.0" {
		t.Errorf("requirement = %q, want =1.0.0", edges[0].Requirement.String())
	}
}

func TestGraph_AddEdge_AssertedUpgradesInferred(t *testing.T) {
	root := id("root", "0.1.0")
	g := New(root)
	a := id("a", "1.0.0")

	g.AddEdge(&Edge{From: root, To: a, Requirement: semver.MustParseConstraint("^1.0"), Kind: EdgeNormal, Inferred: true})
	g.AddEdge(&Edge{From: root, To: a, Requirement: semver.MustParseConstraint("=1.0.0"), Kind: EdgeNormal})

	edges := g.Edges()
	if len(edges) != 1 {
		t.Fatalf("EdgeCount = %d, want 1", len(edges))
	}
	if edges[0].Inferred {
		t.Error("asserted edge should replace the inferred one")
	}
}

func TestGraph_AddNode_AssertedUpgradesInferred(t *testing.T) {
	g := New(id("root", "0.1.0"))
	a := id("a", "1.0.0")

	g.AddNode(&Node{ID: a, Inferred: true})
	g.AddNode(&Node{ID: a})

	if g.Node(a).Inferred {
		t.Error("lockfile-asserted node should clear the inferred flag")
	}
	if g.InferredNodeCount() != 0 {
		t.Errorf("InferredNodeCount = %d, want 0", g.InferredNodeCount())
	}
}

func TestGraph_PathFromRoot(t *testing.T) {
	root := id("root", "0.1.0")
	g := New(root)
	a, b, c := id("a", "1.0.0"), id("b", "1.0.0"), id("c", "1.0.0")

	req := semver.MustParseConstraint("*")
	g.AddNode(&Node{ID: root})
	for _, n := range []PackageID{a, b, c} {
		g.AddNode(&Node{ID: n})
	}
	// root -> a -> b -> c, plus a shortcut root -> b.
	g.AddEdge(&Edge{From: root, To: a, Requirement: req})
	g.AddEdge(&Edge{From: a, To: b, Requirement: req})
	g.AddEdge(&Edge{From: b, To: c, Requirement: req})
	g.AddEdge(&Edge{From: root, To: b, Requirement: req})

	path := g.PathFromRoot(c)
	if len(path) != 3 {
		t.Fatalf("path length = %d, want 3 (shortest via the shortcut)", len(path))
	}
	want := []string{"root@0.1.0", "b@1.0.0", "c@1.0.0"}
	for i, w := range want {
		if path[i].Key() != w {
			t.Errorf("path[%d] = %s, want %s", i, path[i].Key(), w)
		}
	}
}

func TestGraph_PathFromRoot_Unreachable(t *testing.T) {
	g := New(id("root", "0.1.0"))
	orphan := id("orphan", "1.0.0")
	g.AddNode(&Node{ID: orphan})

	if path := g.PathFromRoot(orphan); path != nil {
		t.Errorf("unreachable node should yield nil path, got %v", path)
	}
}

func TestGraph_PathFromRoot_Root(t *testing.T) {
	root := id("root", "0.1.0")
	g := New(root)
	g.AddNode(&Node{ID: root})

	path := g.PathFromRoot(root)
	if len(path) != 1 || path[0].Key() != root.Key() {
		t.Errorf("path to root = %v, want just the root", path)
	}
}

func TestGraph_NodesDeterministicOrder(t *testing.T) {
	g := New(id("root", "0.1.0"))
	for _, name := range []string{"zeta", "alpha", "mid"} {
		g.AddNode(&Node{ID: id(name, "1.0.0")})
	}

	nodes := g.Nodes()
	want := []string{"alpha@1.0.0", "mid@1.0.0", "zeta@1.0.0"}
	for i, w := range want {
		if nodes[i].ID.Key() != w {
			t.Errorf("Nodes()[%d] = %s, want %s", i, nodes[i].ID.Key(), w)
		}
	}
}
