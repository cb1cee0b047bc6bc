// Package graph builds and holds the resolved dependency graph: one node
// per package identity, directed requirement edges, and the provenance
// needed to explain why any package is present.
//
// The graph is an arena: nodes live in an identity-keyed map and edges
// reference identities, never node pointers. Once built the graph is
// immutable for the rest of the scan, except for the single-threaded merge
// step of deep-scan enrichment.
package graph

import (
	"sort"

	"github.com/cratewatch/cratewatch/pkg/manifest"
	"github.com/cratewatch/cratewatch/pkg/semver"
)

// PackageID is the immutable identity of a resolved package instance. Two
// identities are equal iff name and version are identical.
type PackageID struct {
	Name    string
	Version semver.Version
}

// Key renders the canonical map key, "name@version".
func (id PackageID) Key() string {
	return id.Name + "@" + id.Version.String()
}

// String renders the identity for display.
func (id PackageID) String() string {
	return id.Key()
}

// EdgeKind classifies a requirement edge.
type EdgeKind string

const (
	EdgeNormal EdgeKind = "normal"
	EdgeDev    EdgeKind = "dev"
	EdgeBuild  EdgeKind = "build"
)

// Node is one resolved package instance. Nodes are owned by the graph and
// referenced by identity.
type Node struct {
	ID PackageID

	// Features enabled on the package, known for direct dependencies.
	Features []string

	// Optional marks optional/dev-only dependencies.
	Optional bool

	// Origin is where the package is sourced from. Informational.
	Origin manifest.Origin

	// Inferred marks nodes discovered only by deep-scan enrichment,
	// absent from the lockfile snapshot.
	Inferred bool
}

// Edge is a directed "From requires To" relation.
type Edge struct {
	From PackageID
	To   PackageID

	// Requirement is the version constraint the edge asserts. Lockfile
	// resolution edges pin the exact locked version.
	Requirement *semver.Constraint

	Kind EdgeKind

	// Inferred marks speculative deep-scan edges. An inferred edge never
	// overrides a lockfile-asserted edge for the same (From, To) pair.
	Inferred bool
}

// Graph is the dependency graph arena.
type Graph struct {
	root PackageID

	nodes map[string]*Node
	edges map[[2]string]*Edge

	// Adjacency by identity key, kept for traversal and provenance.
	outgoing map[string][]*Edge
	incoming map[string][]*Edge
}

// New creates an empty graph rooted at the given identity.
func New(root PackageID) *Graph {
	return &Graph{
		root:     root,
		nodes:    make(map[string]*Node),
		edges:    make(map[[2]string]*Edge),
		outgoing: make(map[string][]*Edge),
		incoming: make(map[string][]*Edge),
	}
}

// Root returns the root package identity.
func (g *Graph) Root() PackageID {
	return g.root
}

// AddNode inserts a node, deduplicating by identity. When the identity
// already exists the nodes merge: a lockfile-asserted node always wins over
// an inferred one, and known flags are kept.
func (g *Graph) AddNode(n *Node) *Node {
	key := n.ID.Key()
	existing, ok := g.nodes[key]
	if !ok {
		g.nodes[key] = n
		return n
	}
	if existing.Inferred && !n.Inferred {
		existing.Inferred = false
	}
	if len(existing.Features) == 0 {
		existing.Features = n.Features
	}
	if n.Optional {
		existing.Optional = true
	}
	if existing.Origin == "" {
		existing.Origin = n.Origin
	}
	return existing
}

// Node returns the node with the given identity, or nil.
func (g *Graph) Node(id PackageID) *Node {
	return g.nodes[id.Key()]
}

// NodeByKey returns the node with the given canonical key, or nil.
func (g *Graph) NodeByKey(key string) *Node {
	return g.nodes[key]
}

// AddEdge inserts an edge, deduplicating by (From, To). A duplicate
// asserted edge replaces an inferred one; an inferred duplicate of an
// asserted edge is dropped.
func (g *Graph) AddEdge(e *Edge) *Edge {
	key := [2]string{e.From.Key(), e.To.Key()}
	existing, ok := g.edges[key]
	if ok {
		if existing.Inferred && !e.Inferred {
			existing.Requirement = e.Requirement
			existing.Kind = e.Kind
			existing.Inferred = false
		}
		return existing
	}
	g.edges[key] = e
	g.outgoing[key[0]] = append(g.outgoing[key[0]], e)
	g.incoming[key[1]] = append(g.incoming[key[1]], e)
	return e
}

// Nodes returns all nodes ordered by identity key.
func (g *Graph) Nodes() []*Node {
	keys := make([]string, 0, len(g.nodes))
	for k := range g.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	nodes := make([]*Node, len(keys))
	for i, k := range keys {
		nodes[i] = g.nodes[k]
	}
	return nodes
}

// Edges returns all edges ordered by (From, To) identity keys.
func (g *Graph) Edges() []*Edge {
	keys := make([][2]string, 0, len(g.edges))
	for k := range g.edges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	edges := make([]*Edge, len(keys))
	for i, k := range keys {
		edges[i] = g.edges[k]
	}
	return edges
}

// Outgoing returns the edges leaving the given identity, ordered by target.
func (g *Graph) Outgoing(id PackageID) []*Edge {
	edges := append([]*Edge(nil), g.outgoing[id.Key()]...)
	sort.Slice(edges, func(i, j int) bool { return edges[i].To.Key() < edges[j].To.Key() })
	return edges
}

// Incoming returns the edges arriving at the given identity, ordered by
// source. This is the provenance record for finding paths.
func (g *Graph) Incoming(id PackageID) []*Edge {
	edges := append([]*Edge(nil), g.incoming[id.Key()]...)
	sort.Slice(edges, func(i, j int) bool { return edges[i].From.Key() < edges[j].From.Key() })
	return edges
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// InferredNodeCount returns the number of deep-scan-only nodes.
func (g *Graph) InferredNodeCount() int {
	n := 0
	for _, node := range g.nodes {
		if node.Inferred {
			n++
		}
	}
	return n
}

// PathFromRoot returns the shortest chain of identities from the root to
// the given identity, inclusive on both ends. Ties break toward the
// lexically smallest predecessor so repeated runs yield identical paths.
// Returns nil when the node is unreachable from the root.
func (g *Graph) PathFromRoot(id PackageID) []PackageID {
	target := id.Key()
	rootKey := g.root.Key()
	if target == rootKey {
		return []PackageID{g.root}
	}

	// BFS backward over incoming edges.
	visited := map[string]hop{target: {id: id}}
	frontier := []string{target}

	for len(frontier) > 0 {
		var next []string
		for _, key := range frontier {
			node := visited[key]
			for _, e := range g.Incoming(node.id) {
				from := e.From.Key()
				if _, seen := visited[from]; seen {
					continue
				}
				visited[from] = hop{id: e.From, prev: key}
				if from == rootKey {
					return g.assemblePath(visited, rootKey)
				}
				next = append(next, from)
			}
		}
		sort.Strings(next)
		frontier = next
	}
	return nil
}

func (g *Graph) assemblePath(visited map[string]hop, rootKey string) []PackageID {
	var path []PackageID
	for key := rootKey; key != ""; key = visited[key].prev {
		path = append(path, visited[key].id)
	}
	return path
}

type hop struct {
	id   PackageID
	prev string
}
