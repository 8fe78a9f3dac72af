// Package routing locates a route to an offer's recipient through an
// overlay graph of nodes advertising onion-message relay support.
package routing

import (
	"bytes"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/exp/maps"
)

// ErrUnknownDestination is returned when an offer's node_id does not
// match any node present in the graph.
var ErrUnknownDestination = errors.New("destination not found in graph")

// ErrRouteNotFound is returned when no admissible path exists between the
// source and destination.
var ErrRouteNotFound = errors.New("no route found")

// Vertex identifies a graph node by its compressed public key.
type Vertex [33]byte

// NewVertex derives a Vertex from a public key.
func NewVertex(pubkey *btcec.PublicKey) Vertex {
	var v Vertex
	copy(v[:], pubkey.SerializeCompressed())

	return v
}

// Node describes a single graph participant and the capabilities we care
// about for onion-message routing.
type Node struct {
	// PubKey is the node's full (parity-disambiguated) public key.
	PubKey *btcec.PublicKey

	// SupportsOnionMessages reports whether this node advertises the
	// capability required to relay onion messages.
	SupportsOnionMessages bool
}

// Edge is one direction of a channel between two nodes.
type Edge struct {
	// ChannelID uniquely identifies the channel this half-edge belongs
	// to.
	ChannelID uint64

	// From is the half-edge's origin node.
	From Vertex

	// To is the half-edge's destination node.
	To Vertex

	// Enabled reports whether this direction of the channel is
	// currently usable.
	Enabled bool
}

// Graph is the read-only overlay topology a route is found over. The
// concrete backing gossip store is an external collaborator; this
// interface is the only surface the router depends on.
type Graph interface {
	// Node returns the node for a vertex, if present.
	Node(v Vertex) (*Node, bool)

	// Nodes returns every vertex currently known to the graph.
	Nodes() []Vertex

	// Edges returns the outbound half-edges for a vertex.
	Edges(v Vertex) []*Edge
}

// MemoryGraph is a simple in-memory adjacency-list Graph implementation,
// suitable for tests and for callers that maintain their own gossip
// cache and hand this package a snapshot.
type MemoryGraph struct {
	nodes map[Vertex]*Node
	edges map[Vertex][]*Edge
}

// NewMemoryGraph returns an empty in-memory graph.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		nodes: make(map[Vertex]*Node),
		edges: make(map[Vertex][]*Edge),
	}
}

// AddNode registers a node in the graph.
func (g *MemoryGraph) AddNode(n *Node) {
	g.nodes[NewVertex(n.PubKey)] = n
}

// AddEdge registers one direction of a channel. Call twice (swapping
// From/To and each side's Enabled flag) to represent a full channel.
func (g *MemoryGraph) AddEdge(e *Edge) {
	g.edges[e.From] = append(g.edges[e.From], e)
}

// Node implements Graph.
func (g *MemoryGraph) Node(v Vertex) (*Node, bool) {
	n, ok := g.nodes[v]

	return n, ok
}

// Nodes implements Graph. It returns the backing map's keys as a slice
// via maps.Keys; the order of the slice is not defined.
func (g *MemoryGraph) Nodes() []Vertex {
	return maps.Keys(g.nodes)
}

// Edges implements Graph.
func (g *MemoryGraph) Edges(v Vertex) []*Edge {
	return g.edges[v]
}

// ResolveDestination locates the graph node matching an offer's x-only
// node_id. Because the offer only discloses an x-coordinate, either
// parity's full public key is an admissible match; the unique node
// actually present in the graph is returned, or ErrUnknownDestination if
// none (or, in the cryptographically negligible case of both parities
// being present, neither uniquely) matches.
func ResolveDestination(g Graph, xOnlyNodeID [32]byte) (Vertex, error) {
	var (
		match Vertex
		found bool
	)

	for _, v := range g.Nodes() {
		n, ok := g.Node(v)
		if !ok {
			continue
		}

		compressed := n.PubKey.SerializeCompressed()
		if !bytes.Equal(compressed[1:], xOnlyNodeID[:]) {
			continue
		}

		if found {
			return Vertex{}, ErrUnknownDestination
		}

		match = v
		found = true
	}

	if !found {
		return Vertex{}, ErrUnknownDestination
	}

	return match, nil
}

// admissible implements the edge-admissibility predicate: a half-edge is
// usable iff both directions of its channel are enabled and the receiving
// endpoint advertises onion message support. The amount is deliberately
// unused — this is a reachability search, not a liquidity search.
func admissible(g Graph, e *Edge) bool {
	if !e.Enabled {
		return false
	}

	reverse, ok := findReverseEdge(g, e)
	if !ok || !reverse.Enabled {
		return false
	}

	to, ok := g.Node(e.To)
	if !ok {
		return false
	}

	return to.SupportsOnionMessages
}

// findReverseEdge locates the half-edge traveling back across e's channel,
// from e.To to e.From.
func findReverseEdge(g Graph, e *Edge) (*Edge, bool) {
	for _, candidate := range g.Edges(e.To) {
		if candidate.ChannelID == e.ChannelID && candidate.To == e.From {
			return candidate, true
		}
	}

	return nil, false
}
