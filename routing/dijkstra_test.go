package routing

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T, supportsOnion bool) (*Node, Vertex) {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	n := &Node{PubKey: priv.PubKey(), SupportsOnionMessages: supportsOnion}

	return n, NewVertex(n.PubKey)
}

// TestFindRouteSimplePath checks that a route is found across a chain of
// onion-message-capable nodes.
func TestFindRouteSimplePath(t *testing.T) {
	t.Parallel()

	g := NewMemoryGraph()

	a, aV := newTestNode(t, true)
	b, bV := newTestNode(t, true)
	c, cV := newTestNode(t, true)

	g.AddNode(a)
	g.AddNode(b)
	g.AddNode(c)

	g.AddEdge(&Edge{ChannelID: 1, From: aV, To: bV, Enabled: true})
	g.AddEdge(&Edge{ChannelID: 1, From: bV, To: aV, Enabled: true})
	g.AddEdge(&Edge{ChannelID: 2, From: bV, To: cV, Enabled: true})
	g.AddEdge(&Edge{ChannelID: 2, From: cV, To: bV, Enabled: true})

	path, err := FindRoute(g, aV, cV)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, path)
}

// TestFindRouteRequiresOnionCapability checks that a node not advertising
// onion-message support is not traversable, even though the underlying
// channel is admissible in both directions.
func TestFindRouteRequiresOnionCapability(t *testing.T) {
	t.Parallel()

	g := NewMemoryGraph()

	a, aV := newTestNode(t, true)
	b, bV := newTestNode(t, false)
	c, cV := newTestNode(t, true)

	g.AddNode(a)
	g.AddNode(b)
	g.AddNode(c)

	g.AddEdge(&Edge{ChannelID: 1, From: aV, To: bV, Enabled: true})
	g.AddEdge(&Edge{ChannelID: 1, From: bV, To: aV, Enabled: true})
	g.AddEdge(&Edge{ChannelID: 2, From: bV, To: cV, Enabled: true})
	g.AddEdge(&Edge{ChannelID: 2, From: cV, To: bV, Enabled: true})

	_, err := FindRoute(g, aV, cV)
	require.ErrorIs(t, err, ErrRouteNotFound)
}

// TestFindRouteDisabledDirection checks that a channel disabled in either
// direction is inadmissible in both directions: a half-edge only routes
// if its whole channel is enabled.
func TestFindRouteDisabledDirection(t *testing.T) {
	t.Parallel()

	g := NewMemoryGraph()

	a, aV := newTestNode(t, true)
	b, bV := newTestNode(t, true)

	g.AddNode(a)
	g.AddNode(b)

	g.AddEdge(&Edge{ChannelID: 1, From: aV, To: bV, Enabled: false})
	g.AddEdge(&Edge{ChannelID: 1, From: bV, To: aV, Enabled: true})

	_, err := FindRoute(g, aV, bV)
	require.ErrorIs(t, err, ErrRouteNotFound)

	_, err = FindRoute(g, bV, aV)
	require.ErrorIs(t, err, ErrRouteNotFound)
}

// TestResolveDestination checks x-only node_id matching against a graph
// populated with full (parity-disambiguated) public keys.
func TestResolveDestination(t *testing.T) {
	t.Parallel()

	g := NewMemoryGraph()

	n, v := newTestNode(t, true)
	g.AddNode(n)

	var xOnly [32]byte
	copy(xOnly[:], n.PubKey.SerializeCompressed()[1:])

	got, err := ResolveDestination(g, xOnly)
	require.NoError(t, err)
	require.Equal(t, v, got)

	var unknown [32]byte
	unknown[0] = 0xff
	_, err = ResolveDestination(g, unknown)
	require.ErrorIs(t, err, ErrUnknownDestination)
}

// TestFindRouteShortestPath checks that Dijkstra prefers the
// fewer-hops path when multiple routes exist.
func TestFindRouteShortestPath(t *testing.T) {
	t.Parallel()

	g := NewMemoryGraph()

	a, aV := newTestNode(t, true)
	b, bV := newTestNode(t, true)
	c, cV := newTestNode(t, true)
	d, dV := newTestNode(t, true)

	g.AddNode(a)
	g.AddNode(b)
	g.AddNode(c)
	g.AddNode(d)

	// Direct two-hop path: a -> b -> d.
	g.AddEdge(&Edge{ChannelID: 1, From: aV, To: bV, Enabled: true})
	g.AddEdge(&Edge{ChannelID: 1, From: bV, To: aV, Enabled: true})
	g.AddEdge(&Edge{ChannelID: 2, From: bV, To: dV, Enabled: true})
	g.AddEdge(&Edge{ChannelID: 2, From: dV, To: bV, Enabled: true})

	// Longer three-hop path: a -> c -> b -> d.
	g.AddEdge(&Edge{ChannelID: 3, From: aV, To: cV, Enabled: true})
	g.AddEdge(&Edge{ChannelID: 3, From: cV, To: aV, Enabled: true})
	g.AddEdge(&Edge{ChannelID: 4, From: cV, To: bV, Enabled: true})
	g.AddEdge(&Edge{ChannelID: 4, From: bV, To: cV, Enabled: true})

	path, err := FindRoute(g, aV, dV)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, path)
}
