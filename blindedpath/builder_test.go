package blindedpath

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func randomHop(t *testing.T) *Hop {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return &Hop{NodeID: priv.PubKey()}
}

// TestBuildEmptyRoute checks that an empty hop list is rejected.
func TestBuildEmptyRoute(t *testing.T) {
	t.Parallel()

	_, err := Build(nil)
	require.ErrorIs(t, err, ErrEmptyRoute)
}

// TestBuildSingleHop checks that a single-hop reply path (direct to the
// originator) builds successfully and returns a usable blinding point.
func TestBuildSingleHop(t *testing.T) {
	t.Parallel()

	path, err := Build([]*Hop{randomHop(t)})
	require.NoError(t, err)
	require.NotNil(t, path.BlindingPoint)
	require.NotNil(t, path.IntroductionPoint)
	require.Len(t, path.Hops, 1)
}

// TestBuildMultiHop checks that a multi-hop reply path builds one
// blinded entry per hop.
func TestBuildMultiHop(t *testing.T) {
	t.Parallel()

	hops := []*Hop{randomHop(t), randomHop(t), randomHop(t)}

	path, err := Build(hops)
	require.NoError(t, err)
	require.Len(t, path.Hops, len(hops))
}
