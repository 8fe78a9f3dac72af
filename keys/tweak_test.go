package keys

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func TestDerivePayerKeyDeterministic(t *testing.T) {
	t.Parallel()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	tweak := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

	key1, err := DerivePayerKey(priv.PubKey(), tweak)
	require.NoError(t, err)

	key2, err := DerivePayerKey(priv.PubKey(), tweak)
	require.NoError(t, err)

	require.Equal(t, SerializeXOnly(key1), SerializeXOnly(key2))
}

func TestDerivePayerKeyUnlinkableAcrossTweaks(t *testing.T) {
	t.Parallel()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	tweakA := [16]byte{1}
	tweakB := [16]byte{2}

	keyA, err := DerivePayerKey(priv.PubKey(), tweakA)
	require.NoError(t, err)

	keyB, err := DerivePayerKey(priv.PubKey(), tweakB)
	require.NoError(t, err)

	require.NotEqual(t, SerializeXOnly(keyA), SerializeXOnly(keyB))
}
