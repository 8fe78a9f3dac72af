package offer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOfferRoundTrip(t *testing.T) {
	t.Parallel()

	amount := uint64(1000)
	var nodeID [32]byte
	nodeID[0] = 0x01

	o := &Offer{
		Description: []byte("a test offer"),
		Amount:      &amount,
		NodeID:      &nodeID,
	}

	var buf bytes.Buffer
	require.NoError(t, o.Encode(&buf))

	decoded, err := DecodeOffer(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	require.Equal(t, o.Description, decoded.Description)
	require.Equal(t, *o.Amount, *decoded.Amount)
	require.Equal(t, *o.NodeID, *decoded.NodeID)
	require.NoError(t, decoded.Validate())
}

func TestMerkleRootStableUnderReencode(t *testing.T) {
	t.Parallel()

	amount := uint64(500)
	var nodeID [32]byte
	nodeID[1] = 0x02

	o := &Offer{
		Description: []byte("stability check"),
		Amount:      &amount,
		NodeID:      &nodeID,
	}

	root1, err := o.MerkleRoot()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, o.Encode(&buf))

	decoded, err := DecodeOffer(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	root2, err := decoded.MerkleRoot()
	require.NoError(t, err)

	require.Equal(t, root1, root2)
}

func TestDecodeOfferRejectsUnknownEvenType(t *testing.T) {
	t.Parallel()

	amount := uint64(1)
	var nodeID [32]byte

	o := &Offer{
		Description: []byte("x"),
		Amount:      &amount,
		NodeID:      &nodeID,
		CustomRecords: CustomSet{
			// Type 100 is even and unrecognized: must fail.
			100: []byte{0xff},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, o.Encode(&buf))

	_, err := DecodeOffer(bytes.NewReader(buf.Bytes()))
	require.ErrorIs(t, err, errUnknownEvenType)
}

func TestDecodeOfferKeepsUnknownOddType(t *testing.T) {
	t.Parallel()

	amount := uint64(1)
	var nodeID [32]byte

	o := &Offer{
		Description: []byte("x"),
		Amount:      &amount,
		NodeID:      &nodeID,
		CustomRecords: CustomSet{
			101: []byte{0xaa, 0xbb},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, o.Encode(&buf))

	decoded, err := DecodeOffer(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa, 0xbb}, decoded.CustomRecords[101])
}

func TestInvoiceRequestRoundTrip(t *testing.T) {
	t.Parallel()

	req := &InvoiceRequest{
		OfferID: [32]byte{0x01},
		PayerKey: [32]byte{0x02},
		PayerInfo: [16]byte{0x03},
	}

	var buf bytes.Buffer
	require.NoError(t, req.Encode(&buf))

	decoded, err := DecodeInvoiceRequest(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	require.Equal(t, req.OfferID, decoded.OfferID)
	require.Equal(t, req.PayerKey, decoded.PayerKey)
	require.Equal(t, req.PayerInfo, decoded.PayerInfo)
}

// TestOfferMerkleRootExcludesSignature checks that a signature attached
// after the fact does not change the merkle root it was computed over —
// otherwise verification would be circular.
func TestOfferMerkleRootExcludesSignature(t *testing.T) {
	t.Parallel()

	amount := uint64(500)
	var nodeID [32]byte
	nodeID[1] = 0x02

	o := &Offer{
		Description: []byte("stability check"),
		Amount:      &amount,
		NodeID:      &nodeID,
	}

	unsignedRoot, err := o.MerkleRoot()
	require.NoError(t, err)

	var sig [64]byte
	sig[0] = 0xaa
	o.Signature = &sig

	signedRoot, err := o.MerkleRoot()
	require.NoError(t, err)

	require.Equal(t, unsignedRoot, signedRoot)
}

func TestSigHashDomainSeparation(t *testing.T) {
	t.Parallel()

	var merkle [32]byte
	merkle[0] = 0x42

	h1 := SigHash("offer", "signature", merkle)
	h2 := SigHash("invoice", "signature", merkle)

	require.NotEqual(t, h1, h2)
}
