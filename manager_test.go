package boltnd

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/carlakc/boltnd/blindedpath"
	"github.com/carlakc/boltnd/invreq"
	"github.com/carlakc/boltnd/offer"
	"github.com/carlakc/boltnd/routing"
	"github.com/carlakc/boltnd/signer"
	"github.com/carlakc/boltnd/store"
)

func noopSigner() *signer.Gateway {
	return signer.NewGateway(&signer.Config{
		Sign: func(string, string, [32]byte, []byte) ([64]byte, error) {
			return [64]byte{1}, nil
		},
		Shutdown: func(string, ...interface{}) {},
	})
}

// testTopology wires a two-node graph: self (the payer) and recipient,
// connected by a single channel, both advertising onion-message support.
type testTopology struct {
	selfPriv, recipientPriv     *btcec.PrivateKey
	selfVertex, recipientVertex routing.Vertex
	graph                       *routing.MemoryGraph
}

func newTestTopology(t *testing.T) *testTopology {
	t.Helper()

	selfPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	recipientPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	selfNode := &routing.Node{
		PubKey:                selfPriv.PubKey(),
		SupportsOnionMessages: true,
	}
	recipientNode := &routing.Node{
		PubKey:                recipientPriv.PubKey(),
		SupportsOnionMessages: true,
	}

	g := routing.NewMemoryGraph()
	g.AddNode(selfNode)
	g.AddNode(recipientNode)

	selfVertex := routing.NewVertex(selfNode.PubKey)
	recipientVertex := routing.NewVertex(recipientNode.PubKey)

	g.AddEdge(&routing.Edge{
		ChannelID: 1, From: selfVertex, To: recipientVertex, Enabled: true,
	})
	g.AddEdge(&routing.Edge{
		ChannelID: 1, From: recipientVertex, To: selfVertex, Enabled: true,
	})

	return &testTopology{
		selfPriv:        selfPriv,
		recipientPriv:   recipientPriv,
		selfVertex:      selfVertex,
		recipientVertex: recipientVertex,
		graph:           g,
	}
}

func newTestManager(t *testing.T, topo *testTopology, send OnionMessenger,
	timeout time.Duration) (*Manager, *store.Store) {

	t.Helper()

	st := store.NewStore()

	cfg := &Config{
		Offers:              st,
		InvoiceRequests:     invreq.NewBuilder(&invreq.Config{Signer: noopSigner()}),
		Signer:              noopSigner(),
		Graph:               topo.graph,
		SendOnionMessage:    send,
		OwnNodeKey:          topo.selfPriv.PubKey(),
		PayerBaseKey:        topo.selfPriv.PubKey(),
		Clock:               clock.NewDefaultClock(),
		PendingTimeout:      timeout,
		PendingTickInterval: 10 * time.Millisecond,
	}

	m := NewManager(cfg)
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })

	return m, st
}

// TestHealthCheckOverlayLiveness checks that the overlay liveness
// Observation fails once our own node is removed from the graph snapshot,
// and that the configured number of failures triggers Shutdown.
func TestHealthCheckOverlayLiveness(t *testing.T) {
	t.Parallel()

	topo := newTestTopology(t)

	shutdownCalled := make(chan string, 1)

	cfg := &Config{
		Offers:              store.NewStore(),
		InvoiceRequests:     invreq.NewBuilder(&invreq.Config{Signer: noopSigner()}),
		Signer:              noopSigner(),
		Graph:               topo.graph,
		SendOnionMessage:    func(*btcec.PublicKey, *blindedpath.Path, []byte) error { return nil }, //nolint:lll
		OwnNodeKey:          topo.selfPriv.PubKey(),
		PayerBaseKey:        topo.selfPriv.PubKey(),
		Clock:               clock.NewDefaultClock(),
		PendingTimeout:      time.Minute,
		PendingTickInterval: time.Minute,
		HealthCheckInterval: time.Millisecond,
		HealthCheckTimeout:  time.Second,
		HealthCheckBackoff:  time.Millisecond,
		HealthCheckAttempts: 1,
		Shutdown: func(format string, params ...interface{}) {
			select {
			case shutdownCalled <- format:
			default:
			}
		},
	}

	m := NewManager(cfg)
	require.NotNil(t, m.health)

	require.NoError(t, m.checkOverlayLiveness())

	// Drop our own node from the graph: the overlay feed backing it has
	// gone stale, and the liveness check must now fail.
	emptyGraph := routing.NewMemoryGraph()
	cfg.Graph = emptyGraph
	require.ErrorIs(t, m.checkOverlayLiveness(), ErrOverlayUnreachable)

	require.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	select {
	case <-shutdownCalled:
	case <-time.After(time.Second):
		t.Fatal("expected shutdown to be requested after liveness failures")
	}
}

func unsignedTestOffer(t *testing.T, topo *testTopology) string {
	t.Helper()

	var nodeID [32]byte
	copy(nodeID[:], schnorr.SerializePubKey(topo.recipientPriv.PubKey()))

	amount := uint64(1000)

	o := &offer.Offer{
		Description: []byte("a cup of coffee"),
		Amount:      &amount,
		NodeID:      &nodeID,
	}

	s, err := offer.EncodeOfferString(o)
	require.NoError(t, err)

	return s
}

func TestCreateListDisableOffer(t *testing.T) {
	t.Parallel()

	topo := newTestTopology(t)
	m, _ := newTestManager(t, topo, nil, time.Minute)

	bolt12 := unsignedTestOffer(t, topo)

	entry, err := m.CreateOffer(bolt12, "label", true)
	require.NoError(t, err)
	require.Equal(t, store.SingleUse, entry.Status)

	decoded, err := offer.DecodeOfferString(entry.Bolt12)
	require.NoError(t, err)
	require.NotNil(t, decoded.Signature)

	// Creating the same offer again is rejected.
	_, err = m.CreateOffer(bolt12, "label", true)
	require.Error(t, err)
	var coded *CodedError
	require.ErrorAs(t, err, &coded)
	require.Equal(t, ErrCodeOfferAlreadyExists, coded.Code)

	list, err := m.ListOffers(&entry.OfferID, true)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = m.DisableOffer(entry.OfferID)
	require.NoError(t, err)

	list, err = m.ListOffers(&entry.OfferID, true)
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = m.DisableOffer(entry.OfferID)
	require.Error(t, err)
	require.ErrorAs(t, err, &coded)
	require.Equal(t, ErrCodeOfferAlreadyDisabled, coded.Code)
}

// replyWith builds an OnionMessenger that, on send, decodes the dispatched
// invoice request, signs a matching invoice as the recipient, and hands it
// back to mgr via HandleOnionMessage over the same blinding point the
// reply path was built under.
func replyWith(t *testing.T, topo *testTopology, mgr **Manager) OnionMessenger {
	t.Helper()

	return func(dest *btcec.PublicKey, path *blindedpath.Path,
		payload []byte) error {

		go func() {
			req, err := offer.DecodeInvoiceRequest(bytes.NewReader(payload))
			require.NoError(t, err)

			var nodeID [32]byte
			copy(nodeID[:], schnorr.SerializePubKey(topo.recipientPriv.PubKey()))

			payerKey := req.PayerKey
			payerInfo := req.PayerInfo

			inv := &offer.Invoice{
				OfferID:     req.OfferID,
				NodeID:      nodeID,
				Amount:      *req.Amount,
				Description: []byte("a cup of coffee"),
				PayerKey:    &payerKey,
				PayerInfo:   &payerInfo,
			}

			merkle, err := inv.MerkleRoot()
			require.NoError(t, err)

			digest := offer.SigHash("invoice", "signature", merkle)

			sig, err := schnorr.Sign(topo.recipientPriv, digest[:])
			require.NoError(t, err)

			copy(inv.Signature[:], sig.Serialize())

			var buf bytes.Buffer
			require.NoError(t, inv.Encode(&buf))

			require.NoError(t, (*mgr).HandleOnionMessage(
				path.BlindingPoint, buf.Bytes(), nil,
			))
		}()

		return nil
	}
}

// TestFetchInvoiceAccepts drives a full fetch_invoice round trip: the
// simulated recipient answers the dispatched invoice request with a
// validly signed invoice over the same blinding point FetchInvoice
// registered its pending entry under.
func TestFetchInvoiceAccepts(t *testing.T) {
	t.Parallel()

	topo := newTestTopology(t)

	var mgr *Manager
	mgr, _ = newTestManager(t, topo, replyWith(t, topo, &mgr), time.Minute)

	bolt12 := unsignedTestOffer(t, topo)
	entry, err := mgr.CreateOffer(bolt12, "label", false)
	require.NoError(t, err)

	result, err := mgr.FetchInvoice(&FetchParams{OfferID: entry.OfferID})
	require.NoError(t, err)
	require.NotNil(t, result.Invoice)
	require.Equal(t, entry.OfferID, result.Invoice.OfferID)
}

// TestFetchInvoiceTimesOut checks that a fetch with no reply forthcoming
// is reported as timed out rather than hanging forever.
func TestFetchInvoiceTimesOut(t *testing.T) {
	t.Parallel()

	topo := newTestTopology(t)

	send := func(*btcec.PublicKey, *blindedpath.Path, []byte) error {
		return nil
	}

	mgr, _ := newTestManager(t, topo, send, 50*time.Millisecond)

	bolt12 := unsignedTestOffer(t, topo)
	entry, err := mgr.CreateOffer(bolt12, "label", false)
	require.NoError(t, err)

	_, err = mgr.FetchInvoice(&FetchParams{OfferID: entry.OfferID})
	require.Error(t, err)

	var coded *CodedError
	require.ErrorAs(t, err, &coded)
	require.Equal(t, ErrCodeInternal, coded.Code)
	require.Contains(t, coded.Reason, ErrFetchTimeout.Error())
}

// TestHandleOnionMessageUnmatchedBlinding checks that a reply arriving
// under a blinding point with no pending request is silently discarded.
func TestHandleOnionMessageUnmatchedBlinding(t *testing.T) {
	t.Parallel()

	topo := newTestTopology(t)
	mgr, _ := newTestManager(t, topo, nil, time.Minute)

	stray, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	err = mgr.HandleOnionMessage(stray.PubKey(), []byte("irrelevant"), nil)
	require.NoError(t, err)
}
