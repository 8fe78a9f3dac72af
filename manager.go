// Package boltnd wires the TLV codec, key tweaker, signer gateway, offer
// store, router, blinded-path builder, pending-request table, and reply
// validator into the offer-driven payment-request lifecycle: publish an
// offer, build an invoice request against one, send it over the onion
// message overlay, and validate whatever comes back.
package boltnd

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/carlakc/boltnd/blindedpath"
	"github.com/carlakc/boltnd/healthcheck"
	"github.com/carlakc/boltnd/invreq"
	"github.com/carlakc/boltnd/lnwire"
	"github.com/carlakc/boltnd/pending"
	"github.com/carlakc/boltnd/routing"
	"github.com/carlakc/boltnd/signer"
	"github.com/carlakc/boltnd/store"
	"github.com/carlakc/boltnd/validate"
)

// ErrOverlayUnreachable is the error a liveness check reports when our own
// node no longer appears in the overlay graph snapshot: a sign that the
// gossip feed backing Config.Graph has gone stale or disconnected.
var ErrOverlayUnreachable = errors.New("own node missing from overlay graph")

// ErrFetchTimeout's text is the reason carried by the CodedError
// FetchInvoice returns when no reply arrives before the pending-request
// table's configured timeout.
var ErrFetchTimeout = errors.New("timed out waiting for invoice reply")

// OnionMessenger dispatches an encrypted onion message payload to
// destination along a blinded reply path. This is the overlay transport
// the core is layered on top of: an external collaborator this package
// neither runs nor owns, the same role healthcheck.Config.Shutdown plays
// for process termination.
type OnionMessenger func(destination *btcec.PublicKey,
	path *blindedpath.Path, payload []byte) error

// Config collects every collaborator the fetch orchestrator wires
// together.
type Config struct {
	// Offers is the offer store.
	Offers *store.Store

	// InvoiceRequests builds signed invoice_request records.
	InvoiceRequests *invreq.Builder

	// Signer countersigns offers at creation time.
	Signer *signer.Gateway

	// Graph is the overlay topology invoice requests are routed over.
	Graph routing.Graph

	// SendOnionMessage dispatches an onion message payload along a
	// blinded path.
	SendOnionMessage OnionMessenger

	// OwnNodeKey is this node's own public key, the source vertex for
	// routing to an offer's recipient.
	OwnNodeKey *btcec.PublicKey

	// PayerBaseKey is tweaked per invoice request to produce an
	// unlinkable payer_key.
	PayerBaseKey *btcec.PublicKey

	// Clock abstracts "now" for the pending-request table's deadlines and
	// for reply validation.
	Clock clock.Clock

	// PendingTimeout bounds how long a fetch may remain outstanding
	// before it is reaped and reported as timed out to its caller.
	PendingTimeout time.Duration

	// PendingTickInterval governs how often the pending-request table
	// scans for timed-out fetches.
	PendingTickInterval time.Duration

	// HealthCheckInterval is how often we confirm our own node still
	// appears in the overlay graph snapshot. Zero disables the check.
	HealthCheckInterval time.Duration

	// HealthCheckTimeout bounds how long a single liveness check may
	// run before it is counted as a failed attempt.
	HealthCheckTimeout time.Duration

	// HealthCheckBackoff is how long we wait between failed liveness
	// check attempts before retrying.
	HealthCheckBackoff time.Duration

	// HealthCheckAttempts is the number of consecutive liveness-check
	// failures after which Shutdown is invoked.
	HealthCheckAttempts int

	// Shutdown requests process termination when the overlay liveness
	// check fails after HealthCheckAttempts tries. Mirrors
	// signer.ShutdownFunc and healthcheck.Config.Shutdown's signature.
	Shutdown func(format string, params ...interface{})
}

// Manager is the fetch orchestrator and control surface.
type Manager struct {
	cfg     *Config
	pending *pending.Table
	health  *healthcheck.Monitor

	mu      sync.Mutex
	waiting map[uuid.UUID]chan fetchOutcome

	started int32
	stopped int32
	quit    chan struct{}
}

// fetchOutcome is the result handed to a blocked FetchInvoice call once its
// pending entry resolves, one way or another.
type fetchOutcome struct {
	result *validate.Result
	err    error
}

// NewManager returns a fetch orchestrator wired to the given config.
func NewManager(cfg *Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	m := &Manager{
		cfg:     cfg,
		waiting: make(map[uuid.UUID]chan fetchOutcome),
		quit:    make(chan struct{}),
	}

	m.pending = pending.NewTable(&pending.Config{
		Timeout:      cfg.PendingTimeout,
		TickInterval: cfg.PendingTickInterval,
		OnTimeout:    m.resolveTimeout,
		Clock:        cfg.Clock,
	})

	if cfg.HealthCheckInterval > 0 {
		m.health = healthcheck.NewMonitor(&healthcheck.Config{
			Shutdown: cfg.Shutdown,
			Checks: []*healthcheck.Observation{
				healthcheck.NewObservation(
					"overlay_graph_liveness",
					m.checkOverlayLiveness,
					cfg.HealthCheckInterval,
					cfg.HealthCheckTimeout,
					cfg.HealthCheckBackoff,
					cfg.HealthCheckAttempts,
				),
			},
		})
	}

	return m
}

// checkOverlayLiveness is the overlay graph liveness Observation's check
// function: it fails if our own node has dropped out of the gossip
// snapshot backing Config.Graph.
func (m *Manager) checkOverlayLiveness() error {
	v := routing.NewVertex(m.cfg.OwnNodeKey)

	if _, ok := m.cfg.Graph.Node(v); !ok {
		return ErrOverlayUnreachable
	}

	return nil
}

// Start launches the pending-request table's reaper and, if configured,
// the overlay liveness monitor.
func (m *Manager) Start() error {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return errors.New("manager already started")
	}

	if err := m.pending.Start(); err != nil {
		return err
	}

	if m.health != nil {
		return m.health.Start()
	}

	return nil
}

// Stop halts the pending-request table and the liveness monitor (if
// running), and unblocks any in-flight FetchInvoice calls with a shutdown
// error.
func (m *Manager) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.stopped, 0, 1) {
		return fmt.Errorf("manager already stopped")
	}

	close(m.quit)

	if m.health != nil {
		if err := m.health.Stop(); err != nil {
			return err
		}
	}

	return m.pending.Stop()
}

// HandleOnionMessage is the overlay's inbound-message hook: it is called
// with the reply-blinding key a reply arrived under and either the
// invoice or invoice_error payload carried alongside it. A reply whose
// blinding key matches no pending request is acknowledged and discarded,
// per the "unmatched blinding" scenario: the hook always returns nil
// (the overlay has nothing useful to retry), and no caller is notified.
func (m *Manager) HandleOnionMessage(blindingIn *btcec.PublicKey, invoiceHex,
	invoiceErrorHex []byte) error {

	key := pending.KeyFromPubkey(blindingIn)

	req, ok := m.pending.Lookup(key)
	if !ok {
		log.Debugf("No pending request for reply-blinding %x, "+
			"discarding reply", key)

		return nil
	}

	m.pending.Remove(key)

	result, err := validate.Validate(req.Offer, req.InvoiceRequest, validate.Reply{
		Invoice:      invoiceHex,
		InvoiceError: invoiceErrorHex,
	}, m.cfg.Clock.Now())

	if err != nil {
		var badReply *validate.BadReplyError
		if errors.As(err, &badReply) {
			m.notify(req.ID, fetchOutcome{
				err: fieldErrorf(ErrCodeBadInvreqReply, badReply.Field,
					"%v", badReply.Detail),
			})

			return nil
		}

		m.notify(req.ID, fetchOutcome{
			err: codedErrorf(ErrCodeInternal, "validating reply: %v", err),
		})

		return nil
	}

	m.notify(req.ID, fetchOutcome{result: result})

	return nil
}

// resolveTimeout is the pending table's OnTimeout callback: it unblocks
// whatever FetchInvoice call is waiting on this entry with a timeout
// error.
func (m *Manager) resolveTimeout(req *pending.Request) {
	m.notify(req.ID, fetchOutcome{
		err: codedErrorf(ErrCodeInternal, "%v", ErrFetchTimeout),
	})
}

// notify delivers out to the channel registered for id, if a FetchInvoice
// call is still waiting on it. The channel is buffered so this never
// blocks; a stale/already-delivered id is a silent no-op.
func (m *Manager) notify(id uuid.UUID, out fetchOutcome) {
	m.mu.Lock()
	ch, ok := m.waiting[id]
	m.mu.Unlock()

	if !ok {
		return
	}

	select {
	case ch <- out:
	default:
	}
}

// replyPathHops walks channelIDs forward from source (as FindRoute
// returns them) to recover the visited vertex sequence, then reverses it
// into blindedpath.Build's expected destination-first-through-source-last
// hop order.
func replyPathHops(g routing.Graph, source routing.Vertex,
	channelIDs []uint64) ([]*blindedpath.Hop, error) {

	vertices := []routing.Vertex{source}
	cur := source

	for _, id := range channelIDs {
		edge, ok := findEdge(g, cur, id)
		if !ok {
			return nil, fmt.Errorf("channel %d not found from %x",
				id, cur)
		}

		cur = edge.To
		vertices = append(vertices, cur)
	}

	n := len(vertices)
	hops := make([]*blindedpath.Hop, n)

	for i := 0; i < n; i++ {
		v := vertices[n-1-i]

		node, ok := g.Node(v)
		if !ok {
			return nil, fmt.Errorf("vertex %x missing from graph", v)
		}

		hop := &blindedpath.Hop{NodeID: node.PubKey}

		if i < len(channelIDs) {
			scid := lnwire.NewShortChanIDFromInt(
				channelIDs[len(channelIDs)-1-i],
			)
			hop.ShortChannelID = &scid
		}

		hops[i] = hop
	}

	return hops, nil
}

// findEdge returns the half-edge for channelID outbound from v, if
// present.
func findEdge(g routing.Graph, v routing.Vertex,
	channelID uint64) (*routing.Edge, bool) {

	for _, e := range g.Edges(v) {
		if e.ChannelID == channelID {
			return e, true
		}
	}

	return nil, false
}
