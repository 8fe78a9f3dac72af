// Package pending tracks outstanding invoice-request fetches by the
// x-only reply-blinding public key the sender will observe on the
// eventual reply, and reaps entries that time out before any reply
// arrives.
package pending

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/carlakc/boltnd/offer"
)

// timeoutQueueSize bounds the number of expired requests the reaper may
// have handed to the drain queue but not yet dispatched to OnTimeout.
const timeoutQueueSize = 50

var (
	// ErrDuplicateBlinding is returned by Insert when another request
	// is already registered under the same reply-blinding key. Since
	// blinding points are drawn from a uniformly random curve point,
	// this is a programming fault rather than an expected occurrence.
	ErrDuplicateBlinding = errors.New("duplicate reply-blinding key")

	// ErrNotFound is returned by Cancel when no request is registered
	// under the given handle.
	ErrNotFound = errors.New("pending request not found")
)

// Key identifies a pending request by the x-only serialization of its
// reply-blinding public key.
type Key [32]byte

// KeyFromPubkey derives a Key from a reply-blinding public key.
func KeyFromPubkey(pubkey *btcec.PublicKey) Key {
	var k Key
	copy(k[:], pubkey.SerializeCompressed()[1:])

	return k
}

// Request associates an outstanding invoice-request fetch with the
// reply-blinding key used to locate its eventual reply.
type Request struct {
	// ID is a caller-facing handle for cancellation.
	ID uuid.UUID

	// Blinding is the reply-blinding key this request is indexed by.
	Blinding Key

	// Offer is the offer the invoice request was built from.
	Offer *offer.Offer

	// InvoiceRequest is the request sent over the overlay.
	InvoiceRequest *offer.InvoiceRequest

	created time.Time
}

// Config collects Table's tunables and collaborators.
type Config struct {
	// Timeout bounds how long a request may remain pending before it is
	// reaped. Must be non-zero and finite.
	Timeout time.Duration

	// TickInterval governs how often the reaper scans for expired
	// requests.
	TickInterval time.Duration

	// OnTimeout is invoked, one at a time off the timeout-dispatch queue,
	// for every request the reaper expires.
	OnTimeout func(req *Request)

	// Clock abstracts "now" for insertion timestamps and expiry checks.
	// Defaults to clock.NewDefaultClock if nil.
	Clock clock.Clock
}

// Table is an in-memory, concurrency-safe index of pending requests.
type Table struct {
	cfg *Config

	mu       sync.Mutex
	requests map[Key]*Request
	byID     map[uuid.UUID]Key

	ticker   ticker.Ticker
	timeouts *queue.ConcurrentQueue

	started int32
	stopped int32
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewTable returns a pending request table using the given config.
func NewTable(cfg *Config) *Table {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Table{
		cfg:      cfg,
		requests: make(map[Key]*Request),
		byID:     make(map[uuid.UUID]Key),
		ticker:   ticker.New(cfg.TickInterval),
		timeouts: queue.NewConcurrentQueue(timeoutQueueSize),
		quit:     make(chan struct{}),
	}
}

// Start launches the reaper goroutine and the timeout-dispatch queue that
// drains it.
func (t *Table) Start() error {
	if !atomic.CompareAndSwapInt32(&t.started, 0, 1) {
		return errors.New("table already started")
	}

	t.timeouts.Start()
	t.ticker.Resume()

	t.wg.Add(2)
	go t.reap()
	go t.dispatchTimeouts()

	return nil
}

// Stop halts the reaper goroutine and waits for it, and the timeout-dispatch
// queue, to exit.
func (t *Table) Stop() error {
	if !atomic.CompareAndSwapInt32(&t.stopped, 0, 1) {
		return fmt.Errorf("table already stopped")
	}

	close(t.quit)
	t.ticker.Stop()
	t.wg.Wait()
	t.timeouts.Stop()

	return nil
}

// Insert registers a new pending request, failing with
// ErrDuplicateBlinding if the blinding key collides with an existing
// entry.
func (t *Table) Insert(req *Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.requests[req.Blinding]; ok {
		return ErrDuplicateBlinding
	}

	req.created = t.cfg.Clock.Now()

	t.requests[req.Blinding] = req
	t.byID[req.ID] = req.Blinding

	log.Debugf("Inserted pending request %v under blinding %x", req.ID,
		req.Blinding)

	return nil
}

// Lookup finds a pending request by its reply-blinding key.
func (t *Table) Lookup(blinding Key) (*Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.requests[blinding]

	return req, ok
}

// Remove deletes a pending request by its reply-blinding key. Removal
// on an already-absent key is a silent no-op: the overlay may deliver a
// reply after cancellation races with a legitimate reply, and both
// should result in the same idempotent outcome.
func (t *Table) Remove(blinding Key) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.requests[blinding]
	if !ok {
		return
	}

	delete(t.requests, blinding)
	delete(t.byID, req.ID)
}

// Cancel removes a pending request by its caller-facing handle.
func (t *Table) Cancel(id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	blinding, ok := t.byID[id]
	if !ok {
		return ErrNotFound
	}

	delete(t.requests, blinding)
	delete(t.byID, id)

	return nil
}

// reap periodically scans for requests that have outlived the configured
// timeout, removes them, and hands each off to the timeout-dispatch queue.
func (t *Table) reap() {
	defer t.wg.Done()

	for {
		select {
		case <-t.ticker.Ticks():
			for _, req := range t.expired() {
				t.Remove(req.Blinding)

				select {
				case t.timeouts.ChanIn() <- req:
				case <-t.quit:
					return
				}
			}

		case <-t.quit:
			return
		}
	}
}

// dispatchTimeouts drains the timeout queue, invoking OnTimeout for every
// request the reaper expired. Routing dispatch through queue.ConcurrentQueue
// rather than spawning OnTimeout directly off reap decouples the reaper's
// scan cadence from however long a slow OnTimeout callback takes.
func (t *Table) dispatchTimeouts() {
	defer t.wg.Done()

	for {
		select {
		case item := <-t.timeouts.ChanOut():
			if t.cfg.OnTimeout != nil {
				t.cfg.OnTimeout(item.(*Request))
			}

		case <-t.quit:
			return
		}
	}
}

// expired returns a snapshot of every request that has outlived the
// configured timeout.
func (t *Table) expired() []*Request {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.cfg.Clock.Now()

	var timedOut []*Request
	for _, req := range t.requests {
		if now.Sub(req.created) >= t.cfg.Timeout {
			timedOut = append(timedOut, req)
		}
	}

	return timedOut
}
