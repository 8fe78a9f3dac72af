// Package signer abstracts the "sign a merkle root under a domain-separated
// tag" operation backed by an external signing authority.
package signer

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrTransportFailure is wrapped into the error returned when the
	// underlying signing channel fails. The gateway always requests
	// shutdown before returning this error, because the signer is a
	// required trust root and partial state would be unsafe.
	ErrTransportFailure = errors.New("signer transport failure")

	// ErrMalformedReply is returned (and the process shut down) when the
	// signer replies with something that cannot be a valid signature.
	ErrMalformedReply = errors.New("signer returned malformed reply")
)

// SignFunc performs a single synchronous sign request over the opaque
// bidirectional channel to the signing authority. tagA/tagB are the
// domain-separation tags (e.g. "invoice_request"/"recurrence_signature");
// merkle is the 32-byte digest to sign; payerInfo is used as signing salt
// when present.
type SignFunc func(tagA, tagB string, merkle [32]byte,
	payerInfo []byte) ([64]byte, error)

// ShutdownFunc requests that the process terminate, printing the supplied
// reason. Mirrors healthcheck.Config.Shutdown's fatal-shutdown signature.
type ShutdownFunc func(format string, params ...interface{})

// Config supplies a Gateway with its signing transport and the shutdown hook
// to invoke on fatal signer failure.
type Config struct {
	// Sign performs the actual signing round trip.
	Sign SignFunc

	// Shutdown is called to request process termination when the signer
	// is unreachable or replies with a malformed signature.
	Shutdown ShutdownFunc
}

// Gateway serializes access to the signer transport: the signer channel
// allows only one outstanding request at a time.
type Gateway struct {
	cfg *Config
	mu  sync.Mutex
}

// NewGateway returns a signer gateway wrapping the given config.
func NewGateway(cfg *Config) *Gateway {
	return &Gateway{cfg: cfg}
}

// Sign signs merkle under the tag pair (tagA, tagB), serializing concurrent
// callers onto a single outstanding request. Any transport failure or
// malformed reply is fatal: Shutdown is invoked and an error is returned to
// the caller (who has no useful recovery path once shutdown has been
// requested).
func (g *Gateway) Sign(tagA, tagB string, merkle [32]byte,
	payerInfo []byte) ([64]byte, error) {

	g.mu.Lock()
	defer g.mu.Unlock()

	log.Debugf("Signing merkle %x under tags (%v, %v)", merkle, tagA, tagB)

	sig, err := g.cfg.Sign(tagA, tagB, merkle, payerInfo)
	if err != nil {
		g.cfg.Shutdown("signer gateway: transport failure signing "+
			"under (%v, %v): %v", tagA, tagB, err)

		return [64]byte{}, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	if sig == ([64]byte{}) {
		g.cfg.Shutdown("signer gateway: malformed (empty) reply "+
			"signing under (%v, %v)", tagA, tagB)

		return [64]byte{}, ErrMalformedReply
	}

	return sig, nil
}
