// Package blindedpath constructs the blinded reply path an invoice
// request carries back to its sender: a route, blinded hop-by-hop under a
// freshly chosen basepoint, that a recipient can use to route a reply
// without ever learning the sender's identity or position in the path.
package blindedpath

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	sphinx "github.com/lightningnetwork/lightning-onion"

	"github.com/carlakc/boltnd/lnwire"
	"github.com/carlakc/boltnd/record"
)

// ErrEmptyRoute is returned when Build is called with no hops at all —
// a blinded path needs at least an introduction point.
var ErrEmptyRoute = errors.New("blinded path requires at least one hop")

// Hop describes one node along the reply path, in forward order
// (introduction point first).
type Hop struct {
	// NodeID is the hop's full public key.
	NodeID *btcec.PublicKey

	// ShortChannelID is the channel used to reach the next hop, or nil
	// for the final hop (the originator).
	ShortChannelID *lnwire.ShortChannelID
}

// Path is a constructed blinded reply path: a blinding basepoint plus an
// ordered list of blinded per-hop entries to attach to the outgoing
// onion message.
type Path struct {
	// BlindingPoint is the path's blinding basepoint. The originator
	// observes this same value (tweaked per hop) on the eventual
	// reply, and uses it as the pending-request lookup key.
	BlindingPoint *btcec.PublicKey

	// IntroductionPoint is the first hop of the path: the point a
	// sender's onion message must be routed to before blinded
	// traversal begins.
	IntroductionPoint *btcec.PublicKey

	// Hops are the blinded, encrypted per-hop entries, in path order,
	// including the introduction point.
	Hops []*sphinx.BlindedHopInfo
}

// Build constructs a blinded reply path from a reversed route: hops is
// ordered destination-first (the introduction point, i.e. the hop
// closest to the eventual reply sender) through source-last (the
// originator itself, which terminates the path).
func Build(hops []*Hop) (*Path, error) {
	if len(hops) == 0 {
		return nil, ErrEmptyRoute
	}

	sessionKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generating blinding session key: %w", err)
	}

	paymentPath := make([]*sphinx.HopInfo, len(hops))
	for i, hop := range hops {
		payload := &record.BlindedRouteData{
			NextNodeID: nextNodeID(hops, i),
		}
		if hop.ShortChannelID != nil {
			scid := *hop.ShortChannelID
			payload.ShortChannelID = &scid
		}

		encoded, err := record.EncodeBlindedRouteData(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding hop %d payload: %w", i, err)
		}

		paymentPath[i] = &sphinx.HopInfo{
			NodePub:   hop.NodeID,
			PlainText: encoded,
		}
	}

	blinded, err := sphinx.BuildBlindedPath(sessionKey, paymentPath)
	if err != nil {
		return nil, fmt.Errorf("building blinded path: %w", err)
	}

	log.Debugf("Built blinded reply path with %d hops, blinding point %x",
		len(hops), blinded.BlindingPoint.SerializeCompressed())

	return &Path{
		BlindingPoint:     blinded.BlindingPoint,
		IntroductionPoint: blinded.IntroductionPoint,
		Hops:              blinded.BlindedHops,
	}, nil
}

// nextNodeID returns the node id of the hop following index i, or nil if
// i is the final hop in the path.
func nextNodeID(hops []*Hop, i int) *btcec.PublicKey {
	if i+1 >= len(hops) {
		return nil
	}

	return hops[i+1].NodeID
}
