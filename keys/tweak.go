// Package keys derives the unlinkable per-offer payer key an invoice
// request identifies its sender by.
package keys

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// ErrInvalidTweak is returned when a tweak produces a non-scalar value or
// the resulting point cannot be reduced to a valid x-only public key.
var ErrInvalidTweak = errors.New("invalid tweak")

// DerivePayerKey derives the x-only payer key used to identify a sender
// across a single offer's invoice requests, so that two different offers
// paid by the same node produce unlinkable payer keys. The derivation is:
//
//  1. h = SHA256(base_xonly_pubkey || tweak)
//  2. tweaked = base + h·G (x-only tweak-add)
//  3. payer_key = xonly(tweaked), discarding the resulting parity bit
//
// This mirrors the scalar-multiplication primitive keychain.SingleKeyRouter
// uses for route blinding, generalized from multiplication to tweak-add.
func DerivePayerKey(base *btcec.PublicKey, tweak [16]byte) (*btcec.PublicKey, error) { //nolint:lll
	baseXOnly := schnorr.SerializePubKey(base)

	h := sha256.Sum256(append(append([]byte{}, baseXOnly...), tweak[:]...))

	var hScalar btcec.ModNScalar
	if overflow := hScalar.SetBytes(&h); overflow != 0 {
		return nil, ErrInvalidTweak
	}

	var tweakPoint btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&hScalar, &tweakPoint)

	// Lift to the canonical even-y point implied by baseXOnly: two
	// different-parity representations of the same logical x-only base
	// key must tweak-add onto the identical point.
	lifted, err := schnorr.ParsePubKey(baseXOnly)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTweak, err)
	}

	var baseJacobian btcec.JacobianPoint
	lifted.AsJacobian(&baseJacobian)

	var sumJacobian btcec.JacobianPoint
	btcec.AddNonConst(&baseJacobian, &tweakPoint, &sumJacobian)
	sumJacobian.ToAffine()

	if sumJacobian.X.IsZero() && sumJacobian.Y.IsZero() {
		return nil, ErrInvalidTweak
	}

	summed := btcec.NewPublicKey(&sumJacobian.X, &sumJacobian.Y)

	payerKey, err := schnorr.ParsePubKey(schnorr.SerializePubKey(summed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTweak, err)
	}

	return payerKey, nil
}

// SerializeXOnly returns a public key's 32-byte x-only serialization.
func SerializeXOnly(key *btcec.PublicKey) [32]byte {
	var out [32]byte
	copy(out[:], schnorr.SerializePubKey(key))

	return out
}
