// Package invreq builds invoice_request records from an offer and
// caller-supplied parameters, validating the offer's semantics and
// invoking the key tweaker and signer gateway along the way.
package invreq

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/carlakc/boltnd/keys"
	"github.com/carlakc/boltnd/offer"
	"github.com/carlakc/boltnd/signer"
)

var (
	// ErrSendInvoiceOffer is returned when the offer requires the
	// inverse (send-invoice) flow instead of a regular invoice request.
	ErrSendInvoiceOffer = errors.New("offer requires send_invoice flow")

	// ErrOfferExpired is returned when the offer's absolute_expiry has
	// passed.
	ErrOfferExpired = errors.New("offer expired")

	// ErrAmountRequired is returned when the offer does not set an
	// amount and the caller did not provide one.
	ErrAmountRequired = errors.New("amount required, offer did not set one")

	// ErrAmountForbidden is returned when the offer sets an amount and
	// the caller also supplied one.
	ErrAmountForbidden = errors.New("amount forbidden, offer already set one")

	// ErrQuantityRequired is returned when the offer declares a
	// quantity bound and the caller did not supply a quantity.
	ErrQuantityRequired = errors.New("quantity required by offer")

	// ErrQuantityForbidden is returned when the offer declares no
	// quantity bound but the caller supplied one.
	ErrQuantityForbidden = errors.New("quantity not accepted by offer")

	// ErrQuantityOutOfRange is returned when the caller's quantity
	// falls outside the offer's [min, max] bound.
	ErrQuantityOutOfRange = errors.New("quantity out of range")

	// ErrRecurrenceCounterRequired is returned when the offer declares
	// recurrence and the caller omitted a counter.
	ErrRecurrenceCounterRequired = errors.New("recurrence counter required")

	// ErrRecurrenceCounterForbidden is returned when the offer does not
	// declare recurrence but the caller supplied a counter or start.
	ErrRecurrenceCounterForbidden = errors.New("offer does not support recurrence")

	// ErrRecurrenceStartRequired is returned when the offer's
	// recurrence_base sets start_any_period and the caller omitted a
	// recurrence_start.
	ErrRecurrenceStartRequired = errors.New("recurrence start required")

	// ErrRecurrenceLabelRequired is returned when the offer declares
	// recurrence and the caller did not supply a recurrence label.
	ErrRecurrenceLabelRequired = errors.New("recurrence label required")

	// ErrPriorPaymentNotFound is returned when a recurring follow-up
	// (counter > 0) has no matching prior payment for its label/offer.
	ErrPriorPaymentNotFound = errors.New("no previous payment attempted " +
		"for this label and offer")

	// ErrPriorPaymentIncomplete is returned when the immediately prior
	// counter's payment has not completed.
	ErrPriorPaymentIncomplete = errors.New("previous invoice has not " +
		"been paid")

	// ErrRecurrenceStartMismatch is returned when a follow-up request's
	// recurrence_start disagrees with the value used by prior requests
	// for the same label/offer.
	ErrRecurrenceStartMismatch = errors.New("recurrence start does not " +
		"match prior requests")
)

// PaymentStatus describes the settlement state of a prior payment attempt,
// as reported by the PriorPayments collaborator.
type PaymentStatus uint8

const (
	// StatusPending indicates a payment that is still in flight.
	StatusPending PaymentStatus = iota

	// StatusComplete indicates a payment that has settled successfully.
	StatusComplete

	// StatusFailed indicates a payment attempt that did not settle.
	StatusFailed
)

// PriorPayment is a historical invoice payment attempt under some
// recurrence label, as needed to validate a recurring follow-up request.
type PriorPayment struct {
	// OfferID is the offer the original invoice referenced.
	OfferID [32]byte

	// RecurrenceCounter is the counter used for that payment.
	RecurrenceCounter uint32

	// RecurrenceStart is the recurrence_start used for that payment, if
	// any.
	RecurrenceStart *uint32

	// PayerInfo is the payer_info carried by that payment's invoice.
	PayerInfo [16]byte

	// Status is the payment's settlement state.
	Status PaymentStatus
}

// PriorPayments looks up historical payment attempts for a recurrence
// label and offer. This is an external collaborator (the node's payment
// history), injected the same way routing.bandwidthManager is handed a
// getLinkQuery closure rather than reaching into storage directly.
type PriorPayments func(label string, offerID [32]byte) ([]PriorPayment, error)

// Config collects invreq.Builder's collaborators.
type Config struct {
	// Signer countersigns recurring follow-up requests.
	Signer *signer.Gateway

	// PriorPayments looks up payment history for recurrence follow-ups.
	PriorPayments PriorPayments

	// Clock abstracts the current time, so tests can control expiry
	// checks deterministically; defaults to clock.NewDefaultClock if
	// nil.
	Clock clock.Clock
}

// Builder constructs invoice_request records from offers.
type Builder struct {
	cfg *Config
}

// NewBuilder returns an invoice-request builder using the given config.
func NewBuilder(cfg *Config) *Builder {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Builder{cfg: cfg}
}

// Params collects the caller-supplied parameters for a single
// invoice-request build.
type Params struct {
	// Amount is the caller's requested amount, required iff the offer
	// did not set one.
	Amount *uint64

	// Quantity is the caller's requested quantity, required iff the
	// offer declares a quantity bound.
	Quantity *uint64

	// RecurrenceCounter selects which period of a recurring offer is
	// being requested.
	RecurrenceCounter *uint32

	// RecurrenceStart disambiguates the first period when the offer's
	// recurrence_base sets start_any_period.
	RecurrenceStart *uint32

	// RecurrenceLabel identifies this series of recurring payments for
	// prior-payment lookups.
	RecurrenceLabel string

	// Features is the caller's BOLT11 feature bitmap, copied verbatim
	// into the invreq.
	Features []byte

	// Chain is the genesis hash of the chain being used, or nil for
	// bitcoin mainnet (the default the offer spec omits).
	Chain *chainhash.Hash

	// PayerBaseKey is the node's base payer public key, tweaked per
	// request to produce an unlinkable payer_key.
	PayerBaseKey *btcec.PublicKey
}

// Build validates offer semantics against params and constructs a signed
// (where required) InvoiceRequest.
func (b *Builder) Build(o *offer.Offer, params *Params) (*offer.InvoiceRequest,
	error) {

	if o.SendInvoice {
		return nil, ErrSendInvoiceOffer
	}

	if o.AbsoluteExpiry != nil {
		now := uint64(b.cfg.Clock.Now().Unix())
		if now > *o.AbsoluteExpiry {
			return nil, ErrOfferExpired
		}
	}

	amount, err := resolveAmount(o, params)
	if err != nil {
		return nil, err
	}

	quantity, err := resolveQuantity(o, params)
	if err != nil {
		return nil, err
	}

	payerInfo, err := b.resolveRecurrence(o, params)
	if err != nil {
		return nil, err
	}

	if payerInfo == nil {
		var info [16]byte
		if _, err := rand.Read(info[:]); err != nil {
			return nil, fmt.Errorf("generating payer info: %w", err)
		}
		payerInfo = &info
	}

	payerKey, err := keys.DerivePayerKey(params.PayerBaseKey, *payerInfo)
	if err != nil {
		return nil, fmt.Errorf("deriving payer key: %w", err)
	}

	offerID, err := o.MerkleRoot()
	if err != nil {
		return nil, fmt.Errorf("offer merkle root: %w", err)
	}

	req := &offer.InvoiceRequest{
		OfferID:           offerID,
		Amount:            amount,
		Quantity:          quantity,
		PayerKey:          keys.SerializeXOnly(payerKey),
		PayerInfo:         *payerInfo,
		Features:          params.Features,
		RecurrenceCounter: params.RecurrenceCounter,
		RecurrenceStart:   params.RecurrenceStart,
	}

	if params.Chain != nil {
		req.Chains = []chainhash.Hash{*params.Chain}
	}

	if params.RecurrenceCounter != nil && *params.RecurrenceCounter > 0 {
		sig, err := b.signRecurrence(req, *payerInfo)
		if err != nil {
			return nil, err
		}
		req.RecurrenceSignature = &sig
	}

	return req, nil
}

// resolveAmount enforces the amount required/forbidden rule.
func resolveAmount(o *offer.Offer, params *Params) (*uint64, error) {
	switch {
	case o.Amount == nil && params.Amount == nil:
		return nil, ErrAmountRequired
	case o.Amount != nil && params.Amount != nil:
		return nil, ErrAmountForbidden
	case o.Amount != nil:
		return o.Amount, nil
	default:
		return params.Amount, nil
	}
}

// resolveQuantity enforces the quantity presence and range rules.
func resolveQuantity(o *offer.Offer, params *Params) (*uint64, error) {
	hasBound := o.QuantityMin != nil || o.QuantityMax != nil

	switch {
	case hasBound && params.Quantity == nil:
		return nil, ErrQuantityRequired
	case !hasBound && params.Quantity != nil:
		return nil, ErrQuantityForbidden
	case !hasBound:
		return nil, nil
	}

	q := *params.Quantity
	if o.QuantityMin != nil && q < *o.QuantityMin {
		return nil, ErrQuantityOutOfRange
	}
	if o.QuantityMax != nil && q > *o.QuantityMax {
		return nil, ErrQuantityOutOfRange
	}

	return params.Quantity, nil
}

// resolveRecurrence enforces the recurrence rules, returning the payer_info
// to carry over from a prior payment (nil if a fresh one should be
// generated).
func (b *Builder) resolveRecurrence(o *offer.Offer,
	params *Params) (*[16]byte, error) {

	hasRecurrence := o.Recurrence != nil

	switch {
	case !hasRecurrence && (params.RecurrenceCounter != nil ||
		params.RecurrenceStart != nil):

		return nil, ErrRecurrenceCounterForbidden

	case !hasRecurrence:
		return nil, nil

	case params.RecurrenceCounter == nil:
		return nil, ErrRecurrenceCounterRequired
	}

	if o.RecurrenceBase != nil && o.RecurrenceBase.StartAnyPeriod &&
		params.RecurrenceStart == nil {

		return nil, ErrRecurrenceStartRequired
	}

	if params.RecurrenceLabel == "" {
		return nil, ErrRecurrenceLabelRequired
	}

	if *params.RecurrenceCounter == 0 {
		return nil, nil
	}

	return b.priorPayerInfo(o, params)
}

// priorPayerInfo implements the prior-payment lookup required for
// recurrence_counter > 0.
func (b *Builder) priorPayerInfo(o *offer.Offer,
	params *Params) (*[16]byte, error) {

	offerID, err := o.MerkleRoot()
	if err != nil {
		return nil, fmt.Errorf("offer merkle root: %w", err)
	}

	payments, err := b.cfg.PriorPayments(params.RecurrenceLabel, offerID)
	if err != nil {
		return nil, fmt.Errorf("looking up prior payments: %w", err)
	}

	var (
		predecessorComplete bool
		firstStart          *uint32
		firstSeen           bool
		carryOver           *[16]byte
	)

	predecessor := *params.RecurrenceCounter - 1

	for _, p := range payments {
		if !firstSeen {
			firstStart = p.RecurrenceStart
			firstSeen = true
		} else if !equalUint32Ptr(firstStart, p.RecurrenceStart) {
			return nil, ErrRecurrenceStartMismatch
		}

		if p.RecurrenceCounter == predecessor &&
			p.Status == StatusComplete {

			predecessorComplete = true
			info := p.PayerInfo
			carryOver = &info
		}
	}

	if !firstSeen {
		return nil, ErrPriorPaymentNotFound
	}

	if !equalUint32Ptr(firstStart, params.RecurrenceStart) {
		return nil, ErrRecurrenceStartMismatch
	}

	if !predecessorComplete {
		return nil, ErrPriorPaymentIncomplete
	}

	return carryOver, nil
}

// signRecurrence computes the merkle root over req and signs it via the
// signer gateway.
func (b *Builder) signRecurrence(req *offer.InvoiceRequest,
	payerInfo [16]byte) ([64]byte, error) {

	merkle, err := req.MerkleRoot()
	if err != nil {
		return [64]byte{}, fmt.Errorf("invreq merkle root: %w", err)
	}

	return b.cfg.Signer.Sign(
		"invoice_request", "recurrence_signature", merkle, payerInfo[:],
	)
}

func equalUint32Ptr(a, b *uint32) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}

	return *a == *b
}
