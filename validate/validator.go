// Package validate checks an asynchronous invoice (or invoice_error) reply
// against the offer and invoice request it answers, and reports advisory
// changes and the next period of a recurring offer.
package validate

import (
	"bytes"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/carlakc/boltnd/fn"
	"github.com/carlakc/boltnd/offer"
)

var (
	// ErrMissingInvoice is returned when a reply carries neither an
	// invoice nor an invoice_error.
	ErrMissingInvoice = errors.New("reply carries neither invoice nor " +
		"invoice_error")

	// errAmountOverflow is wrapped into BadReplyError when offer.amount
	// times the requested quantity overflows 64 bits.
	errAmountOverflow = errors.New("expected amount overflows uint64")
)

// ChangeKind classifies how a carried-over field changed between the offer
// and the invoice that answers it.
type ChangeKind uint8

const (
	// ChangeReplaced indicates the invoice's value entirely replaces the
	// offer's.
	ChangeReplaced ChangeKind = iota

	// ChangeAppended indicates the invoice's value is the offer's value
	// with a suffix appended.
	ChangeAppended

	// ChangeRemoved indicates the invoice omits a value the offer set.
	ChangeRemoved
)

// newChange pairs a ChangeKind with the new value it describes. Built via
// fn.Pair/fn.Const rather than a struct literal, since fn.T2's fields are
// unexported outside its own package.
func newChange(kind ChangeKind, value string) fn.T2[ChangeKind, string] {
	return fn.Pair(
		fn.Const[ChangeKind, fn.Unit](kind),
		fn.Const[string, fn.Unit](value),
	)(fn.Unit{})
}

// BadReplyError reports the first field that failed validation, or an
// invoice_error forwarded from the recipient. Modeled on
// lnwire.StructuredError's erroneous-field/suggested-value shape, adapted
// from "channel message field" to "invoice request reply field".
type BadReplyError struct {
	// Field names the invoice (or invoice_error) field that failed.
	Field string

	// SuggestedValue is a recipient-proposed replacement, present only
	// for a forwarded invoice_error.
	SuggestedValue []byte

	// Detail is a human-readable explanation.
	Detail string
}

func (e *BadReplyError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("bad invoice reply: field %v", e.Field)
	}

	return fmt.Sprintf("bad invoice reply: field %v: %v", e.Field, e.Detail)
}

func badField(field, detail string) *BadReplyError {
	return &BadReplyError{Field: field, Detail: detail}
}

// Reply is the decoded payload of an overlay message answering an invoice
// request: exactly one of Invoice or InvoiceError is populated.
type Reply struct {
	Invoice      []byte
	InvoiceError []byte
}

// Changes is the advisory diff between what the invoice carries and what
// the offer/invreq led the caller to expect.
type Changes struct {
	// Description reports a change to the offer's description, if any.
	Description fn.Option[fn.T2[ChangeKind, string]]

	// Vendor reports a change relative to the offer's issuer, if any.
	Vendor fn.Option[fn.T2[ChangeKind, string]]

	// Msat is populated whenever the invoice's amount cannot be proven
	// trivially equal to the expected amount.
	Msat fn.Option[uint64]
}

// NextPeriod describes the next payable period of a recurring offer.
type NextPeriod struct {
	Counter        uint32
	Start          *uint32
	PeriodStart    time.Time
	PeriodEnd      time.Time
	PayWindowStart time.Time
	PayWindowEnd   time.Time
}

// Result is the outcome of successfully validating an invoice reply.
type Result struct {
	Invoice    *offer.Invoice
	Changes    *Changes
	NextPeriod *NextPeriod
}

// Validate checks reply against o and the invreq that was sent for it,
// returning the accepted invoice's changes report and, for a recurring
// offer, its next period. now is used for recurrence follow-on timing.
func Validate(o *offer.Offer, invreq *offer.InvoiceRequest, reply Reply,
	now time.Time) (*Result, error) {

	if len(reply.InvoiceError) > 0 {
		return nil, decodeInvoiceErrorReply(reply.InvoiceError)
	}

	if len(reply.Invoice) == 0 {
		return nil, ErrMissingInvoice
	}

	inv, err := offer.DecodeInvoice(bytes.NewReader(reply.Invoice))
	if err != nil {
		return nil, fmt.Errorf("decoding invoice: %w", err)
	}

	if err := checkFields(o, invreq, inv); err != nil {
		return nil, err
	}

	changes, err := changesReport(o, invreq, inv)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Invoice: inv,
		Changes: changes,
	}

	if o.Recurrence != nil {
		result.NextPeriod = nextPeriod(o, invreq, inv, now)
	}

	return result, nil
}

// decodeInvoiceErrorReply decodes an invoice_error and surfaces it as a
// BadReplyError with its structured details. A decode failure is reported
// hex-transparently, per offer.DecodeInvoiceError's contract.
func decodeInvoiceErrorReply(raw []byte) error {
	invErr, err := offer.DecodeInvoiceError(bytes.NewReader(raw))
	if err != nil {
		return &BadReplyError{
			Field: "invoice_error",
			Detail: fmt.Sprintf("malformed invoice_error, raw "+
				"hex: %x", raw),
		}
	}

	badReply := &BadReplyError{
		Field:          "invoice_error",
		SuggestedValue: invErr.SuggestedValue,
		Detail:         string(invErr.Error),
	}

	if invErr.ErroneousField != nil {
		badReply.Detail = fmt.Sprintf("field %v: %v",
			*invErr.ErroneousField, badReply.Detail)
	}

	return badReply
}

// checkFields runs the field-equivalence checks of the reply validator,
// stopping at and naming the first violating field.
func checkFields(o *offer.Offer, invreq *offer.InvoiceRequest,
	inv *offer.Invoice) error {

	if o.NodeID == nil || inv.NodeID != *o.NodeID {
		return badField("node_id", "invoice node_id does not match "+
			"offer node_id")
	}

	if err := verifySignature(inv); err != nil {
		return badField("signature", err.Error())
	}

	if inv.OfferID != invreq.OfferID {
		return badField("offer_id", "invoice offer_id does not "+
			"match invoice request offer_id")
	}

	if !equalUint64Ptr(inv.Quantity, invreq.Quantity) {
		return badField("quantity", "invoice quantity does not "+
			"match invoice request")
	}

	if !equalUint32Ptr(inv.RecurrenceCounter, invreq.RecurrenceCounter) {
		return badField("recurrence_counter", "invoice "+
			"recurrence_counter does not match invoice request")
	}

	if !equalUint32Ptr(inv.RecurrenceStart, invreq.RecurrenceStart) {
		return badField("recurrence_start", "invoice "+
			"recurrence_start does not match invoice request")
	}

	if !equalKeyPtr(inv.PayerKey, invreq.PayerKey) {
		return badField("payer_key", "invoice payer_key does not "+
			"match invoice request")
	}

	if !equalInfoPtr(inv.PayerInfo, invreq.PayerInfo) {
		return badField("payer_info", "invoice payer_info does not "+
			"match invoice request")
	}

	if invreq.RecurrenceCounter != nil && inv.RecurrenceBasetime == nil {
		return badField("recurrence_basetime", "recurring invoice "+
			"request requires a recurrence_basetime reply")
	}

	return nil
}

// verifySignature checks the invoice's Schnorr signature over its own
// merkle root (excluding the signature field itself) under its node_id.
func verifySignature(inv *offer.Invoice) error {
	merkle, err := inv.MerkleRoot()
	if err != nil {
		return fmt.Errorf("invoice merkle root: %w", err)
	}

	digest := offer.SigHash("invoice", "signature", merkle)

	pubkey, err := schnorr.ParsePubKey(inv.NodeID[:])
	if err != nil {
		return fmt.Errorf("parsing invoice node_id: %w", err)
	}

	sig, err := schnorr.ParseSignature(inv.Signature[:])
	if err != nil {
		return fmt.Errorf("parsing invoice signature: %w", err)
	}

	if !sig.Verify(digest[:], pubkey) {
		return errors.New("signature does not verify")
	}

	return nil
}

// expectedAmount computes offer.amount * (invreq.quantity or 1), rejecting
// a result that would overflow 64 bits. It returns (0, false, nil) when the
// offer carries no plain-msat amount to check against (either no amount, or
// a foreign currency amount this core does not convert).
func expectedAmount(o *offer.Offer, invreq *offer.InvoiceRequest) (uint64,
	bool, error) {

	if o.Amount == nil || o.Currency != nil {
		return 0, false, nil
	}

	quantity := uint64(1)
	if invreq.Quantity != nil {
		quantity = *invreq.Quantity
	}

	hi, lo := bits.Mul64(*o.Amount, quantity)
	if hi != 0 {
		return 0, false, fmt.Errorf("%w: %d * %d", errAmountOverflow,
			*o.Amount, quantity)
	}

	return lo, true, nil
}

// changesReport builds the advisory description/vendor/msat diff between
// what the offer led the caller to expect and what the invoice carries.
func changesReport(o *offer.Offer, invreq *offer.InvoiceRequest,
	inv *offer.Invoice) (*Changes, error) {

	changes := &Changes{
		Description: diffBytes(o.Description, inv.Description),
		Vendor:      diffBytesNoAppend(o.Issuer, inv.Vendor),
	}

	expected, checkable, err := expectedAmount(o, invreq)
	if err != nil {
		return nil, badField("amount", err.Error())
	}

	if !checkable || expected != inv.Amount {
		changes.Msat = fn.Some(inv.Amount)
	}

	return changes, nil
}

// diffBytes reports how new differs from orig: no change, a whole
// replacement, an append-only shortcut (new is orig with a suffix), or a
// removal (new is empty while orig was set).
func diffBytes(orig, updated []byte) fn.Option[fn.T2[ChangeKind, string]] {
	if bytes.Equal(orig, updated) {
		return fn.None[fn.T2[ChangeKind, string]]()
	}

	if len(updated) == 0 {
		return fn.Some(newChange(ChangeRemoved, ""))
	}

	if len(orig) > 0 && bytes.HasPrefix(updated, orig) {
		return fn.Some(newChange(
			ChangeAppended, string(updated[len(orig):]),
		))
	}

	return fn.Some(newChange(ChangeReplaced, string(updated)))
}

// diffBytesNoAppend reports how new differs from orig like diffBytes, but
// withholds the append-only shortcut: vendor changes are reported as a
// replacement or a removal only.
func diffBytesNoAppend(orig, updated []byte) fn.Option[fn.T2[ChangeKind, string]] {
	if bytes.Equal(orig, updated) {
		return fn.None[fn.T2[ChangeKind, string]]()
	}

	if len(updated) == 0 {
		return fn.Some(newChange(ChangeRemoved, ""))
	}

	return fn.Some(newChange(ChangeReplaced, string(updated)))
}

// periodSeconds converts a recurrence time unit and period count into a
// duration. Months and years are approximated as 30 and 365 days
// respectively: the offers wire format does not carry calendar semantics,
// and a fixed approximation is sufficient for the advisory next-period
// window this computes.
func periodSeconds(timeUnit uint8, period uint32) time.Duration {
	var unit time.Duration

	switch timeUnit {
	case 0:
		unit = time.Second
	case 1:
		unit = 24 * time.Hour
	case 2:
		unit = 30 * 24 * time.Hour
	case 3:
		unit = 365 * 24 * time.Hour
	default:
		unit = time.Second
	}

	return unit * time.Duration(period)
}

// nextPeriod computes the next payable period of a recurring offer, or nil
// if doing so would exceed the offer's recurrence_limit.
func nextPeriod(o *offer.Offer, invreq *offer.InvoiceRequest,
	inv *offer.Invoice, now time.Time) *NextPeriod {

	var counter uint32
	if invreq.RecurrenceCounter != nil {
		counter = *invreq.RecurrenceCounter + 1
	}

	if o.RecurrenceLimit != nil && counter > *o.RecurrenceLimit {
		return nil
	}

	var basetime time.Time
	if inv.RecurrenceBasetime != nil {
		basetime = time.Unix(int64(*inv.RecurrenceBasetime), 0)
	} else {
		basetime = now
	}

	period := periodSeconds(o.Recurrence.TimeUnit, o.Recurrence.Period)

	periodStart := basetime.Add(period * time.Duration(counter))
	periodEnd := periodStart.Add(period)

	payWindowStart := periodStart
	payWindowEnd := periodEnd

	if o.RecurrencePaywindow != nil {
		payWindowStart = periodStart.Add(
			-time.Duration(o.RecurrencePaywindow.SecondsBefore) *
				time.Second,
		)
		payWindowEnd = periodStart.Add(
			time.Duration(o.RecurrencePaywindow.SecondsAfter) *
				time.Second,
		)
	}

	return &NextPeriod{
		Counter:        counter,
		Start:          invreq.RecurrenceStart,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		PayWindowStart: payWindowStart,
		PayWindowEnd:   payWindowEnd,
	}
}

func equalUint64Ptr(a, b *uint64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}

	return *a == *b
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

func equalKeyPtr(a *[32]byte, b [32]byte) bool {
	if a == nil {
		return false
	}

	return *a == b
}

func equalInfoPtr(a *[16]byte, b [16]byte) bool {
	if a == nil {
		return false
	}

	return *a == b
}
