package offer

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/tlv"
)

// TLV type numbers for an Offer record. Fields follow the even/odd
// convention: an unrecognized even type must cause decoding to fail, an
// unrecognized odd type is skipped and preserved as a custom record.
const (
	offerChainsType              tlv.Type = 2
	offerMetadataType            tlv.Type = 4
	offerCurrencyType            tlv.Type = 6
	offerAmountType              tlv.Type = 8
	offerDescriptionType         tlv.Type = 10
	offerFeaturesType            tlv.Type = 12
	offerAbsoluteExpiryType      tlv.Type = 14
	offerIssuerType              tlv.Type = 20
	offerQuantityMinType         tlv.Type = 22
	offerQuantityMaxType         tlv.Type = 24
	offerRecurrenceType          tlv.Type = 26
	offerRecurrenceBaseType      tlv.Type = 28
	offerRecurrencePaywindowType tlv.Type = 30
	offerRecurrenceLimitType     tlv.Type = 32
	offerNodeIDType              tlv.Type = 34
	offerSendInvoiceType         tlv.Type = 36
	offerSignatureType           tlv.Type = 240
)

// TLV type numbers for an InvoiceRequest record.
const (
	invreqOfferIDType             tlv.Type = 2
	invreqChainsType              tlv.Type = 4
	invreqAmountType               tlv.Type = 6
	invreqQuantityType             tlv.Type = 8
	invreqPayerKeyType             tlv.Type = 10
	invreqPayerInfoType            tlv.Type = 12
	invreqFeaturesType             tlv.Type = 14
	invreqRecurrenceCounterType    tlv.Type = 16
	invreqRecurrenceStartType      tlv.Type = 18
	invreqRecurrenceSignatureType  tlv.Type = 240
)

// TLV type numbers for an Invoice record.
const (
	invoiceOfferIDType            tlv.Type = 2
	invoiceNodeIDType             tlv.Type = 4
	invoiceAmountType             tlv.Type = 6
	invoiceDescriptionType        tlv.Type = 8
	invoiceVendorType             tlv.Type = 10
	invoiceRecurrenceBasetimeType tlv.Type = 12
	invoiceQuantityType           tlv.Type = 14
	invoiceRecurrenceCounterType  tlv.Type = 16
	invoiceRecurrenceStartType    tlv.Type = 18
	invoicePayerKeyType           tlv.Type = 20
	invoicePayerInfoType          tlv.Type = 22
	invoiceFeaturesType           tlv.Type = 24
	invoiceSignatureType          tlv.Type = 240
)

// TLV type numbers for an InvoiceError record.
const (
	invoiceErrErroneousFieldType tlv.Type = 1
	invoiceErrSuggestedValueType tlv.Type = 3
	invoiceErrErrorType          tlv.Type = 5
)

// Recurrence describes how frequently an offer may be paid again.
type Recurrence struct {
	// TimeUnit is the unit that Period is expressed in (seconds, days,
	// months, years, ...; the concrete enumeration is an external
	// collaborator's concern).
	TimeUnit uint8

	// Period is the number of TimeUnit units between each occurrence.
	Period uint32
}

// RecurrenceBase anchors the first period of a recurring offer.
type RecurrenceBase struct {
	// BaseTime is the start time (seconds since the Unix epoch) of the
	// first period.
	BaseTime uint64

	// StartAnyPeriod indicates that the payer may start at any period,
	// not just the first.
	StartAnyPeriod bool
}

// RecurrencePaywindow bounds how early/late a recurring payment may be made
// relative to the start of its period.
type RecurrencePaywindow struct {
	// SecondsBefore is how long before a period starts the offer may be
	// paid.
	SecondsBefore uint32

	// ProportionalAmount indicates that a late payment should be reduced
	// proportionally to the time remaining in the period.
	ProportionalAmount bool

	// SecondsAfter is how long after a period starts the offer may still
	// be paid.
	SecondsAfter uint32
}

// Offer is a recipient-published record advertising willingness to issue
// invoices under stated terms.
type Offer struct {
	// Chains lists the chains this offer is valid on. Omitted entirely
	// means bitcoin mainnet only.
	Chains []chainhash.Hash

	// Metadata is an opaque blob the offer creator can use to tie a
	// received invoice request back to this offer without needing
	// persistent storage.
	Metadata []byte

	// Currency is an optional ISO 4217 currency code; when set, Amount is
	// denominated in that currency's minimum unit rather than msat.
	Currency []byte

	// Amount is the amount payable, in msat unless Currency is set.
	Amount *uint64

	// Description is a human-readable summary of what is being offered.
	// Required for the offer to be usable.
	Description []byte

	// Features is the feature bitmap required to pay this offer.
	Features []byte

	// AbsoluteExpiry is the latest time (seconds since the Unix epoch)
	// this offer may be used.
	AbsoluteExpiry *uint64

	// Issuer identifies who is issuing the offer.
	Issuer []byte

	// QuantityMin is the smallest permitted quantity.
	QuantityMin *uint64

	// QuantityMax is the largest permitted quantity.
	QuantityMax *uint64

	// Recurrence describes the offer's recurrence period, if any.
	Recurrence *Recurrence

	// RecurrenceBase anchors the offer's recurrence, if any.
	RecurrenceBase *RecurrenceBase

	// RecurrencePaywindow bounds payment timing for a recurring offer.
	RecurrencePaywindow *RecurrencePaywindow

	// RecurrenceLimit is the last valid recurrence counter value.
	RecurrenceLimit *uint32

	// NodeID is the x-only public key of the offer's recipient.
	// Required for the offer to be usable.
	NodeID *[32]byte

	// SendInvoice indicates that the offer's direction is inverted: the
	// recipient of this offer sends an invoice unprompted rather than
	// replying to an invoice request.
	SendInvoice bool

	// Signature is the offer creator's Schnorr signature over the
	// offer's merkle root, if present.
	Signature *[64]byte

	// CustomRecords holds any unrecognized odd TLV types encountered
	// while decoding, preserved so that re-encoding round-trips them.
	CustomRecords CustomSet
}

// records returns the ordered set of TLV records backing the populated
// fields of this offer, in ascending type order as required by tlv.Stream.
// records builds this offer's TLV record set. includeSignature controls
// whether the signature field itself is included: the merkle root that the
// signature signs over must be computed over the unsigned field set, while
// the wire encoding must carry the signature alongside it.
func (o *Offer) records(includeSignature bool) []tlv.Record {
	var recs []tlv.Record

	if len(o.Chains) > 0 {
		b := chainsToBytes(o.Chains)
		recs = append(recs, varBytesRecord(offerChainsType, &b))
	}

	if o.Metadata != nil {
		recs = append(recs, varBytesRecord(offerMetadataType, &o.Metadata))
	}

	if o.Currency != nil {
		recs = append(recs, varBytesRecord(offerCurrencyType, &o.Currency))
	}

	if o.Amount != nil {
		recs = append(recs, tu64Record(offerAmountType, o.Amount))
	}

	if o.Description != nil {
		recs = append(recs, varBytesRecord(offerDescriptionType, &o.Description))
	}

	if o.Features != nil {
		recs = append(recs, varBytesRecord(offerFeaturesType, &o.Features))
	}

	if o.AbsoluteExpiry != nil {
		recs = append(recs, tu64Record(offerAbsoluteExpiryType, o.AbsoluteExpiry))
	}

	if o.Issuer != nil {
		recs = append(recs, varBytesRecord(offerIssuerType, &o.Issuer))
	}

	if o.QuantityMin != nil {
		recs = append(recs, tu64Record(offerQuantityMinType, o.QuantityMin))
	}

	if o.QuantityMax != nil {
		recs = append(recs, tu64Record(offerQuantityMaxType, o.QuantityMax))
	}

	if o.Recurrence != nil {
		recs = append(recs, newRecurrenceRecord(offerRecurrenceType, o.Recurrence))
	}

	if o.RecurrenceBase != nil {
		recs = append(recs, newRecurrenceBaseRecord(
			offerRecurrenceBaseType, o.RecurrenceBase,
		))
	}

	if o.RecurrencePaywindow != nil {
		recs = append(recs, newRecurrencePaywindowRecord(
			offerRecurrencePaywindowType, o.RecurrencePaywindow,
		))
	}

	if o.RecurrenceLimit != nil {
		recs = append(recs, tu32Record(
			offerRecurrenceLimitType, o.RecurrenceLimit,
		))
	}

	if o.NodeID != nil {
		b := o.NodeID[:]
		recs = append(recs, varBytesRecord(offerNodeIDType, &b))
	}

	if o.SendInvoice {
		recs = append(recs, flagRecord(offerSendInvoiceType))
	}

	if o.Signature != nil && includeSignature {
		b := o.Signature[:]
		recs = append(recs, varBytesRecord(offerSignatureType, &b))
	}

	recs = append(recs, o.CustomRecords.Records()...)

	return tlv.SortRecords(recs)
}

// InvoiceRequest is a sender-built record asking a specific offer's
// recipient to issue a corresponding invoice.
type InvoiceRequest struct {
	// OfferID is the merkle root of the offer this request refers to.
	OfferID [32]byte

	// Chains lists the chains the sender will accept, required iff the
	// offer is not bitcoin-only.
	Chains []chainhash.Hash

	// Amount is required iff the offer omitted an amount, forbidden
	// otherwise.
	Amount *uint64

	// Quantity is required iff the offer declared any quantity bound.
	Quantity *uint64

	// PayerKey is the x-only public key derived via the key tweaker
	// that the sender will use to identify itself across its
	// invoice requests.
	PayerKey [32]byte

	// PayerInfo is 16 opaque bytes chosen by the sender: fresh random
	// bytes for a first request, carried over verbatim for recurring
	// follow-ups.
	PayerInfo [16]byte

	// Features is the feature bitmap copied from the caller.
	Features []byte

	// RecurrenceCounter is required iff the offer declared recurrence.
	RecurrenceCounter *uint32

	// RecurrenceStart is required iff the offer's recurrence base has
	// StartAnyPeriod set.
	RecurrenceStart *uint32

	// RecurrenceSignature is produced by the signer gateway over
	// this request's merkle root for every recurring request with
	// RecurrenceCounter > 0.
	RecurrenceSignature *[64]byte

	// CustomRecords holds any unrecognized odd TLV types encountered
	// while decoding.
	CustomRecords CustomSet
}

// records builds this invoice request's TLV record set. includeSignature
// controls whether recurrence_signature is included, for the same reason
// Offer.records separates the signature out of its merkle input.
func (i *InvoiceRequest) records(includeSignature bool) []tlv.Record {
	offerID := i.OfferID[:]
	payerKey := i.PayerKey[:]
	payerInfo := i.PayerInfo[:]

	recs := []tlv.Record{
		varBytesRecord(invreqOfferIDType, &offerID),
	}

	if len(i.Chains) > 0 {
		b := chainsToBytes(i.Chains)
		recs = append(recs, varBytesRecord(invreqChainsType, &b))
	}

	if i.Amount != nil {
		recs = append(recs, tu64Record(invreqAmountType, i.Amount))
	}

	if i.Quantity != nil {
		recs = append(recs, tu64Record(invreqQuantityType, i.Quantity))
	}

	recs = append(recs, varBytesRecord(invreqPayerKeyType, &payerKey))
	recs = append(recs, varBytesRecord(invreqPayerInfoType, &payerInfo))

	if i.Features != nil {
		recs = append(recs, varBytesRecord(invreqFeaturesType, &i.Features))
	}

	if i.RecurrenceCounter != nil {
		recs = append(recs, tu32Record(
			invreqRecurrenceCounterType, i.RecurrenceCounter,
		))
	}

	if i.RecurrenceStart != nil {
		recs = append(recs, tu32Record(
			invreqRecurrenceStartType, i.RecurrenceStart,
		))
	}

	if i.RecurrenceSignature != nil && includeSignature {
		b := i.RecurrenceSignature[:]
		recs = append(recs, varBytesRecord(invreqRecurrenceSignatureType, &b))
	}

	recs = append(recs, i.CustomRecords.Records()...)

	return tlv.SortRecords(recs)
}

// Invoice is the recipient's signed response to an invoice request, payable
// per the offer's terms.
type Invoice struct {
	OfferID             [32]byte
	NodeID              [32]byte
	Signature           [64]byte
	Amount              uint64
	Description         []byte
	Vendor              []byte
	RecurrenceBasetime  *uint64
	Quantity            *uint64
	RecurrenceCounter   *uint32
	RecurrenceStart     *uint32
	PayerKey            *[32]byte
	PayerInfo           *[16]byte
	Features            []byte
	CustomRecords       CustomSet
}

// records builds this invoice's TLV record set. includeSignature controls
// whether the signature field is included, for the same reason
// Offer.records separates the signature out of its merkle input.
func (inv *Invoice) records(includeSignature bool) []tlv.Record {
	offerID := inv.OfferID[:]
	nodeID := inv.NodeID[:]
	sig := inv.Signature[:]
	amount := inv.Amount

	recs := []tlv.Record{
		varBytesRecord(invoiceOfferIDType, &offerID),
		varBytesRecord(invoiceNodeIDType, &nodeID),
		tu64Record(invoiceAmountType, &amount),
	}

	if inv.Description != nil {
		recs = append(recs, varBytesRecord(invoiceDescriptionType, &inv.Description))
	}

	if inv.Vendor != nil {
		recs = append(recs, varBytesRecord(invoiceVendorType, &inv.Vendor))
	}

	if inv.RecurrenceBasetime != nil {
		recs = append(recs, tu64Record(
			invoiceRecurrenceBasetimeType, inv.RecurrenceBasetime,
		))
	}

	if inv.Quantity != nil {
		recs = append(recs, tu64Record(invoiceQuantityType, inv.Quantity))
	}

	if inv.RecurrenceCounter != nil {
		recs = append(recs, tu32Record(
			invoiceRecurrenceCounterType, inv.RecurrenceCounter,
		))
	}

	if inv.RecurrenceStart != nil {
		recs = append(recs, tu32Record(
			invoiceRecurrenceStartType, inv.RecurrenceStart,
		))
	}

	if inv.PayerKey != nil {
		b := inv.PayerKey[:]
		recs = append(recs, varBytesRecord(invoicePayerKeyType, &b))
	}

	if inv.PayerInfo != nil {
		b := inv.PayerInfo[:]
		recs = append(recs, varBytesRecord(invoicePayerInfoType, &b))
	}

	if inv.Features != nil {
		recs = append(recs, varBytesRecord(invoiceFeaturesType, &inv.Features))
	}

	if includeSignature {
		recs = append(recs, varBytesRecord(invoiceSignatureType, &sig))
	}
	recs = append(recs, inv.CustomRecords.Records()...)

	return tlv.SortRecords(recs)
}

// InvoiceError is the optional reply shape a recipient sends instead of an
// Invoice when it cannot (or will not) honor an invoice request.
type InvoiceError struct {
	// ErroneousField is the TLV type number of the invoice request field
	// that the recipient objected to.
	ErroneousField *uint64

	// SuggestedValue is a recipient-proposed replacement value for the
	// erroneous field.
	SuggestedValue []byte

	// Error is a free-form, human-readable explanation.
	Error []byte
}

func (e *InvoiceError) records() []tlv.Record {
	var recs []tlv.Record

	if e.ErroneousField != nil {
		recs = append(recs, tu64Record(invoiceErrErroneousFieldType, e.ErroneousField))
	}

	if e.SuggestedValue != nil {
		recs = append(recs, varBytesRecord(
			invoiceErrSuggestedValueType, &e.SuggestedValue,
		))
	}

	if e.Error != nil {
		recs = append(recs, varBytesRecord(invoiceErrErrorType, &e.Error))
	}

	return tlv.SortRecords(recs)
}

// chainsToBytes concatenates a list of chain hashes into their flattened
// wire representation.
func chainsToBytes(chains []chainhash.Hash) []byte {
	b := make([]byte, 0, len(chains)*chainhash.HashSize)
	for _, c := range chains {
		b = append(b, c[:]...)
	}

	return b
}

// chainsFromBytes splits a flattened chain-hash blob back into individual
// hashes, failing if the blob is not a whole multiple of the hash size.
func chainsFromBytes(b []byte) ([]chainhash.Hash, error) {
	if len(b)%chainhash.HashSize != 0 {
		return nil, errInvalidChainList
	}

	chains := make([]chainhash.Hash, 0, len(b)/chainhash.HashSize)
	for i := 0; i < len(b); i += chainhash.HashSize {
		var h chainhash.Hash
		copy(h[:], b[i:i+chainhash.HashSize])
		chains = append(chains, h)
	}

	return chains, nil
}
