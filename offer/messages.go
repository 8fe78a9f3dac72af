package offer

import (
	"io"

	"github.com/lightningnetwork/lnd/tlv"
)

// Encode serializes an offer to its canonical TLV wire form.
func (o *Offer) Encode(w io.Writer) error {
	stream, err := tlv.NewStream(o.records(true)...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// knownOfferTypes is the set of TLV types this codec understands for an
// offer; anything else is either captured as a custom record (odd) or
// rejected (even).
var knownOfferTypes = map[tlv.Type]struct{}{
	offerChainsType: {}, offerMetadataType: {}, offerCurrencyType: {},
	offerAmountType: {}, offerDescriptionType: {}, offerFeaturesType: {},
	offerAbsoluteExpiryType: {}, offerIssuerType: {},
	offerQuantityMinType: {}, offerQuantityMaxType: {},
	offerRecurrenceType: {}, offerRecurrenceBaseType: {},
	offerRecurrencePaywindowType: {}, offerRecurrenceLimitType: {},
	offerNodeIDType: {}, offerSendInvoiceType: {}, offerSignatureType: {},
}

// DecodeOffer parses an offer from its TLV wire form. Unknown even types
// cause decoding to fail; unknown odd types are preserved in CustomRecords.
func DecodeOffer(r io.Reader) (*Offer, error) {
	var (
		o         Offer
		chainsRaw []byte
		signature []byte
		nodeID    []byte

		amount         = new(uint64)
		absExpiry      = new(uint64)
		qMin           = new(uint64)
		qMax           = new(uint64)
		recurrence     = new(Recurrence)
		recurrenceBase = new(RecurrenceBase)
		paywindow      = new(RecurrencePaywindow)
		limit          = new(uint32)
	)

	recs := []tlv.Record{
		varBytesRecord(offerChainsType, &chainsRaw),
		varBytesRecord(offerMetadataType, &o.Metadata),
		varBytesRecord(offerCurrencyType, &o.Currency),
		tu64Record(offerAmountType, amount),
		varBytesRecord(offerDescriptionType, &o.Description),
		varBytesRecord(offerFeaturesType, &o.Features),
		tu64Record(offerAbsoluteExpiryType, absExpiry),
		varBytesRecord(offerIssuerType, &o.Issuer),
		tu64Record(offerQuantityMinType, qMin),
		tu64Record(offerQuantityMaxType, qMax),
		newRecurrenceRecord(offerRecurrenceType, recurrence),
		newRecurrenceBaseRecord(offerRecurrenceBaseType, recurrenceBase),
		newRecurrencePaywindowRecord(offerRecurrencePaywindowType, paywindow),
		tu32Record(offerRecurrenceLimitType, limit),
		varBytesRecord(offerNodeIDType, &nodeID),
		flagRecord(offerSendInvoiceType),
		varBytesRecord(offerSignatureType, &signature),
	}

	parsed, err := decodeStream(r, recs, knownOfferTypes)
	if err != nil {
		return nil, err
	}

	if _, ok := parsed[offerChainsType]; ok {
		chains, err := chainsFromBytes(chainsRaw)
		if err != nil {
			return nil, err
		}
		o.Chains = chains
	}

	if _, ok := parsed[offerAmountType]; ok {
		o.Amount = amount
	}

	if _, ok := parsed[offerAbsoluteExpiryType]; ok {
		o.AbsoluteExpiry = absExpiry
	}

	if _, ok := parsed[offerQuantityMinType]; ok {
		o.QuantityMin = qMin
	}

	if _, ok := parsed[offerQuantityMaxType]; ok {
		o.QuantityMax = qMax
	}

	if _, ok := parsed[offerRecurrenceType]; ok {
		o.Recurrence = recurrence
	}

	if _, ok := parsed[offerRecurrenceBaseType]; ok {
		o.RecurrenceBase = recurrenceBase
	}

	if _, ok := parsed[offerRecurrencePaywindowType]; ok {
		o.RecurrencePaywindow = paywindow
	}

	if _, ok := parsed[offerRecurrenceLimitType]; ok {
		o.RecurrenceLimit = limit
	}

	if _, ok := parsed[offerNodeIDType]; ok {
		if len(nodeID) != 32 {
			return nil, errMalformedNodeID
		}
		var id [32]byte
		copy(id[:], nodeID)
		o.NodeID = &id
	}

	if _, ok := parsed[offerSendInvoiceType]; ok {
		o.SendInvoice = true
	}

	if _, ok := parsed[offerSignatureType]; ok {
		if len(signature) != 64 {
			return nil, errMalformedSignature
		}
		var sig [64]byte
		copy(sig[:], signature)
		o.Signature = &sig
	}

	o.CustomRecords = newCustomSet(parsed, knownOfferTypes)

	return &o, nil
}

// Validate checks the invariants an offer must satisfy to be usable,
// independent of whether it has been signed.
func (o *Offer) Validate() error {
	if o.NodeID == nil {
		return errMissingNodeID
	}

	if o.Description == nil {
		return errMissingDescription
	}

	return nil
}

// MerkleRoot returns the canonical merkle root of this offer's field set,
// which also serves as its offer id.
func (o *Offer) MerkleRoot() ([32]byte, error) {
	return MerkleRoot(o.records(false))
}

// Encode serializes an invoice request to its canonical TLV wire form.
func (i *InvoiceRequest) Encode(w io.Writer) error {
	stream, err := tlv.NewStream(i.records(true)...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// MerkleRoot returns the canonical merkle root of this invoice request's
// field set, the value that gets sighashed for the recurrence signature.
func (i *InvoiceRequest) MerkleRoot() ([32]byte, error) {
	return MerkleRoot(i.records(false))
}

var knownInvreqTypes = map[tlv.Type]struct{}{
	invreqOfferIDType: {}, invreqChainsType: {}, invreqAmountType: {},
	invreqQuantityType: {}, invreqPayerKeyType: {}, invreqPayerInfoType: {},
	invreqFeaturesType: {}, invreqRecurrenceCounterType: {},
	invreqRecurrenceStartType: {}, invreqRecurrenceSignatureType: {},
}

// DecodeInvoiceRequest parses an invoice request from its TLV wire form.
func DecodeInvoiceRequest(r io.Reader) (*InvoiceRequest, error) {
	var (
		i         InvoiceRequest
		offerID   []byte
		chainsRaw []byte
		payerKey  []byte
		payerInfo []byte
		recSig    []byte

		amount  = new(uint64)
		qty     = new(uint64)
		counter = new(uint32)
		start   = new(uint32)
	)

	recs := []tlv.Record{
		varBytesRecord(invreqOfferIDType, &offerID),
		varBytesRecord(invreqChainsType, &chainsRaw),
		tu64Record(invreqAmountType, amount),
		tu64Record(invreqQuantityType, qty),
		varBytesRecord(invreqPayerKeyType, &payerKey),
		varBytesRecord(invreqPayerInfoType, &payerInfo),
		varBytesRecord(invreqFeaturesType, &i.Features),
		tu32Record(invreqRecurrenceCounterType, counter),
		tu32Record(invreqRecurrenceStartType, start),
		varBytesRecord(invreqRecurrenceSignatureType, &recSig),
	}

	parsed, err := decodeStream(r, recs, knownInvreqTypes)
	if err != nil {
		return nil, err
	}

	if len(offerID) != 32 {
		return nil, errMalformedOfferID
	}
	copy(i.OfferID[:], offerID)

	if _, ok := parsed[invreqPayerKeyType]; ok {
		if len(payerKey) != 32 {
			return nil, errMalformedPayerKey
		}
		copy(i.PayerKey[:], payerKey)
	}

	if _, ok := parsed[invreqPayerInfoType]; ok {
		if len(payerInfo) != 16 {
			return nil, errMalformedPayerInfo
		}
		copy(i.PayerInfo[:], payerInfo)
	}

	if _, ok := parsed[invreqChainsType]; ok {
		chains, err := chainsFromBytes(chainsRaw)
		if err != nil {
			return nil, err
		}
		i.Chains = chains
	}

	if _, ok := parsed[invreqAmountType]; ok {
		i.Amount = amount
	}

	if _, ok := parsed[invreqQuantityType]; ok {
		i.Quantity = qty
	}

	if _, ok := parsed[invreqRecurrenceCounterType]; ok {
		i.RecurrenceCounter = counter
	}

	if _, ok := parsed[invreqRecurrenceStartType]; ok {
		i.RecurrenceStart = start
	}

	if _, ok := parsed[invreqRecurrenceSignatureType]; ok {
		if len(recSig) != 64 {
			return nil, errMalformedSignature
		}
		var sig [64]byte
		copy(sig[:], recSig)
		i.RecurrenceSignature = &sig
	}

	i.CustomRecords = newCustomSet(parsed, knownInvreqTypes)

	return &i, nil
}

// Encode serializes an invoice to its canonical TLV wire form.
func (inv *Invoice) Encode(w io.Writer) error {
	stream, err := tlv.NewStream(inv.records(true)...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// MerkleRoot returns the canonical merkle root of this invoice's field set,
// the value whose signature is verified against the offer's node id.
func (inv *Invoice) MerkleRoot() ([32]byte, error) {
	return MerkleRoot(inv.records(false))
}

var knownInvoiceTypes = map[tlv.Type]struct{}{
	invoiceOfferIDType: {}, invoiceNodeIDType: {}, invoiceAmountType: {},
	invoiceDescriptionType: {}, invoiceVendorType: {},
	invoiceRecurrenceBasetimeType: {}, invoiceQuantityType: {},
	invoiceRecurrenceCounterType: {}, invoiceRecurrenceStartType: {},
	invoicePayerKeyType: {}, invoicePayerInfoType: {}, invoiceFeaturesType: {},
	invoiceSignatureType: {},
}

// DecodeInvoice parses an invoice from its TLV wire form.
func DecodeInvoice(r io.Reader) (*Invoice, error) {
	var (
		inv       Invoice
		offerID   []byte
		nodeID    []byte
		signature []byte
		payerKey  []byte
		payerInfo []byte

		amount     uint64
		basetime   = new(uint64)
		qty        = new(uint64)
		counter    = new(uint32)
		start      = new(uint32)
	)

	recs := []tlv.Record{
		varBytesRecord(invoiceOfferIDType, &offerID),
		varBytesRecord(invoiceNodeIDType, &nodeID),
		tu64Record(invoiceAmountType, &amount),
		varBytesRecord(invoiceDescriptionType, &inv.Description),
		varBytesRecord(invoiceVendorType, &inv.Vendor),
		tu64Record(invoiceRecurrenceBasetimeType, basetime),
		tu64Record(invoiceQuantityType, qty),
		tu32Record(invoiceRecurrenceCounterType, counter),
		tu32Record(invoiceRecurrenceStartType, start),
		varBytesRecord(invoicePayerKeyType, &payerKey),
		varBytesRecord(invoicePayerInfoType, &payerInfo),
		varBytesRecord(invoiceFeaturesType, &inv.Features),
		varBytesRecord(invoiceSignatureType, &signature),
	}

	parsed, err := decodeStream(r, recs, knownInvoiceTypes)
	if err != nil {
		return nil, err
	}

	if len(offerID) != 32 {
		return nil, errMalformedOfferID
	}
	copy(inv.OfferID[:], offerID)

	if len(nodeID) != 32 {
		return nil, errMalformedNodeID
	}
	copy(inv.NodeID[:], nodeID)

	if len(signature) != 64 {
		return nil, errMalformedSignature
	}
	copy(inv.Signature[:], signature)

	if _, ok := parsed[invoiceAmountType]; !ok {
		return nil, errMissingAmount
	}
	inv.Amount = amount

	if _, ok := parsed[invoiceRecurrenceBasetimeType]; ok {
		inv.RecurrenceBasetime = basetime
	}

	if _, ok := parsed[invoiceQuantityType]; ok {
		inv.Quantity = qty
	}

	if _, ok := parsed[invoiceRecurrenceCounterType]; ok {
		inv.RecurrenceCounter = counter
	}

	if _, ok := parsed[invoiceRecurrenceStartType]; ok {
		inv.RecurrenceStart = start
	}

	if _, ok := parsed[invoicePayerKeyType]; ok {
		if len(payerKey) != 32 {
			return nil, errMalformedPayerKey
		}
		var key [32]byte
		copy(key[:], payerKey)
		inv.PayerKey = &key
	}

	if _, ok := parsed[invoicePayerInfoType]; ok {
		if len(payerInfo) != 16 {
			return nil, errMalformedPayerInfo
		}
		var info [16]byte
		copy(info[:], payerInfo)
		inv.PayerInfo = &info
	}

	inv.CustomRecords = newCustomSet(parsed, knownInvoiceTypes)

	return &inv, nil
}

// Encode serializes an invoice error to its canonical TLV wire form.
func (e *InvoiceError) Encode(w io.Writer) error {
	stream, err := tlv.NewStream(e.records()...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

var knownInvoiceErrTypes = map[tlv.Type]struct{}{
	invoiceErrErroneousFieldType: {}, invoiceErrSuggestedValueType: {},
	invoiceErrErrorType: {},
}

// DecodeInvoiceError parses an invoice error from its TLV wire form. A
// malformed invoice error is reported hex-transparently by the caller;
// this function only fails on structural TLV violations.
func DecodeInvoiceError(r io.Reader) (*InvoiceError, error) {
	var (
		e             InvoiceError
		erroneousType = new(uint64)
	)

	recs := []tlv.Record{
		tu64Record(invoiceErrErroneousFieldType, erroneousType),
		varBytesRecord(invoiceErrSuggestedValueType, &e.SuggestedValue),
		varBytesRecord(invoiceErrErrorType, &e.Error),
	}

	parsed, err := decodeStream(r, recs, knownInvoiceErrTypes)
	if err != nil {
		return nil, err
	}

	if _, ok := parsed[invoiceErrErroneousFieldType]; ok {
		e.ErroneousField = erroneousType
	}

	return &e, nil
}
