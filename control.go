package boltnd

import (
	"bytes"
	"errors"

	"github.com/google/uuid"

	"github.com/carlakc/boltnd/blindedpath"
	"github.com/carlakc/boltnd/invreq"
	"github.com/carlakc/boltnd/offer"
	"github.com/carlakc/boltnd/pending"
	"github.com/carlakc/boltnd/routing"
	"github.com/carlakc/boltnd/store"
	"github.com/carlakc/boltnd/validate"
)

// CreateOffer validates an unsigned offer, countersigns it through the
// signer gateway, and stores it under its merkle root. bolt12Unsigned
// must not already carry a signature: signing is this call's job.
func (m *Manager) CreateOffer(bolt12Unsigned, label string,
	singleUse bool) (*store.Entry, error) {

	o, err := offer.DecodeOfferString(bolt12Unsigned)
	if err != nil {
		return nil, fieldErrorf(ErrCodeInvalidParams, "bolt12_unsigned",
			"decoding offer: %v", err)
	}

	if o.Signature != nil {
		return nil, fieldErrorf(ErrCodeInvalidParams, "bolt12_unsigned",
			"offer must not already carry a signature")
	}

	if err := o.Validate(); err != nil {
		return nil, fieldErrorf(ErrCodeInvalidParams, "bolt12_unsigned",
			"%v", err)
	}

	offerID, err := o.MerkleRoot()
	if err != nil {
		return nil, codedErrorf(ErrCodeInternal, "offer merkle root: %v", err)
	}

	sig, err := m.cfg.Signer.Sign("offer", "signature", offerID, nil)
	if err != nil {
		return nil, codedErrorf(ErrCodeInternal, "signing offer: %v", err)
	}
	o.Signature = &sig

	bolt12, err := offer.EncodeOfferString(o)
	if err != nil {
		return nil, codedErrorf(ErrCodeInternal, "encoding signed offer: %v", err)
	}

	status := store.MultipleUse
	if singleUse {
		status = store.SingleUse
	}

	if err := m.cfg.Offers.Create(offerID, bolt12, label, status); err != nil {
		if errors.Is(err, store.ErrOfferAlreadyExists) {
			return nil, codedErrorf(ErrCodeOfferAlreadyExists,
				"offer %x already exists", offerID)
		}

		return nil, codedErrorf(ErrCodeInternal, "storing offer: %v", err)
	}

	return m.cfg.Offers.Find(offerID)
}

// ListOffers returns a single offer by id, or every stored offer when
// offerID is nil, optionally filtered down to active (usable) offers.
func (m *Manager) ListOffers(offerID *[32]byte,
	activeOnly bool) ([]*store.Entry, error) {

	if offerID != nil {
		entry, err := m.cfg.Offers.Find(*offerID)
		if err != nil {
			if errors.Is(err, store.ErrOfferNotFound) {
				return nil, fieldErrorf(ErrCodeInvalidParams, "offer_id",
					"offer %x not found", *offerID)
			}

			return nil, codedErrorf(ErrCodeInternal, "looking up offer: %v", err)
		}

		if activeOnly && !entry.Status.Active() {
			return nil, nil
		}

		return []*store.Entry{entry}, nil
	}

	var (
		entries []*store.Entry
		iterErr error
	)

	m.cfg.Offers.Iterate(func(id [32]byte) bool {
		entry, err := m.cfg.Offers.Find(id)
		if err != nil {
			iterErr = err
			return false
		}

		if !activeOnly || entry.Status.Active() {
			entries = append(entries, entry)
		}

		return true
	})
	if iterErr != nil {
		return nil, codedErrorf(ErrCodeInternal, "listing offers: %v", iterErr)
	}

	return entries, nil
}

// DisableOffer transitions an offer out of active use, so that it can no
// longer back a new invoice request.
func (m *Manager) DisableOffer(offerID [32]byte) (*store.Entry, error) {
	if _, err := m.cfg.Offers.Disable(offerID); err != nil {
		switch {
		case errors.Is(err, store.ErrOfferNotFound):
			return nil, fieldErrorf(ErrCodeInvalidParams, "offer_id",
				"offer %x not found", offerID)

		case errors.Is(err, store.ErrOfferAlreadyDisabled):
			return nil, codedErrorf(ErrCodeOfferAlreadyDisabled,
				"offer %x already disabled", offerID)

		default:
			return nil, codedErrorf(ErrCodeInternal, "disabling offer: %v", err)
		}
	}

	return m.cfg.Offers.Find(offerID)
}

// CreateInvoiceRequest fills in the payer_key/payer_info of a
// caller-assembled, partial invoice_request (amount, quantity, and
// recurrence fields already set against the referenced offer) and signs
// its recurrence_signature where required. bolt12Unsigned must not
// already carry payer_key or payer_info: both are populated internally,
// the same unlinkability guarantee invreq.Builder gives a fresh request.
func (m *Manager) CreateInvoiceRequest(bolt12Unsigned,
	recurrenceLabel string) (string, error) {

	partial, err := offer.DecodeInvoiceRequestString(bolt12Unsigned)
	if err != nil {
		return "", fieldErrorf(ErrCodeInvalidParams, "bolt12_unsigned",
			"decoding invoice request: %v", err)
	}

	var zeroKey [32]byte
	var zeroInfo [16]byte

	if partial.PayerKey != zeroKey || partial.PayerInfo != zeroInfo {
		return "", fieldErrorf(ErrCodeInvalidParams, "bolt12_unsigned",
			"payer_key and payer_info are populated internally")
	}

	entry, err := m.cfg.Offers.Find(partial.OfferID)
	if err != nil {
		return "", fieldErrorf(ErrCodeInvalidParams, "bolt12_unsigned",
			"looking up referenced offer: %v", err)
	}

	if !entry.Status.Active() {
		return "", codedErrorf(ErrCodeOfferAlreadyDisabled,
			"offer %x is not active: %v", partial.OfferID, entry.Status)
	}

	o, err := offer.DecodeOfferString(entry.Bolt12)
	if err != nil {
		return "", codedErrorf(ErrCodeInternal, "decoding stored offer: %v", err)
	}

	params := &invreq.Params{
		Amount:            partial.Amount,
		Quantity:          partial.Quantity,
		RecurrenceCounter: partial.RecurrenceCounter,
		RecurrenceStart:   partial.RecurrenceStart,
		RecurrenceLabel:   recurrenceLabel,
		Features:          partial.Features,
		PayerBaseKey:      m.cfg.PayerBaseKey,
	}

	if len(partial.Chains) > 0 {
		params.Chain = &partial.Chains[0]
	}

	req, err := m.cfg.InvoiceRequests.Build(o, params)
	if err != nil {
		if errors.Is(err, invreq.ErrOfferExpired) {
			return "", codedErrorf(ErrCodeOfferExpired, "offer %x expired",
				partial.OfferID)
		}

		return "", fieldErrorf(ErrCodeInvalidParams, "bolt12_unsigned",
			"building invoice request: %v", err)
	}

	bolt12, err := offer.EncodeInvoiceRequestString(req)
	if err != nil {
		return "", codedErrorf(ErrCodeInternal, "encoding invoice request: %v", err)
	}

	return bolt12, nil
}

// FetchParams collects a fetch_invoice call's caller-supplied parameters.
type FetchParams struct {
	// OfferID selects the stored offer to build an invoice request
	// against.
	OfferID [32]byte

	Amount            *uint64
	Quantity          *uint64
	RecurrenceCounter *uint32
	RecurrenceStart   *uint32
	RecurrenceLabel   string
}

// FetchResult is the outcome of a successful fetch_invoice call.
type FetchResult struct {
	Invoice    *offer.Invoice
	Changes    *validate.Changes
	NextPeriod *validate.NextPeriod
}

// FetchInvoice builds an invoice request against the given offer, routes
// it to the offer's recipient over a freshly built blinded reply path,
// dispatches it over the onion message overlay, and blocks until either a
// validated reply arrives or the pending-request table's timeout expires.
func (m *Manager) FetchInvoice(params *FetchParams) (*FetchResult, error) {
	entry, err := m.cfg.Offers.Find(params.OfferID)
	if err != nil {
		return nil, fieldErrorf(ErrCodeInvalidParams, "offer_id",
			"looking up offer: %v", err)
	}

	if !entry.Status.Active() {
		return nil, fieldErrorf(ErrCodeInvalidParams, "offer_id",
			"offer %x is not active: %v", params.OfferID, entry.Status)
	}

	o, err := offer.DecodeOfferString(entry.Bolt12)
	if err != nil {
		return nil, codedErrorf(ErrCodeInternal, "decoding stored offer: %v", err)
	}

	invreqParams := &invreq.Params{
		Amount:            params.Amount,
		Quantity:          params.Quantity,
		RecurrenceCounter: params.RecurrenceCounter,
		RecurrenceStart:   params.RecurrenceStart,
		RecurrenceLabel:   params.RecurrenceLabel,
		PayerBaseKey:      m.cfg.PayerBaseKey,
	}

	req, err := m.cfg.InvoiceRequests.Build(o, invreqParams)
	if err != nil {
		if errors.Is(err, invreq.ErrOfferExpired) {
			return nil, codedErrorf(ErrCodeOfferExpired, "offer %x expired",
				params.OfferID)
		}

		return nil, fieldErrorf(ErrCodeInvalidParams, "fetch_invoice", "%v", err)
	}

	var payloadBuf bytes.Buffer
	if err := req.Encode(&payloadBuf); err != nil {
		return nil, codedErrorf(ErrCodeInternal,
			"encoding invoice request: %v", err)
	}
	payload := payloadBuf.Bytes()

	dest, err := routing.ResolveDestination(m.cfg.Graph, *o.NodeID)
	if err != nil {
		return nil, codedErrorf(ErrCodeRouteNotFound, "resolving destination: %v", err)
	}

	source := routing.NewVertex(m.cfg.OwnNodeKey)

	channelIDs, err := routing.FindRoute(m.cfg.Graph, source, dest)
	if err != nil {
		return nil, codedErrorf(ErrCodeRouteNotFound, "finding route: %v", err)
	}

	hops, err := replyPathHops(m.cfg.Graph, source, channelIDs)
	if err != nil {
		return nil, codedErrorf(ErrCodeRouteNotFound, "building reply path: %v", err)
	}

	path, err := blindedpath.Build(hops)
	if err != nil {
		return nil, codedErrorf(ErrCodeInternal, "building blinded reply path: %v", err)
	}

	destNode, ok := m.cfg.Graph.Node(dest)
	if !ok {
		return nil, codedErrorf(ErrCodeRouteNotFound,
			"destination vanished from graph")
	}

	id := uuid.New()
	outcome := make(chan fetchOutcome, 1)

	m.mu.Lock()
	m.waiting[id] = outcome
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.waiting, id)
		m.mu.Unlock()
	}()

	blinding := pending.KeyFromPubkey(path.BlindingPoint)

	if err := m.pending.Insert(&pending.Request{
		ID:             id,
		Blinding:       blinding,
		Offer:          o,
		InvoiceRequest: req,
	}); err != nil {
		return nil, codedErrorf(ErrCodeInternal, "registering pending request: %v", err)
	}

	if err := m.cfg.SendOnionMessage(destNode.PubKey, path, payload); err != nil {
		m.pending.Remove(blinding)

		return nil, codedErrorf(ErrCodeInternal, "sending onion message: %v", err)
	}

	select {
	case out := <-outcome:
		if out.err != nil {
			return nil, out.err
		}

		return &FetchResult{
			Invoice:    out.result.Invoice,
			Changes:    out.result.Changes,
			NextPeriod: out.result.NextPeriod,
		}, nil

	case <-m.quit:
		m.pending.Remove(blinding)

		return nil, codedErrorf(ErrCodeInternal, "manager shutting down")
	}
}
