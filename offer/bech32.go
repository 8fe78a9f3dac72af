package offer

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// Bech32 human-readable prefixes for the control-surface string encoding of
// offers and invoice requests (the "bolt12" string form).
const (
	offerHRP  = "lno"
	invreqHRP = "lnr"
)

// EncodeOfferString renders an offer as its bech32-style "lno1..." string.
func EncodeOfferString(o *Offer) (string, error) {
	var b bytes.Buffer
	if err := o.Encode(&b); err != nil {
		return "", err
	}

	return encodeBech32(offerHRP, b.Bytes())
}

// DecodeOfferString parses an "lno1..." string back into an Offer.
func DecodeOfferString(s string) (*Offer, error) {
	raw, err := decodeBech32(offerHRP, s)
	if err != nil {
		return nil, err
	}

	return DecodeOffer(bytes.NewReader(raw))
}

// EncodeInvoiceRequestString renders an invoice request as its bech32-style
// "lnr1..." string.
func EncodeInvoiceRequestString(i *InvoiceRequest) (string, error) {
	var b bytes.Buffer
	if err := i.Encode(&b); err != nil {
		return "", err
	}

	return encodeBech32(invreqHRP, b.Bytes())
}

// DecodeInvoiceRequestString parses an "lnr1..." string back into an
// InvoiceRequest.
func DecodeInvoiceRequestString(s string) (*InvoiceRequest, error) {
	raw, err := decodeBech32(invreqHRP, s)
	if err != nil {
		return nil, err
	}

	return DecodeInvoiceRequest(bytes.NewReader(raw))
}

func encodeBech32(hrp string, raw []byte) (string, error) {
	converted, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}

	return bech32.Encode(hrp, converted)
}

func decodeBech32(wantHRP, s string) ([]byte, error) {
	hrp, data, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return nil, err
	}

	if hrp != wantHRP {
		return nil, errWrongHRP
	}

	return bech32.ConvertBits(data, 5, 8, false)
}
