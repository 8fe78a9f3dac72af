package record

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/carlakc/boltnd/lnwire"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	// shortChannelIDType is the record type for the outgoing channel
	// short id of a forwarding hop.
	shortChannelIDType tlv.Type = 2

	// nextNodeType is the record type for the unblinded next node id.
	nextNodeType tlv.Type = 4

	// pathIDType is the record type for an opaque value the final
	// recipient of a blinded path uses to recognize that the path is its
	// own.
	pathIDType tlv.Type = 6

	// paymentRelayType is the record type for the relay parameters
	// applied by a forwarding hop.
	paymentRelayType tlv.Type = 10

	// paymentConstraintsType is the record type for restrictions a
	// forwarding hop places on a payment.
	paymentConstraintsType tlv.Type = 12
)

// BlindedRouteData is the decrypted TLV payload carried by a single hop in a
// blinded path (whether the path is used to forward a payment or to route an
// onion message back to its originator). Every field is optional: an
// intermediate hop typically only sets NextNodeID, while the final hop may
// carry a PathID that lets it recognize the path as one it constructed.
type BlindedRouteData struct {
	// ShortChannelID is the outgoing channel to forward on, if this hop
	// is relaying a payment.
	ShortChannelID *lnwire.ShortChannelID

	// NextNodeID is the unblinded node id of the next hop in the path.
	NextNodeID *btcec.PublicKey

	// PathID is an opaque value set by the path's creator so that it can
	// recognize this path as one that it built.
	PathID []byte

	// RelayInfo holds the fee/cltv parameters a forwarding hop applies.
	RelayInfo *PaymentRelayInfo

	// Constraints restricts the payments a forwarding hop will relay.
	Constraints *PaymentConstraints
}

// EncodeBlindedRouteData serializes a set of blinded route data into its TLV
// stream representation, suitable for onion-message or sphinx-hop
// encryption.
func EncodeBlindedRouteData(data *BlindedRouteData) ([]byte, error) {
	var records []tlv.Record

	if data.ShortChannelID != nil {
		shortID := data.ShortChannelID.ToUint64()
		records = append(records, tlv.MakePrimitiveRecord(
			shortChannelIDType, &shortID,
		))
	}

	if data.NextNodeID != nil {
		records = append(records, tlv.MakePrimitiveRecord(
			nextNodeType, &data.NextNodeID,
		))
	}

	if data.PathID != nil {
		records = append(records, tlv.MakePrimitiveRecord(
			pathIDType, &data.PathID,
		))
	}

	if data.RelayInfo != nil {
		records = append(records, newPaymentRelayRecord(data.RelayInfo))
	}

	if data.Constraints != nil {
		records = append(
			records, newPaymentConstraintsRecord(data.Constraints),
		)
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// DecodeBlindedRouteData parses a blinded route data TLV stream, tolerating
// the absence of any individual field.
func DecodeBlindedRouteData(r io.Reader) (*BlindedRouteData, error) {
	var (
		data = &BlindedRouteData{
			RelayInfo:   &PaymentRelayInfo{},
			Constraints: &PaymentConstraints{},
		}

		shortID uint64
		pathID  []byte
	)

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(shortChannelIDType, &shortID),
		tlv.MakePrimitiveRecord(nextNodeType, &data.NextNodeID),
		tlv.MakePrimitiveRecord(pathIDType, &pathID),
		newPaymentRelayRecord(data.RelayInfo),
		newPaymentConstraintsRecord(data.Constraints),
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	parsedTypes, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return nil, err
	}

	if _, ok := parsedTypes[shortChannelIDType]; ok {
		chanID := lnwire.NewShortChanIDFromInt(shortID)
		data.ShortChannelID = &chanID
	}

	if _, ok := parsedTypes[pathIDType]; ok {
		data.PathID = pathID
	}

	if _, ok := parsedTypes[paymentRelayType]; !ok {
		data.RelayInfo = nil
	}

	if _, ok := parsedTypes[paymentConstraintsType]; !ok {
		data.Constraints = nil
	}

	return data, nil
}
