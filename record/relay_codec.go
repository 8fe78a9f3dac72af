package record

import (
	"encoding/binary"
	"io"

	"github.com/carlakc/boltnd/lnwire"
	"github.com/lightningnetwork/lnd/tlv"
)

// newPaymentRelayRecord creates a tlv.Record that encodes the payment_relay
// (type 10) TLV for an encrypted blinded-hop payload.
func newPaymentRelayRecord(info *PaymentRelayInfo) tlv.Record {
	return tlv.MakeDynamicRecord(
		paymentRelayType, &info, func() uint64 {
			// uint32 base fee / uint32 fee rate / uint16 cltv
			return 4 + 4 + 2
		}, encodePaymentRelay, decodePaymentRelay,
	)
}

func encodePaymentRelay(w io.Writer, val interface{}, _ *[8]byte) error {
	if t, ok := val.(**PaymentRelayInfo); ok {
		var buf [10]byte

		relayInfo := *t
		binary.BigEndian.PutUint32(buf[:4], relayInfo.BaseFee)
		binary.BigEndian.PutUint32(buf[4:8], relayInfo.FeeRate)
		binary.BigEndian.PutUint16(buf[8:], relayInfo.CltvExpiryDelta)

		_, err := w.Write(buf[:])
		return err
	}

	return tlv.NewTypeForEncodingErr(val, "*record.PaymentRelayInfo")
}

func decodePaymentRelay(r io.Reader, val interface{}, _ *[8]byte,
	l uint64) error {

	if t, ok := val.(**PaymentRelayInfo); ok && l == 10 {
		var buf [10]byte

		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}

		relayInfo := *t
		relayInfo.BaseFee = binary.BigEndian.Uint32(buf[:4])
		relayInfo.FeeRate = binary.BigEndian.Uint32(buf[4:8])
		relayInfo.CltvExpiryDelta = binary.BigEndian.Uint16(buf[8:])

		return nil
	}

	return tlv.NewTypeForDecodingErr(val, "*record.PaymentRelayInfo", l, 10)
}

// newPaymentConstraintsRecord creates a tlv.Record that encodes the
// payment_constraints (type 12) TLV for an encrypted blinded-hop payload.
func newPaymentConstraintsRecord(constraints *PaymentConstraints) tlv.Record {
	return tlv.MakeDynamicRecord(
		paymentConstraintsType, &constraints, func() uint64 {
			// uint32 max cltv / uint64 htlc minimum
			return 4 + 8
		}, encodePaymentConstraints, decodePaymentConstraints,
	)
}

func encodePaymentConstraints(w io.Writer, val interface{}, _ *[8]byte) error {
	if c, ok := val.(**PaymentConstraints); ok {
		var buf [12]byte

		constraints := *c
		binary.BigEndian.PutUint32(buf[:4], constraints.MaxCltvExpiry)
		binary.BigEndian.PutUint64(
			buf[4:12], uint64(constraints.HtlcMinimumMsat),
		)

		_, err := w.Write(buf[:])
		return err
	}

	return tlv.NewTypeForEncodingErr(val, "*record.PaymentConstraints")
}

func decodePaymentConstraints(r io.Reader, val interface{}, _ *[8]byte,
	l uint64) error {

	if c, ok := val.(**PaymentConstraints); ok && l == 12 {
		var buf [12]byte

		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}

		constraints := *c
		constraints.MaxCltvExpiry = binary.BigEndian.Uint32(buf[:4])
		constraints.HtlcMinimumMsat = lnwire.MilliSatoshi(
			binary.BigEndian.Uint64(buf[4:12]),
		)

		return nil
	}

	return tlv.NewTypeForDecodingErr(val, "*record.PaymentConstraints", l, 12)
}
