package offer

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/lightningnetwork/lnd/tlv"
)

var (
	errInvalidChainList = errors.New("chain list is not a whole multiple " +
		"of the chain hash size")

	// errMissingNodeID is returned when an offer has no node_id set.
	errMissingNodeID = errors.New("offer missing node_id")

	// errMissingDescription is returned when an offer has no description
	// set.
	errMissingDescription = errors.New("offer missing description")

	// errUnknownEvenType is returned when decoding encounters an even
	// TLV type that this codec does not recognize.
	errUnknownEvenType = errors.New("unknown even tlv type")

	// errMalformedSignature is returned when a signature field is
	// present but not exactly 64 bytes.
	errMalformedSignature = errors.New("malformed signature")

	// errMalformedNodeID is returned when a node_id field is present
	// but not exactly 32 bytes.
	errMalformedNodeID = errors.New("malformed node_id")

	// errMalformedOfferID is returned when an offer_id field is not
	// exactly 32 bytes.
	errMalformedOfferID = errors.New("malformed offer_id")

	// errMissingAmount is returned when an invoice's mandatory amount
	// field was not present on the wire.
	errMissingAmount = errors.New("invoice missing amount")

	// errMalformedPayerKey is returned when a payer_key field is present
	// but not exactly 32 bytes.
	errMalformedPayerKey = errors.New("malformed payer_key")

	// errMalformedPayerInfo is returned when a payer_info field is
	// present but not exactly 16 bytes.
	errMalformedPayerInfo = errors.New("malformed payer_info")

	// errWrongHRP is returned when a bech32-style string carries the
	// wrong human-readable prefix for the type being decoded.
	errWrongHRP = errors.New("unexpected bech32 human-readable prefix")
)

// CustomSet holds TLV types outside of the fields this codec understands,
// keyed by their raw type number. Odd (optional, per BOLT TLV convention)
// unknown types are captured here and round-tripped on re-encode; even
// unknown types cause decoding to fail before this set is ever populated.
type CustomSet map[uint64][]byte

// Records converts a custom set back into tlv.Records for re-encoding.
func (c CustomSet) Records() []tlv.Record {
	recs := make([]tlv.Record, 0, len(c))
	for t, v := range c {
		v := v
		recs = append(recs, varBytesRecord(tlv.Type(t), &v))
	}

	return recs
}

// newCustomSet builds a CustomSet from the parsed-types map returned by a
// tlv.Stream decode, keeping only the odd types that none of our known
// records claimed.
func newCustomSet(parsed tlv.TypeMap, known map[tlv.Type]struct{}) CustomSet {
	custom := make(CustomSet)

	for t, v := range parsed {
		if v == nil {
			continue
		}
		if _, ok := known[t]; ok {
			continue
		}

		custom[uint64(t)] = v
	}

	return custom
}

// varBytesRecord builds a tlv.Record around a variable-length byte slice.
func varBytesRecord(t tlv.Type, b *[]byte) tlv.Record {
	return tlv.MakeDynamicRecord(
		t, b, tlv.SizeVarBytes(b), tlv.EVarBytes, tlv.DVarBytes,
	)
}

// tu64Record builds a tlv.Record around a minimally-encoded ("truncated")
// 64-bit integer, the convention offers-style numeric TLV fields use.
func tu64Record(t tlv.Type, val *uint64) tlv.Record {
	return tlv.MakeDynamicRecord(
		t, val, tlv.SizeTUint64(val), tlv.ETUint64, tlv.DTUint64,
	)
}

// tu32Record builds a tlv.Record around a minimally-encoded 32-bit integer.
func tu32Record(t tlv.Type, val *uint32) tlv.Record {
	return tlv.MakeDynamicRecord(
		t, val, tlv.SizeTUint32(val), tlv.ETUint32, tlv.DTUint32,
	)
}

// flagRecord builds a zero-length presence-only tlv.Record.
func flagRecord(t tlv.Type) tlv.Record {
	present := true
	return tlv.MakeStaticRecord(
		t, &present, 0,
		func(io.Writer, interface{}, *[8]byte) error {
			return nil
		},
		func(io.Reader, interface{}, *[8]byte, uint64) error {
			return nil
		},
	)
}

func newRecurrenceRecord(t tlv.Type, r *Recurrence) tlv.Record {
	return tlv.MakeDynamicRecord(
		t, &r, func() uint64 { return 1 + 4 },
		func(w io.Writer, val interface{}, _ *[8]byte) error {
			v := (*val.(**Recurrence))
			if _, err := w.Write([]byte{v.TimeUnit}); err != nil {
				return err
			}
			return tlv.EUint32(w, &v.Period, &[8]byte{})
		},
		func(r io.Reader, val interface{}, buf *[8]byte, l uint64) error {
			v := *val.(**Recurrence)

			var unit [1]byte
			if _, err := io.ReadFull(r, unit[:]); err != nil {
				return err
			}
			v.TimeUnit = unit[0]

			return tlv.DUint32(r, &v.Period, buf, 4)
		},
	)
}

func newRecurrenceBaseRecord(t tlv.Type, r *RecurrenceBase) tlv.Record {
	return tlv.MakeDynamicRecord(
		t, &r, func() uint64 { return 8 + 1 },
		func(w io.Writer, val interface{}, buf *[8]byte) error {
			v := *val.(**RecurrenceBase)

			if err := tlv.EUint64(w, &v.BaseTime, buf); err != nil {
				return err
			}

			flag := byte(0)
			if v.StartAnyPeriod {
				flag = 1
			}

			_, err := w.Write([]byte{flag})
			return err
		},
		func(r io.Reader, val interface{}, buf *[8]byte, l uint64) error {
			v := *val.(**RecurrenceBase)

			if err := tlv.DUint64(r, &v.BaseTime, buf, 8); err != nil {
				return err
			}

			var flag [1]byte
			if _, err := io.ReadFull(r, flag[:]); err != nil {
				return err
			}
			v.StartAnyPeriod = flag[0] != 0

			return nil
		},
	)
}

func newRecurrencePaywindowRecord(t tlv.Type, r *RecurrencePaywindow) tlv.Record { //nolint:lll
	return tlv.MakeDynamicRecord(
		t, &r, func() uint64 { return 4 + 1 + 4 },
		func(w io.Writer, val interface{}, buf *[8]byte) error {
			v := *val.(**RecurrencePaywindow)

			if err := tlv.EUint32(w, &v.SecondsBefore, buf); err != nil {
				return err
			}

			flag := byte(0)
			if v.ProportionalAmount {
				flag = 1
			}
			if _, err := w.Write([]byte{flag}); err != nil {
				return err
			}

			return tlv.EUint32(w, &v.SecondsAfter, buf)
		},
		func(r io.Reader, val interface{}, buf *[8]byte, l uint64) error {
			v := *val.(**RecurrencePaywindow)

			if err := tlv.DUint32(r, &v.SecondsBefore, buf, 4); err != nil {
				return err
			}

			var flag [1]byte
			if _, err := io.ReadFull(r, flag[:]); err != nil {
				return err
			}
			v.ProportionalAmount = flag[0] != 0

			return tlv.DUint32(r, &v.SecondsAfter, buf, 4)
		},
	)
}

// tagged hash tag strings used by the merkle/sighash algorithms below.
const (
	leafTag   = "LnLeaf"
	branchTag = "LnBranch"
)

// taggedHash implements the BIP-340-style tagged hash construction:
// SHA256(SHA256(tag) || SHA256(tag) || msg).
func taggedHash(tag string, msg ...[]byte) [32]byte {
	tagHash := sha256.Sum256([]byte(tag))

	h := sha256.New()
	h.Write(tagHash[:])
	h.Write(tagHash[:])
	for _, m := range msg {
		h.Write(m)
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))

	return out
}

// encodeRecord serializes a single tlv.Record to its complete wire triple
// (type, length, value), used as the leaf input to the merkle tree.
func encodeRecord(r tlv.Record) ([]byte, error) {
	stream, err := tlv.NewStream(r)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// MerkleRoot computes the canonical merkle root over a set of TLV records:
// each record's wire triple is tagged-hashed into a leaf, and leaves are
// combined pairwise (left-to-right, odd leaf promoted unchanged) into a
// single 32-byte root. Records must already be in ascending type order.
func MerkleRoot(records []tlv.Record) ([32]byte, error) {
	leaves := make([][32]byte, 0, len(records))

	for _, r := range records {
		raw, err := encodeRecord(r)
		if err != nil {
			return [32]byte{}, fmt.Errorf("encode record %v: %w",
				r.Type(), err)
		}

		leaves = append(leaves, taggedHash(leafTag, raw))
	}

	if len(leaves) == 0 {
		return taggedHash(branchTag), nil
	}

	level := leaves
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)

		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, taggedHash(
				branchTag, level[i][:], level[i+1][:],
			))
		}

		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}

		level = next
	}

	return level[0], nil
}

// SigHash combines two domain-separation tags with a merkle root into the
// 32-byte digest that gets Schnorr-signed or verified.
func SigHash(tagA, tagB string, merkle [32]byte) [32]byte {
	return taggedHash("lightning"+tagA+tagB, merkle[:])
}

// decodeStream runs a tlv.Stream over r, rejecting unknown even types and
// returning the full set of parsed types (known and unknown-odd) for the
// caller to inspect.
func decodeStream(r io.Reader, knownRecords []tlv.Record,
	known map[tlv.Type]struct{}) (tlv.TypeMap, error) {

	stream, err := tlv.NewStream(knownRecords...)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return nil, err
	}

	for t := range parsed {
		if _, ok := known[t]; ok {
			continue
		}

		if t%2 == 0 {
			return nil, fmt.Errorf("%w: %v", errUnknownEvenType, t)
		}
	}

	return parsed, nil
}
