package lnwire

import "fmt"

// MilliSatoshi represents a sub-satoshi amount, the unit that all amounts in
// offers, invoice requests and invoices are expressed in.
type MilliSatoshi uint64

// ToSatoshis rounds a msat amount down to the nearest whole satoshi.
func (m MilliSatoshi) ToSatoshis() uint64 {
	return uint64(m) / 1000
}

// String returns a human-readable representation of a msat amount.
func (m MilliSatoshi) String() string {
	return fmt.Sprintf("%d mSAT", uint64(m))
}
