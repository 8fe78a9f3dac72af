package boltnd

import "fmt"

// ErrorCode is the control surface's stable numeric error taxonomy, shared
// by the offer store, invoice-request builder, router, and reply
// validator so that every caller-facing failure carries one of a small,
// fixed set of codes. Modeled on lnwire.ErrorCode/CodedError, simplified
// to a plain Go error (no TLV wire form: these never cross the onion
// message overlay, only the control surface boundary).
type ErrorCode uint16

const (
	// ErrCodeOfferAlreadyExists indicates create_offer was called with an
	// offer whose id already has a stored entry.
	ErrCodeOfferAlreadyExists ErrorCode = iota + 1

	// ErrCodeOfferAlreadyDisabled indicates disable_offer was called on
	// an offer that is already disabled.
	ErrCodeOfferAlreadyDisabled

	// ErrCodeOfferExpired indicates the offer's absolute_expiry has
	// passed.
	ErrCodeOfferExpired

	// ErrCodeRouteNotFound indicates no admissible onion-message path
	// exists to the offer's recipient.
	ErrCodeRouteNotFound

	// ErrCodeBadInvreqReply indicates the recipient's reply (invoice or
	// invoice_error) failed validation.
	ErrCodeBadInvreqReply

	// ErrCodeInvalidParams indicates a caller-supplied parameter failed
	// validation before any protocol action was taken.
	ErrCodeInvalidParams

	// ErrCodeInternal is a generic internal-failure code for conditions
	// that are not one of the above, specific, caller-actionable cases.
	ErrCodeInternal
)

// String returns the taxonomy's stable name for a code.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOfferAlreadyExists:
		return "OFFER_ALREADY_EXISTS"
	case ErrCodeOfferAlreadyDisabled:
		return "OFFER_ALREADY_DISABLED"
	case ErrCodeOfferExpired:
		return "OFFER_EXPIRED"
	case ErrCodeRouteNotFound:
		return "OFFER_ROUTE_NOT_FOUND"
	case ErrCodeBadInvreqReply:
		return "OFFER_BAD_INVREQ_REPLY"
	case ErrCodeInvalidParams:
		return "INVALID_PARAMS"
	case ErrCodeInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// CodedError pairs a stable ErrorCode with a human-readable reason, the
// shape every control-surface operation returns its failures in.
type CodedError struct {
	// Code identifies which member of the stable taxonomy this is.
	Code ErrorCode

	// Reason is a human-readable explanation, never parsed by callers.
	Reason string

	// Field names the violating field, populated for ErrCodeBadInvreqReply
	// and ErrCodeInvalidParams.
	Field string
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %v", e.Code, e.Reason)
	}

	return fmt.Sprintf("%v: field %v: %v", e.Code, e.Field, e.Reason)
}

func codedErrorf(code ErrorCode, format string,
	args ...interface{}) *CodedError {

	return &CodedError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

func fieldErrorf(code ErrorCode, field, format string,
	args ...interface{}) *CodedError {

	return &CodedError{
		Code:   code,
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	}
}
