package market

import "fmt"

// ErrorCode is a stable small-integer error code per spec §6.3. Values
// are part of the interface once published — never renumber a released
// constant, only append.
type ErrorCode int

const (
	_ ErrorCode = iota
	// ErrAlreadyInitialized: create_market called on a buffer set that
	// isn't all Uninitialized.
	ErrAlreadyInitialized
	// ErrWrongBids: the bids buffer's tag or cross-referenced handle
	// doesn't match what the market expects.
	ErrWrongBids
	// ErrWrongAsks: same, for the asks buffer.
	ErrWrongAsks
	// ErrWrongEventQueue: same, for the event-queue buffer.
	ErrWrongEventQueue
	// ErrWrongMarket: the market buffer's own tag isn't Market.
	ErrWrongMarket
	// ErrWrongAuthority: the caller-supplied authority doesn't match
	// market.caller_authority.
	ErrWrongAuthority
	// ErrEventQueueFull: the event queue had no room for an event the
	// matching loop needed to emit; the call is rolled back.
	ErrEventQueueFull
	// ErrOrderNotFound: cancel_order on an absent or already-cancelled id.
	ErrOrderNotFound
	// ErrWouldSelfTrade: AbortTransaction self-trade policy triggered.
	ErrWouldSelfTrade
	// ErrSlabOutOfSpace: posting the residual failed even after the
	// single eviction retry.
	ErrSlabOutOfSpace
	// ErrFeeNotPayed: the host-side fee budget precondition for this call
	// was not satisfied. No path in this module returns it; reproduced
	// here so the code list is complete per original_source/.
	ErrFeeNotPayed
	// ErrNoOperations: consume_events(0) — nothing to do.
	ErrNoOperations
	// ErrMarketStillActive: close_market with non-empty trees or queue.
	ErrMarketStillActive
	// ErrInvalidBaseQuantity: new_order with max_base_qty == 0.
	ErrInvalidBaseQuantity
	// ErrWrongAccountTag: a buffer's tag byte doesn't match any expected
	// role at all (distinct from WrongBids/Asks/EventQueue, which match a
	// role to the wrong specific buffer).
	ErrWrongAccountTag
	// ErrFailedToDeserialize: a supplied buffer could not be interpreted
	// as its expected record type.
	ErrFailedToDeserialize
)

func (c ErrorCode) String() string {
	switch c {
	case ErrAlreadyInitialized:
		return "AlreadyInitialized"
	case ErrWrongBids:
		return "WrongBids"
	case ErrWrongAsks:
		return "WrongAsks"
	case ErrWrongEventQueue:
		return "WrongEventQueue"
	case ErrWrongMarket:
		return "WrongMarket"
	case ErrWrongAuthority:
		return "WrongAuthority"
	case ErrEventQueueFull:
		return "EventQueueFull"
	case ErrOrderNotFound:
		return "OrderNotFound"
	case ErrWouldSelfTrade:
		return "WouldSelfTrade"
	case ErrSlabOutOfSpace:
		return "SlabOutOfSpace"
	case ErrFeeNotPayed:
		return "FeeNotPayed"
	case ErrNoOperations:
		return "NoOperations"
	case ErrMarketStillActive:
		return "MarketStillActive"
	case ErrInvalidBaseQuantity:
		return "InvalidBaseQuantity"
	case ErrWrongAccountTag:
		return "WrongAccountTag"
	case ErrFailedToDeserialize:
		return "FailedToDeserialize"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// Error wraps an ErrorCode as a Go error, with Is support so callers can
// write errors.Is(err, market.Err(market.ErrOrderNotFound)).
type Error struct {
	Code ErrorCode
}

// Err constructs an *Error for the given code.
func Err(code ErrorCode) *Error { return &Error{Code: code} }

func (e *Error) Error() string { return "market: " + e.Code.String() }

// Is reports whether target is a *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}
