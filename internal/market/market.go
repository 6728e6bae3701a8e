// Package market implements the control surface (C7): the five host
// entry points — create_market, new_order, cancel_order, consume_events,
// close_market — that validate buffer ownership and authority, then
// delegate into internal/orderbook.
//
// spec.md models the four collaborating buffers as raw byte slices the
// host lends the core for the duration of one call. This Go
// implementation is a new, non-bit-compatible one (see SPEC_FULL.md §6,
// Open Question 2), so it models the same "borrowed buffer with an
// ownership tag" idea as typed structs instead of byte offsets: each
// buffer still carries a tag and a cross-referenced identity that every
// call validates before touching state, exactly as spec §6.1 requires.
package market

import (
	"github.com/clobcore/matching-engine/internal/eventqueue"
	"github.com/clobcore/matching-engine/internal/orderbook"
	"github.com/clobcore/matching-engine/internal/orderid"
	"github.com/clobcore/matching-engine/internal/slab"
)

// Principal is an opaque 32-byte caller identity, matching spec §3.1's
// caller_authority and buffer-identity handles.
type Principal [32]byte

// AccountTag discriminates the four buffer roles a call validates.
type AccountTag uint8

const (
	TagUninitialized AccountTag = iota
	TagMarket
	TagBids
	TagAsks
	TagEventQueue
)

// MarketState is the singleton per-market record (spec §3.1).
type MarketState struct {
	Tag              AccountTag
	CallerAuthority  Principal
	EventQueueHandle Principal
	BidsHandle       Principal
	AsksHandle       Principal
	CallbackInfoLen  uint64
	CallbackIDLen    uint64
	FeeBudget        uint64
	InitialLamports  uint64
	CrankerReward    uint64
	MinBaseOrderSize uint64
	TickSize         uint64
}

// MarketBuffer is the "market" borrowed buffer.
type MarketBuffer struct {
	Tag   AccountTag
	ID    Principal
	State MarketState
}

// BidsBuffer is the "bids" borrowed buffer: a crit-bit tree plus its tag.
type BidsBuffer struct {
	Tag  AccountTag
	ID   Principal
	Tree *slab.Tree
}

// AsksBuffer is the "asks" borrowed buffer.
type AsksBuffer struct {
	Tag  AccountTag
	ID   Principal
	Tree *slab.Tree
}

// EventQueueBuffer is the "event_queue" borrowed buffer.
type EventQueueBuffer struct {
	Tag   AccountTag
	ID    Principal
	Queue *eventqueue.Queue
}

// BookHandles bundles the four borrowed buffers and the caller-supplied
// authority for one call, per spec §6.1.
type BookHandles struct {
	Market     *MarketBuffer
	EventQueue *EventQueueBuffer
	Bids       *BidsBuffer
	Asks       *AsksBuffer
	Authority  Principal
}

// CreateMarketParams mirrors spec §6.1's create_market parameter record.
type CreateMarketParams struct {
	CallerAuthority  Principal
	CallbackInfoLen  uint64
	CallbackIDLen    uint64
	MinBaseOrderSize uint64
	TickSize         uint64
	CrankerReward    uint64
}

// CreateMarket initializes all four buffers. Every buffer must start
// Uninitialized.
func CreateMarket(h BookHandles, p CreateMarketParams) error {
	if h.Market.Tag != TagUninitialized || h.Bids.Tag != TagUninitialized ||
		h.Asks.Tag != TagUninitialized || h.EventQueue.Tag != TagUninitialized {
		return Err(ErrAlreadyInitialized)
	}
	if p.CallbackInfoLen > slab.CallbackInfoLen {
		return Err(ErrFailedToDeserialize)
	}
	if p.CallbackIDLen > p.CallbackInfoLen {
		return Err(ErrFailedToDeserialize)
	}

	h.Market.State = MarketState{
		Tag:              TagMarket,
		CallerAuthority:  p.CallerAuthority,
		EventQueueHandle: h.EventQueue.ID,
		BidsHandle:       h.Bids.ID,
		AsksHandle:       h.Asks.ID,
		CallbackInfoLen:  p.CallbackInfoLen,
		CallbackIDLen:    p.CallbackIDLen,
		CrankerReward:    p.CrankerReward,
		MinBaseOrderSize: p.MinBaseOrderSize,
		TickSize:         p.TickSize,
	}
	h.Market.Tag = TagMarket
	h.Bids.Tag = TagBids
	h.Asks.Tag = TagAsks
	h.EventQueue.Tag = TagEventQueue
	return nil
}

// validate checks buffer-ownership tags and cross-references per §6.1.
// Every op also calls validateAuthority separately, since create_market
// is the only one exempt (it establishes caller_authority in the first
// place).
func validate(h BookHandles) error {
	if h.Market.Tag != TagMarket {
		return Err(ErrWrongMarket)
	}
	if h.Bids.Tag != TagBids || h.Market.State.BidsHandle != h.Bids.ID {
		return Err(ErrWrongBids)
	}
	if h.Asks.Tag != TagAsks || h.Market.State.AsksHandle != h.Asks.ID {
		return Err(ErrWrongAsks)
	}
	if h.EventQueue.Tag != TagEventQueue || h.Market.State.EventQueueHandle != h.EventQueue.ID {
		return Err(ErrWrongEventQueue)
	}
	return nil
}

func validateAuthority(h BookHandles) error {
	if h.Authority != h.Market.State.CallerAuthority {
		return Err(ErrWrongAuthority)
	}
	return nil
}

func mapOrderBookErr(err error) error {
	switch err {
	case orderbook.ErrInvalidBaseQuantity:
		return Err(ErrInvalidBaseQuantity)
	case orderbook.ErrWouldSelfTrade:
		return Err(ErrWouldSelfTrade)
	case orderbook.ErrEventQueueFull, eventqueue.ErrQueueFull:
		return Err(ErrEventQueueFull)
	case orderbook.ErrOrderNotFound:
		return Err(ErrOrderNotFound)
	case slab.ErrSlabOutOfSpace:
		return Err(ErrSlabOutOfSpace)
	case eventqueue.ErrSeqExhausted:
		// The sequence counter is exhausted: no further order can ever
		// be posted, which in effect means the slab side of the market
		// has no room left either. There is no dedicated spec code for
		// this (it documents it only as "fails closed"), so it reports
		// under the same capacity-exhaustion code as SlabOutOfSpace.
		return Err(ErrSlabOutOfSpace)
	default:
		return err
	}
}

// NewOrderOp runs spec §4.5.1. now is a host-supplied logical timestamp.
func NewOrderOp(h BookHandles, p orderbook.NewOrderParams, now int64) (eventqueue.OrderSummary, error) {
	if err := validate(h); err != nil {
		return eventqueue.OrderSummary{}, err
	}
	if err := validateAuthority(h); err != nil {
		return eventqueue.OrderSummary{}, err
	}
	if p.MaxBaseQty == 0 {
		return eventqueue.OrderSummary{}, Err(ErrInvalidBaseQuantity)
	}

	// callback_id_len is market-wide configuration, not a per-call
	// choice: always take it from the market record rather than trust
	// whatever the caller put in params.
	p.CallbackIDLen = int(h.Market.State.CallbackIDLen)

	bidsSnap := h.Bids.Tree.Snapshot()
	asksSnap := h.Asks.Tree.Snapshot()
	queueSnap := h.EventQueue.Queue.Snapshot()

	book := orderbook.Book{
		Bids:             h.Bids.Tree,
		Asks:             h.Asks.Tree,
		MinBaseOrderSize: h.Market.State.MinBaseOrderSize,
	}
	summary, err := book.NewOrder(h.EventQueue.Queue, p, now)
	if err != nil {
		// Every error path must leave the call looking like it never
		// happened (spec §5/§7) — including WouldSelfTrade discovered
		// after several makers were already matched earlier in the loop.
		h.Bids.Tree.Restore(bidsSnap)
		h.Asks.Tree.Restore(asksSnap)
		h.EventQueue.Queue.Restore(queueSnap)
		return eventqueue.OrderSummary{}, mapOrderBookErr(err)
	}
	return summary, nil
}

// CancelOrderOp runs spec §4.5.2. The authority must equal
// market.caller_authority (spec §6.1).
func CancelOrderOp(h BookHandles, id orderid.ID) (eventqueue.OrderSummary, error) {
	if err := validate(h); err != nil {
		return eventqueue.OrderSummary{}, err
	}
	if err := validateAuthority(h); err != nil {
		return eventqueue.OrderSummary{}, err
	}
	book := orderbook.Book{Bids: h.Bids.Tree, Asks: h.Asks.Tree, MinBaseOrderSize: h.Market.State.MinBaseOrderSize}
	summary, err := book.CancelOrder(id)
	if err != nil {
		return eventqueue.OrderSummary{}, mapOrderBookErr(err)
	}
	return summary, nil
}

// ConsumeEvents pops up to n events from the head (spec §4.5.3). n == 0
// is rejected with NoOperations — a supplement from original_source/'s
// full error list (§4 of SPEC_FULL.md).
func ConsumeEvents(h BookHandles, n uint64) ([]eventqueue.Event, error) {
	if err := validate(h); err != nil {
		return nil, err
	}
	if err := validateAuthority(h); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, Err(ErrNoOperations)
	}
	return h.EventQueue.Queue.PopN(int(n)), nil
}

// CloseMarket runs spec §4.5.4: refuses unless both trees and the event
// queue are empty, then clears the market to Uninitialized. Per
// SPEC_FULL.md §4's supplement from original_source/'s close_market
// processor, the whole record is zeroed, not just the tag.
func CloseMarket(h BookHandles) error {
	if err := validate(h); err != nil {
		return err
	}
	if err := validateAuthority(h); err != nil {
		return err
	}
	if h.Bids.Tree.Len() != 0 || h.Asks.Tree.Len() != 0 || h.EventQueue.Queue.Len() != 0 {
		return Err(ErrMarketStillActive)
	}
	h.Market.State = MarketState{}
	h.Market.Tag = TagUninitialized
	h.Bids.Tag = TagUninitialized
	h.Asks.Tag = TagUninitialized
	h.EventQueue.Tag = TagUninitialized
	return nil
}
