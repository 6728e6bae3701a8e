// Package orderbook implements the matching loop: given an incoming
// order, it walks the opposite side's best price, enforces self-trade
// policy, emits Fill/Out events, and optionally posts the residual.
//
// This is the direct descendant of the teacher's
// internal/matching.Engine.matchOrder and internal/orderbook.OrderBook,
// reworked from an int64-price red-black tree with a per-price linked
// list onto two slab.Tree crit-bit trees keyed by the packed order id,
// with price-time priority folded into the key itself.
package orderbook

import (
	"bytes"
	"errors"

	"github.com/clobcore/matching-engine/internal/eventqueue"
	"github.com/clobcore/matching-engine/internal/fp32"
	"github.com/clobcore/matching-engine/internal/orderid"
	"github.com/clobcore/matching-engine/internal/side"
	"github.com/clobcore/matching-engine/internal/slab"
)

// SelfTradeBehavior selects what happens when an incoming order would
// match against a resting order sharing the same callback-id prefix.
type SelfTradeBehavior uint8

const (
	// DecrementTake matches normally; self-trades are not detected.
	DecrementTake SelfTradeBehavior = iota
	// CancelProvide cancels (all or part of) the resting maker instead of
	// matching against it, and continues the loop without spending a
	// match_limit slot.
	CancelProvide
	// AbortTransaction fails the whole call with ErrWouldSelfTrade.
	AbortTransaction
)

var (
	// ErrInvalidBaseQuantity is returned when max_base_qty is zero.
	ErrInvalidBaseQuantity = errors.New("orderbook: invalid base quantity")
	// ErrWouldSelfTrade is returned under AbortTransaction.
	ErrWouldSelfTrade = errors.New("orderbook: would self-trade")
	// ErrOrderNotFound is returned by CancelOrder for an absent or
	// already-cancelled id.
	ErrOrderNotFound = errors.New("orderbook: order not found")
	// ErrEventQueueFull surfaces eventqueue.ErrQueueFull during matching;
	// the caller (internal/market) must roll back on this error.
	ErrEventQueueFull = eventqueue.ErrQueueFull
)

// NewOrderParams mirrors spec §4.5.1's new_order parameter record.
type NewOrderParams struct {
	MaxBaseQty        uint64
	MaxQuoteQty       uint64
	LimitPrice        uint64 // FP32, already tick-rounded by the caller
	Side              side.Side
	MatchLimit        uint64
	CallbackInfo      slab.CallbackInfo
	CallbackIDLen     int // compared prefix length for self-trade detection
	PostOnly          bool
	PostAllowed       bool
	SelfTradeBehavior SelfTradeBehavior
}

// Book is a pair of crit-bit trees realizing one market's bid and ask
// sides, plus the posting parameters read from the market header.
type Book struct {
	Bids             *slab.Tree
	Asks             *slab.Tree
	MinBaseOrderSize uint64
}

func min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func (b *Book) treeFor(s side.Side) *slab.Tree {
	if s == side.Bid {
		return b.Bids
	}
	return b.Asks
}

// bestOpposite returns the best resting leaf opposing s: the min of the
// ask tree for an incoming bid, the max of the bid tree for an incoming
// ask.
func (b *Book) bestOpposite(s side.Side) (slab.Leaf, slab.Handle, bool) {
	opposite := b.treeFor(s.Opposite())
	if s == side.Bid {
		return opposite.Min()
	}
	return opposite.Max()
}

// NewOrder runs the full matching loop and, if room remains, posts the
// residual. now is a caller-supplied logical timestamp (internal/market
// owns the clock so the core stays free of wall-clock reads).
func (b *Book) NewOrder(q *eventqueue.Queue, p NewOrderParams, now int64) (eventqueue.OrderSummary, error) {
	if p.MaxBaseQty == 0 {
		return eventqueue.OrderSummary{}, ErrInvalidBaseQuantity
	}

	baseRemaining := p.MaxBaseQty
	quoteRemaining := p.MaxQuoteQty
	matchLimit := p.MatchLimit
	opposite := b.treeFor(p.Side.Opposite())
	// Starts true: match_limit == 0 means the loop body below never runs,
	// which counts as "broke because match_limit hit" per spec, not as
	// "never crossed." Only a genuinely empty opposite book clears it.
	crossed := true

loop:
	for matchLimit > 0 {
		maker, makerHandle, ok := b.bestOpposite(p.Side)
		if !ok {
			crossed = false
			break
		}
		tradePrice := orderid.PriceFromKey(maker.Key)
		switch p.Side {
		case side.Bid:
			crossed = p.LimitPrice >= tradePrice
		default:
			crossed = p.LimitPrice <= tradePrice
		}
		if !crossed {
			break
		}
		if p.PostOnly {
			break
		}

		offerSize := maker.BaseQuantity
		baseTradeQty := min(offerSize, min(baseRemaining, fp32.Div(quoteRemaining, tradePrice)))
		if baseTradeQty == 0 {
			break
		}

		selfTrade := p.SelfTradeBehavior != DecrementTake &&
			bytes.Equal(p.CallbackInfo[:p.CallbackIDLen], maker.CallbackInfo[:p.CallbackIDLen])
		if selfTrade {
			switch p.SelfTradeBehavior {
			case CancelProvide:
				cancelQty := min(baseRemaining, maker.BaseQuantity)
				remainder := maker.BaseQuantity - cancelQty
				if err := q.PushOut(eventqueue.OutEvent{
					OrderID:      maker.Key,
					Side:         p.Side.Opposite(),
					BaseSize:     cancelQty,
					Delete:       remainder == 0,
					CallbackInfo: maker.CallbackInfo,
				}, now); err != nil {
					return eventqueue.OrderSummary{}, ErrEventQueueFull
				}
				if remainder == 0 {
					opposite.Remove(maker.Key)
				} else {
					opposite.SetBaseQuantity(makerHandle, remainder)
				}
				continue loop // CancelProvide is transparent: match_limit is not spent
			case AbortTransaction:
				return eventqueue.OrderSummary{}, ErrWouldSelfTrade
			}
		}

		quoteTradeQty := fp32.Mul(baseTradeQty, tradePrice)
		if err := q.PushFill(eventqueue.FillEvent{
			TakerSide:         p.Side,
			MakerOrderID:      maker.Key,
			Price:             tradePrice,
			BaseSize:          baseTradeQty,
			QuoteSize:         quoteTradeQty,
			MakerCallbackInfo: maker.CallbackInfo,
			TakerCallbackInfo: p.CallbackInfo,
		}, now); err != nil {
			return eventqueue.OrderSummary{}, ErrEventQueueFull
		}

		maker.BaseQuantity -= baseTradeQty
		baseRemaining -= baseTradeQty
		quoteRemaining -= quoteTradeQty

		if maker.BaseQuantity <= b.MinBaseOrderSize {
			opposite.Remove(maker.Key)
			if err := q.PushOut(eventqueue.OutEvent{
				OrderID:      maker.Key,
				Side:         p.Side.Opposite(),
				BaseSize:     maker.BaseQuantity,
				Delete:       true,
				CallbackInfo: maker.CallbackInfo,
			}, now); err != nil {
				return eventqueue.OrderSummary{}, ErrEventQueueFull
			}
		} else {
			opposite.SetBaseQuantity(makerHandle, maker.BaseQuantity)
		}
		matchLimit--
	}

	summary, err := b.postResidual(q, p, now, crossed, baseRemaining, quoteRemaining)
	if err != nil {
		return eventqueue.OrderSummary{}, err
	}
	q.WriteRegister(summary)
	return summary, nil
}

func (b *Book) postResidual(q *eventqueue.Queue, p NewOrderParams, now int64, crossed bool, baseRemaining, quoteRemaining uint64) (eventqueue.OrderSummary, error) {
	baseToPost := min(baseRemaining, fp32.Div(quoteRemaining, p.LimitPrice))

	if crossed || !p.PostAllowed || baseToPost <= b.MinBaseOrderSize {
		return eventqueue.OrderSummary{
			TotalBaseQty:  p.MaxBaseQty - baseRemaining,
			TotalQuoteQty: p.MaxQuoteQty - quoteRemaining,
		}, nil
	}

	own := b.treeFor(p.Side)
	id, err := q.GenOrderID(p.LimitPrice, p.Side)
	if err != nil {
		return eventqueue.OrderSummary{}, err
	}

	_, err = own.Insert(id, baseToPost, p.CallbackInfo)
	if errors.Is(err, slab.ErrSlabOutOfSpace) {
		var evicted slab.Leaf
		var evictedOK bool
		if p.Side == side.Bid {
			evicted, evictedOK = own.RemoveMin()
		} else {
			evicted, evictedOK = own.RemoveMax()
		}
		if evictedOK {
			if everr := q.PushOut(eventqueue.OutEvent{
				OrderID:      evicted.Key,
				Side:         p.Side,
				BaseSize:     evicted.BaseQuantity,
				Delete:       true,
				CallbackInfo: evicted.CallbackInfo,
			}, now); everr != nil {
				return eventqueue.OrderSummary{}, ErrEventQueueFull
			}
		}
		_, err = own.Insert(id, baseToPost, p.CallbackInfo)
	}
	if err != nil {
		// Evicting one order and still failing to find room means the
		// book's capacity accounting is broken; nothing left to retry.
		return eventqueue.OrderSummary{}, err
	}

	baseRemaining -= baseToPost
	quoteRemaining -= fp32.Mul(baseToPost, p.LimitPrice)

	return eventqueue.OrderSummary{
		PostedOrderID:      id,
		Posted:             true,
		TotalBaseQty:       p.MaxBaseQty - baseRemaining,
		TotalQuoteQty:      p.MaxQuoteQty - quoteRemaining,
		TotalBaseQtyPosted: baseToPost,
	}, nil
}

// CancelOrder removes a resting order by id. Per spec §4.5.2 this pushes
// no Out event — the cancelling owner learns the outcome from the
// returned summary, while external observers only see out-events from
// matching or eviction.
func (b *Book) CancelOrder(id orderid.ID) (eventqueue.OrderSummary, error) {
	tree := b.treeFor(orderid.SideFromKey(id))
	leaf, ok := tree.Remove(id)
	if !ok {
		return eventqueue.OrderSummary{}, ErrOrderNotFound
	}
	price := orderid.PriceFromKey(id)
	return eventqueue.OrderSummary{
		TotalBaseQty:  leaf.BaseQuantity,
		TotalQuoteQty: fp32.Mul(leaf.BaseQuantity, price),
	}, nil
}
