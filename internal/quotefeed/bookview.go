// Package quotefeed rebuilds L1/L2 market data and trade reports purely
// from the event stream a market hands back (Fill/Out events plus the
// OrderSummary register's post notifications), and fans them out to
// subscribers — in-process channels or WebSocket clients.
//
// spec.md's core exposes no L2/L3 query API beyond what a NewOrderOp
// call's OrderSummary and ConsumeEvents' drained events already report;
// deriving depth from that stream, the way a real exchange's market-data
// feed does, is how this package stays on the host side of that
// boundary instead of reaching into internal/slab's trees directly.
package quotefeed

import (
	"sort"
	"sync"

	"github.com/clobcore/matching-engine/internal/eventqueue"
	"github.com/clobcore/matching-engine/internal/orderid"
	"github.com/clobcore/matching-engine/internal/side"
)

// PriceLevel is one aggregated price level in an L2Depth snapshot.
type PriceLevel struct {
	Price    uint64 // FP32
	Quantity uint64
	Count    int
}

// L1Quote is the top-of-book snapshot for a market.
type L1Quote struct {
	Market    string
	BidPrice  uint64
	BidSize   uint64
	AskPrice  uint64
	AskSize   uint64
	LastPrice uint64
	LastSize  uint64
	Timestamp int64
}

// L2Depth is a full depth snapshot for a market.
type L2Depth struct {
	Market    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp int64
}

// TradeReport is a single executed trade, derived from a Fill event.
type TradeReport struct {
	Market        string
	MakerOrderID  orderid.ID
	Price         uint64
	BaseSize      uint64
	AggressorSide side.Side
	Timestamp     int64
}

type restingOrder struct {
	price   uint64
	side    side.Side
	baseQty uint64
}

// BookView reconstructs one market's resting-order state from the event
// stream. It never reads internal/slab's trees — only RecordPost (fed
// from a NewOrderOp's OrderSummary) and ApplyEvent (fed from drained
// Fill/Out events) mutate it.
type BookView struct {
	market string

	mu        sync.Mutex
	resting   map[orderid.ID]restingOrder
	lastPrice uint64
	lastSize  uint64
}

// NewBookView creates an empty view for the named market.
func NewBookView(market string) *BookView {
	return &BookView{market: market, resting: make(map[orderid.ID]restingOrder)}
}

// RecordPost registers a newly posted resting order. Callers invoke this
// whenever a NewOrderOp's OrderSummary reports Posted == true.
func (v *BookView) RecordPost(id orderid.ID, baseQtyPosted uint64) {
	if baseQtyPosted == 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resting[id] = restingOrder{
		price:   orderid.PriceFromKey(id),
		side:    orderid.SideFromKey(id),
		baseQty: baseQtyPosted,
	}
}

// ApplyEvent folds one drained Fill or Out event into the view.
func (v *BookView) ApplyEvent(ev eventqueue.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch ev.Tag {
	case eventqueue.TagFill:
		v.lastPrice = ev.Fill.Price
		v.lastSize = ev.Fill.BaseSize
		if r, ok := v.resting[ev.Fill.MakerOrderID]; ok {
			if ev.Fill.BaseSize >= r.baseQty {
				delete(v.resting, ev.Fill.MakerOrderID)
			} else {
				r.baseQty -= ev.Fill.BaseSize
				v.resting[ev.Fill.MakerOrderID] = r
			}
		}
	case eventqueue.TagOut:
		if ev.Out.Delete {
			delete(v.resting, ev.Out.OrderID)
		} else if r, ok := v.resting[ev.Out.OrderID]; ok {
			if ev.Out.BaseSize >= r.baseQty {
				delete(v.resting, ev.Out.OrderID)
			} else {
				r.baseQty -= ev.Out.BaseSize
				v.resting[ev.Out.OrderID] = r
			}
		}
	}
}

// L1 computes the current top-of-book snapshot.
func (v *BookView) L1(now int64) L1Quote {
	v.mu.Lock()
	defer v.mu.Unlock()

	q := L1Quote{Market: v.market, LastPrice: v.lastPrice, LastSize: v.lastSize, Timestamp: now}
	haveBid, haveAsk := false, false
	for _, r := range v.resting {
		if r.side == side.Bid {
			if !haveBid || r.price > q.BidPrice {
				q.BidPrice, q.BidSize, haveBid = r.price, r.baseQty, true
			} else if r.price == q.BidPrice {
				q.BidSize += r.baseQty
			}
		} else {
			if !haveAsk || r.price < q.AskPrice {
				q.AskPrice, q.AskSize, haveAsk = r.price, r.baseQty, true
			} else if r.price == q.AskPrice {
				q.AskSize += r.baseQty
			}
		}
	}
	return q
}

// L2 computes a depth snapshot with up to maxLevels price levels per side.
func (v *BookView) L2(maxLevels int, now int64) L2Depth {
	v.mu.Lock()
	defer v.mu.Unlock()

	bidLevels := make(map[uint64]PriceLevel)
	askLevels := make(map[uint64]PriceLevel)
	for _, r := range v.resting {
		levels := bidLevels
		if r.side == side.Ask {
			levels = askLevels
		}
		lvl := levels[r.price]
		lvl.Price = r.price
		lvl.Quantity += r.baseQty
		lvl.Count++
		levels[r.price] = lvl
	}

	depth := L2Depth{Market: v.market, Timestamp: now}
	depth.Bids = sortedLevels(bidLevels, true, maxLevels)
	depth.Asks = sortedLevels(askLevels, false, maxLevels)
	return depth
}

func sortedLevels(levels map[uint64]PriceLevel, descending bool, maxLevels int) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, lvl)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	if maxLevels > 0 && len(out) > maxLevels {
		out = out[:maxLevels]
	}
	return out
}
