package quotefeed

import (
	"testing"

	"github.com/clobcore/matching-engine/internal/eventqueue"
	"github.com/clobcore/matching-engine/internal/orderid"
	"github.com/clobcore/matching-engine/internal/side"
)

const unit = uint64(1) << 32

func TestL1ReflectsBestBidAndAsk(t *testing.T) {
	v := NewBookView("BTC-USD")
	bid := orderid.Gen(100*unit, side.Bid, 1)
	ask := orderid.Gen(101*unit, side.Ask, 2)
	v.RecordPost(bid, 10)
	v.RecordPost(ask, 5)

	q := v.L1(1)
	if q.BidPrice != 100*unit || q.BidSize != 10 {
		t.Fatalf("bid = %d/%d, want %d/10", q.BidPrice, q.BidSize, 100*unit)
	}
	if q.AskPrice != 101*unit || q.AskSize != 5 {
		t.Fatalf("ask = %d/%d, want %d/5", q.AskPrice, q.AskSize, 101*unit)
	}
}

func TestApplyFillDecrementsRestingMakerAndSetsLast(t *testing.T) {
	v := NewBookView("BTC-USD")
	maker := orderid.Gen(100*unit, side.Bid, 1)
	v.RecordPost(maker, 10)

	v.ApplyEvent(eventqueue.Event{Tag: eventqueue.TagFill, Fill: eventqueue.FillEvent{
		MakerOrderID: maker, Price: 100 * unit, BaseSize: 4,
	}})

	q := v.L1(2)
	if q.BidSize != 6 {
		t.Fatalf("bid size after partial fill = %d, want 6", q.BidSize)
	}
	if q.LastPrice != 100*unit || q.LastSize != 4 {
		t.Fatalf("last trade = %d/%d, want %d/4", q.LastPrice, q.LastSize, 100*unit)
	}
}

func TestApplyFillFullyDrainsMaker(t *testing.T) {
	v := NewBookView("BTC-USD")
	maker := orderid.Gen(100*unit, side.Bid, 1)
	v.RecordPost(maker, 10)

	v.ApplyEvent(eventqueue.Event{Tag: eventqueue.TagFill, Fill: eventqueue.FillEvent{
		MakerOrderID: maker, Price: 100 * unit, BaseSize: 10,
	}})

	q := v.L1(2)
	if q.BidPrice != 0 || q.BidSize != 0 {
		t.Fatalf("expected empty bid side after full drain, got %+v", q)
	}
}

func TestApplyOutEventRemovesOrDecrements(t *testing.T) {
	v := NewBookView("BTC-USD")
	evicted := orderid.Gen(90*unit, side.Bid, 1)
	cancelProvide := orderid.Gen(95*unit, side.Bid, 2)
	v.RecordPost(evicted, 5)
	v.RecordPost(cancelProvide, 8)

	v.ApplyEvent(eventqueue.Event{Tag: eventqueue.TagOut, Out: eventqueue.OutEvent{OrderID: evicted, Delete: true}})
	v.ApplyEvent(eventqueue.Event{Tag: eventqueue.TagOut, Out: eventqueue.OutEvent{OrderID: cancelProvide, Delete: false, BaseSize: 3}})

	depth := v.L2(10, 3)
	if len(depth.Bids) != 1 {
		t.Fatalf("expected one remaining bid level, got %+v", depth.Bids)
	}
	if depth.Bids[0].Price != 95*unit || depth.Bids[0].Quantity != 5 {
		t.Fatalf("remaining bid = %+v, want price=%d qty=5", depth.Bids[0], 95*unit)
	}
}

func TestL2AggregatesSamePriceLevelAndRespectsMaxLevels(t *testing.T) {
	v := NewBookView("BTC-USD")
	v.RecordPost(orderid.Gen(100*unit, side.Bid, 1), 5)
	v.RecordPost(orderid.Gen(100*unit, side.Bid, 2), 7)
	v.RecordPost(orderid.Gen(99*unit, side.Bid, 3), 1)

	depth := v.L2(1, 0)
	if len(depth.Bids) != 1 {
		t.Fatalf("expected maxLevels=1 to cap depth, got %d levels", len(depth.Bids))
	}
	if depth.Bids[0].Price != 100*unit || depth.Bids[0].Quantity != 12 || depth.Bids[0].Count != 2 {
		t.Fatalf("top level = %+v, want price=%d qty=12 count=2", depth.Bids[0], 100*unit)
	}
}

func TestPublisherNonBlockingDropsOnFullChannel(t *testing.T) {
	p := NewPublisher(1)
	ch := p.SubscribeL1("BTC-USD")

	p.PublishL1(L1Quote{Market: "BTC-USD", LastPrice: 1})
	p.PublishL1(L1Quote{Market: "BTC-USD", LastPrice: 2}) // dropped: channel buffer is full

	got := <-ch
	if got.LastPrice != 1 {
		t.Fatalf("got LastPrice = %d, want 1 (second publish should have been dropped)", got.LastPrice)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra value in channel: %+v", extra)
	default:
	}
}

func TestPublisherAllSubsReceiveEveryMarket(t *testing.T) {
	p := NewPublisher(4)
	all := p.SubscribeAllTrades()

	p.PublishTrade(TradeReport{Market: "BTC-USD"})
	p.PublishTrade(TradeReport{Market: "ETH-USD"})

	first := <-all
	second := <-all
	if first.Market != "BTC-USD" || second.Market != "ETH-USD" {
		t.Fatalf("got %+v, %+v, want BTC-USD then ETH-USD", first, second)
	}
}

func TestPublisherCloseClosesAllChannels(t *testing.T) {
	p := NewPublisher(1)
	ch := p.SubscribeL1("BTC-USD")
	p.Close()

	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
}
