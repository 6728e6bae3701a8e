package clearing

import (
	"testing"

	"github.com/clobcore/matching-engine/internal/eventqueue"
	"github.com/clobcore/matching-engine/internal/side"
	"github.com/clobcore/matching-engine/internal/slab"
)

const unit = uint64(1) << 32

func cbInfo(account string) slab.CallbackInfo {
	var cb slab.CallbackInfo
	copy(cb[:], account)
	return cb
}

func fillEvent(takerSide side.Side, maker, taker string, price, baseSize, quoteSize uint64) eventqueue.FillEvent {
	return eventqueue.FillEvent{
		TakerSide:         takerSide,
		Price:             price,
		BaseSize:          baseSize,
		QuoteSize:         quoteSize,
		MakerCallbackInfo: cbInfo(maker),
		TakerCallbackInfo: cbInfo(taker),
	}
}

func TestRecordTradeDerivesBuyerSellerFromTakerSide(t *testing.T) {
	ch := NewClearingHouse()

	// Taker buys (Bid) against a resting ask: taker is buyer, maker is seller.
	trade := ch.RecordTrade("BTC-USD", fillEvent(side.Bid, "maker1", "taker1", 100*unit, 5, 500), 1, 6)
	if trade.BuyerAccount != "taker1" || trade.SellerAccount != "maker1" {
		t.Fatalf("trade = %+v, want buyer=taker1 seller=maker1", trade)
	}
	if trade.Status != TradeStatusExecuted {
		t.Fatalf("status = %v, want Executed", trade.Status)
	}

	// Taker sells (Ask) against a resting bid: maker is buyer, taker is seller.
	trade2 := ch.RecordTrade("BTC-USD", fillEvent(side.Ask, "maker2", "taker2", 100*unit, 5, 500), 2, 6)
	if trade2.BuyerAccount != "maker2" || trade2.SellerAccount != "taker2" {
		t.Fatalf("trade2 = %+v, want buyer=maker2 seller=taker2", trade2)
	}
}

func TestCalculateNettingReducesMultipleTrades(t *testing.T) {
	ch := NewClearingHouse()
	ch.RecordTrade("BTC-USD", fillEvent(side.Bid, "bob", "alice", 100*unit, 100, 10000), 1, 6)
	ch.RecordTrade("BTC-USD", fillEvent(side.Ask, "bob", "alice", 101*unit, 60, 6060), 2, 6)

	net := ch.CalculateNetting()
	alicePos := net["alice"]["BTC-USD"]
	if alicePos.NetBaseQty != 40 {
		t.Fatalf("alice net base qty = %d, want 40 (100 bought - 60 sold)", alicePos.NetBaseQty)
	}
	bobPos := net["bob"]["BTC-USD"]
	if bobPos.NetBaseQty != -40 {
		t.Fatalf("bob net base qty = %d, want -40", bobPos.NetBaseQty)
	}
}

func TestSettleMovesHoldingsAndQuoteAtomically(t *testing.T) {
	ch := NewClearingHouse()
	alice := ch.GetOrCreateAccount("alice", 100000)
	bob := ch.GetOrCreateAccount("bob", 100000)
	bob.Holdings["BTC-USD"] = 100 // bob is the seller, must hold shares to deliver

	ch.RecordTrade("BTC-USD", fillEvent(side.Bid, "bob", "alice", 100*unit, 100, 10000), 1, 5)

	instructions := ch.GenerateSettlementInstructions()
	if len(instructions) != 1 {
		t.Fatalf("got %d instructions, want 1", len(instructions))
	}
	if instructions[0].ID == "" {
		t.Fatalf("expected a non-empty settlement instruction id")
	}

	settled, err := ch.Settle()
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if len(settled) != 1 {
		t.Fatalf("settled %d instructions, want 1", len(settled))
	}

	if alice.Holdings["BTC-USD"] != 100 {
		t.Fatalf("alice holdings = %d, want 100", alice.Holdings["BTC-USD"])
	}
	if bob.Holdings["BTC-USD"] != 0 {
		t.Fatalf("bob holdings = %d, want 0", bob.Holdings["BTC-USD"])
	}
	if alice.Quote != 100000-10000 {
		t.Fatalf("alice quote = %d, want %d", alice.Quote, 100000-10000)
	}
	if bob.Quote != 100000+10000 {
		t.Fatalf("bob quote = %d, want %d", bob.Quote, 100000+10000)
	}
}

func TestSettleFailsOnInsufficientHoldings(t *testing.T) {
	ch := NewClearingHouse()
	ch.GetOrCreateAccount("alice", 100000)
	ch.GetOrCreateAccount("bob", 100000) // bob never receives shares to deliver

	ch.RecordTrade("BTC-USD", fillEvent(side.Bid, "bob", "alice", 100*unit, 100, 10000), 1, 5)
	ch.GenerateSettlementInstructions()

	settled, err := ch.Settle()
	if err == nil {
		t.Fatalf("expected a settlement error for insufficient holdings")
	}
	if len(settled) != 0 {
		t.Fatalf("settled %d instructions, want 0", len(settled))
	}

	stats := ch.GetSettlementStats()
	if stats["failed"] != 1 {
		t.Fatalf("stats = %+v, want failed=1", stats)
	}
}

func TestGetPendingTradesExcludesSettled(t *testing.T) {
	ch := NewClearingHouse()
	alice := ch.GetOrCreateAccount("alice", 100000)
	_ = alice
	bob := ch.GetOrCreateAccount("bob", 100000)
	bob.Holdings["BTC-USD"] = 100

	ch.RecordTrade("BTC-USD", fillEvent(side.Bid, "bob", "alice", 100*unit, 100, 10000), 1, 5)
	if len(ch.GetPendingTrades()) != 1 {
		t.Fatalf("expected 1 pending trade before settlement")
	}

	ch.GenerateSettlementInstructions()
	if _, err := ch.Settle(); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if len(ch.GetPendingTrades()) != 0 {
		t.Fatalf("expected 0 pending trades after settlement")
	}
}
