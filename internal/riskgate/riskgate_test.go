package riskgate

import (
	"testing"

	"github.com/clobcore/matching-engine/internal/orderbook"
	"github.com/clobcore/matching-engine/internal/side"
)

const unit = uint64(1) << 32

const mkt MarketID = "BTC-USD"
const alice AccountID = "alice"

func testConfig() Config {
	return Config{
		MaxOrderBaseQty:     100,
		MaxOrderQuoteValue:  10000 * unit,
		MaxPositionBaseQty:  200,
		MaxDailyQuoteVolume: 50000 * unit,
		PriceBandPercent:    0.10,
	}
}

func order(baseQty uint64, price uint64, s side.Side) orderbook.NewOrderParams {
	return orderbook.NewOrderParams{MaxBaseQty: baseQty, LimitPrice: price, Side: s}
}

func TestCheckPassesWithinLimits(t *testing.T) {
	c := NewChecker(testConfig())
	res := c.Check(mkt, alice, order(10, 100*unit, side.Bid))
	if !res.Passed {
		t.Fatalf("expected pass, got %+v", res)
	}
	want := []string{"order_size", "order_value", "price_band", "position_limit", "daily_volume"}
	if len(res.ChecksRun) != len(want) {
		t.Fatalf("ChecksRun = %v, want %v", res.ChecksRun, want)
	}
}

func TestCheckRejectsOversizedOrder(t *testing.T) {
	c := NewChecker(testConfig())
	res := c.Check(mkt, alice, order(101, 1*unit, side.Bid))
	if res.Passed {
		t.Fatalf("expected rejection for oversized order")
	}
	if res.ChecksRun[len(res.ChecksRun)-1] != "order_size" {
		t.Fatalf("expected failure on order_size, got %+v", res)
	}
}

func TestCheckRejectsExcessiveOrderValue(t *testing.T) {
	c := NewChecker(testConfig())
	res := c.Check(mkt, alice, order(100, 200*unit, side.Bid)) // 20000*unit value > 10000*unit max
	if res.Passed {
		t.Fatalf("expected rejection for order value")
	}
	if res.ChecksRun[len(res.ChecksRun)-1] != "order_value" {
		t.Fatalf("expected failure on order_value, got %+v", res)
	}
}

func TestCheckPriceBandAllowsWithoutReference(t *testing.T) {
	c := NewChecker(testConfig())
	res := c.Check(mkt, alice, order(1, 5_000*unit, side.Bid))
	if !res.Passed {
		t.Fatalf("expected pass with no reference price set, got %+v", res)
	}
}

func TestCheckPriceBandRejectsOutsideBand(t *testing.T) {
	c := NewChecker(testConfig())
	c.SetReferencePrice(mkt, 100*unit)
	res := c.Check(mkt, alice, order(1, 150*unit, side.Bid)) // 50% above a 10% band
	if res.Passed {
		t.Fatalf("expected rejection outside price band")
	}
	if res.ChecksRun[len(res.ChecksRun)-1] != "price_band" {
		t.Fatalf("expected failure on price_band, got %+v", res)
	}
}

func TestCheckPositionLimitAccumulatesAcrossFills(t *testing.T) {
	c := NewChecker(testConfig())
	c.UpdatePosition(alice, mkt, side.Bid, 150)

	res := c.Check(mkt, alice, order(60, 1*unit, side.Bid)) // 150+60=210 > 200 max
	if res.Passed {
		t.Fatalf("expected rejection on position limit, got %+v", res)
	}
	if res.ChecksRun[len(res.ChecksRun)-1] != "position_limit" {
		t.Fatalf("expected failure on position_limit, got %+v", res)
	}
}

func TestCheckPositionLimitRespectsOppositeSideNetting(t *testing.T) {
	c := NewChecker(testConfig())
	c.UpdatePosition(alice, mkt, side.Bid, 150)

	// A sell narrows the net position, should not trip the limit.
	res := c.Check(mkt, alice, order(60, 1*unit, side.Ask))
	if !res.Passed {
		t.Fatalf("expected pass, offsetting sell should reduce net position: %+v", res)
	}
}

func TestCheckDailyVolumeAccumulates(t *testing.T) {
	c := NewChecker(testConfig())
	c.UpdateDailyVolume(alice, 45000*unit)

	res := c.Check(mkt, alice, order(10, 1000*unit, side.Bid)) // +10000*unit pushes past 50000*unit
	if res.Passed {
		t.Fatalf("expected rejection on daily volume, got %+v", res)
	}
	if res.ChecksRun[len(res.ChecksRun)-1] != "daily_volume" {
		t.Fatalf("expected failure on daily_volume, got %+v", res)
	}
}

func TestResetDailyVolumeClearsCounters(t *testing.T) {
	c := NewChecker(testConfig())
	c.UpdateDailyVolume(alice, 45000*unit)
	c.ResetDailyVolume()

	if vol := c.GetDailyVolume(alice); vol != 0 {
		t.Fatalf("GetDailyVolume after reset = %d, want 0", vol)
	}
}

func TestMarketLimitsOverrideDefaultPosition(t *testing.T) {
	cfg := testConfig()
	cfg.MarketLimits = map[MarketID]uint64{mkt: 50}
	c := NewChecker(cfg)

	res := c.Check(mkt, alice, order(60, 1*unit, side.Bid))
	if res.Passed {
		t.Fatalf("expected rejection under per-market override limit of 50")
	}
}
