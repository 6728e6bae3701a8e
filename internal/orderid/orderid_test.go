package orderid

import (
	"testing"

	"github.com/clobcore/matching-engine/internal/side"
)

func TestGenRoundTrip(t *testing.T) {
	id := Gen(12345, side.Bid, 7)
	if got := PriceFromKey(id); got != 12345 {
		t.Fatalf("PriceFromKey = %d, want 12345", got)
	}
	if got := SideFromKey(id); got != side.Bid {
		t.Fatalf("SideFromKey = %v, want Bid", got)
	}

	ask := Gen(12345, side.Ask, 7)
	if got := SideFromKey(ask); got != side.Ask {
		t.Fatalf("SideFromKey = %v, want Ask", got)
	}
}

func TestBidLowSeqIsMoreAggressive(t *testing.T) {
	// Same price: for bids the lower sequence number should sort as the
	// larger key, since the tree's Max is the best bid and earlier
	// orders must win ties.
	early := Gen(100, side.Bid, 1)
	late := Gen(100, side.Bid, 2)
	if !late.Less(early) {
		t.Fatalf("expected later-seq bid to sort before earlier-seq bid (early more aggressive)")
	}
}

func TestAskLowSeqIsMoreAggressive(t *testing.T) {
	early := Gen(100, side.Ask, 1)
	late := Gen(100, side.Ask, 2)
	if !early.Less(late) {
		t.Fatalf("expected earlier-seq ask to sort first (min = best ask)")
	}
}

func TestHigherBidPriceMoreAggressive(t *testing.T) {
	low := Gen(100, side.Bid, 1)
	high := Gen(200, side.Bid, 1)
	if !low.Less(high) {
		t.Fatalf("expected higher price bid to have the larger key (Max = best bid)")
	}
}

func TestLowerAskPriceMoreAggressive(t *testing.T) {
	low := Gen(100, side.Ask, 1)
	high := Gen(200, side.Ask, 1)
	if !low.Less(high) {
		t.Fatalf("expected lower price ask to have the smaller key (Min = best ask)")
	}
}
