package fp32

import (
	"math"
	"testing"

	"github.com/clobcore/matching-engine/internal/side"
)

func TestMulDivRoundTrip(t *testing.T) {
	price := uint64(100) << fracBits // 100.0 in FP32
	base := uint64(4)
	quote := Mul(base, price)
	if quote != 400 {
		t.Fatalf("Mul(4, 100.0) = %d, want %d", quote, uint64(400))
	}
	gotBase := Div(quote, price)
	if gotBase != base {
		t.Fatalf("Div(Mul(base,price),price) = %d, want %d", gotBase, base)
	}
}

func TestDivByZero(t *testing.T) {
	if got := Div(100, 0); got != 0 {
		t.Fatalf("Div(_, 0) = %d, want 0", got)
	}
}

func TestMulSaturates(t *testing.T) {
	got := Mul(math.MaxUint64, math.MaxUint64)
	if got != math.MaxUint64 {
		t.Fatalf("Mul overflow did not saturate: got %d", got)
	}
}

func TestRoundPriceBidRoundsDown(t *testing.T) {
	got := RoundPrice(10, 97, side.Bid)
	if got != 90 {
		t.Fatalf("RoundPrice(10, 97, Bid) = %d, want 90", got)
	}
}

func TestRoundPriceAskRoundsUp(t *testing.T) {
	got := RoundPrice(10, 91, side.Ask)
	if got != 100 {
		t.Fatalf("RoundPrice(10, 91, Ask) = %d, want 100", got)
	}
}

func TestRoundPriceExactMultipleUnchanged(t *testing.T) {
	if got := RoundPrice(5, 100, side.Bid); got != 100 {
		t.Fatalf("RoundPrice(5, 100, Bid) = %d, want 100", got)
	}
	if got := RoundPrice(5, 100, side.Ask); got != 100 {
		t.Fatalf("RoundPrice(5, 100, Ask) = %d, want 100", got)
	}
}

func TestRoundPriceZeroTickIsNoOp(t *testing.T) {
	if got := RoundPrice(0, 12345, side.Bid); got != 12345 {
		t.Fatalf("RoundPrice(0, ...) = %d, want unchanged", got)
	}
}

func TestFormatPriceRendersWholeAndFraction(t *testing.T) {
	price := uint64(150)<<fracBits | uint64(0.25*(1<<fracBits))
	got := FormatPrice(price)
	want := "150.250000"
	if got != want {
		t.Fatalf("FormatPrice(150.25) = %q, want %q", got, want)
	}
}

func TestParsePriceRoundTripsThroughFormatPrice(t *testing.T) {
	price, err := ParsePrice("150.25")
	if err != nil {
		t.Fatalf("ParsePrice: %v", err)
	}
	if got := FormatPrice(price); got != "150.250000" {
		t.Fatalf("FormatPrice(ParsePrice(150.25)) = %q", got)
	}
}

func TestParsePriceRejectsInvalidInput(t *testing.T) {
	if _, err := ParsePrice("not-a-number"); err == nil {
		t.Fatalf("expected error for invalid price string")
	}
}

func TestParsePriceRejectsNegative(t *testing.T) {
	if _, err := ParsePrice("-1.00"); err == nil {
		t.Fatalf("expected error for negative price")
	}
}
