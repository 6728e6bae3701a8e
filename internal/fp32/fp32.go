// Package fp32 implements 32.32 fixed-point price arithmetic.
//
// A price is a plain uint64: the upper 32 bits are the integer part, the
// lower 32 bits are the fraction. Multiplying or dividing a base-unit
// quantity by a price therefore needs a 128-bit-wide intermediate value —
// a naive uint64*uint64 overflows well before either operand gets large,
// which is why every operation here routes through math/bits.Mul64/Div64
// instead of plain * and /.
package fp32

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"

	"github.com/clobcore/matching-engine/internal/side"
)

// FP32 is a 32.32 fixed-point number packed into a uint64.
type FP32 = uint64

const fracBits = 32

// Mul computes (a * p) >> 32 using a 128-bit intermediate product.
// Saturates to math.MaxUint64 if the true result does not fit in 64 bits.
func Mul(a uint64, p FP32) uint64 {
	hi, lo := bits.Mul64(a, p)
	// result = (hi:lo) >> 32
	result := (hi << (64 - fracBits)) | (lo >> fracBits)
	if hi>>fracBits != 0 {
		// the shifted-out high bits are non-zero: the true value needs
		// more than 64 bits.
		return math.MaxUint64
	}
	return result
}

// Div computes (a << 32) / p using a 128-bit intermediate dividend.
// Returns 0 when p is 0 (no matching is possible at a zero price; callers
// posting a resting order must reject limit_price == 0 separately).
func Div(a uint64, p FP32) uint64 {
	if p == 0 {
		return 0
	}
	hi := a >> (64 - fracBits)
	lo := a << fracBits
	if hi >= p {
		// quotient would overflow 64 bits.
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, p)
	return q
}

// RoundPrice snaps raw to a multiple of tick: Bid rounds down, Ask rounds
// up, so a rounded bid never crosses a tick above and a rounded ask never
// crosses a tick below.
func RoundPrice(tick, raw uint64, s side.Side) uint64 {
	if tick == 0 {
		return raw
	}
	switch s {
	case side.Bid:
		return (raw / tick) * tick
	default:
		return ((raw + tick - 1) / tick) * tick
	}
}

// FormatPrice renders a 32.32 fixed-point price as a decimal string with
// six fractional digits, for display in CLI output and logs.
func FormatPrice(p FP32) string {
	whole := p >> fracBits
	frac := (p & (uint64(1)<<fracBits - 1)) * 1_000_000 >> fracBits
	return fmt.Sprintf("%d.%06d", whole, frac)
}

// ParsePrice parses a decimal string (e.g. "150.25") into a 32.32
// fixed-point price. Returns an error if s isn't a valid decimal number.
func ParsePrice(s string) (FP32, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	if f < 0 {
		return 0, fmt.Errorf("parse price %q: negative price", s)
	}
	return FP32(f * (1 << fracBits)), nil
}
