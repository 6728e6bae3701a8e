// Package orderid packs and unpacks the 128-bit order keys that realize
// price-time priority in the crit-bit trees.
//
// An order key is 128 bits: the upper 64 are the FP32 limit price, the
// lower 64 are a per-market sequence number, inverted for bids. Bit 63 of
// the low word doubles as the side flag, so the side of an order can be
// recovered from its id alone without consulting either tree.
package orderid

import "github.com/clobcore/matching-engine/internal/side"

// SideFlag is bit 63 of the low word. It is set for every bid id because
// ^seq has bit 63 set for any seq < 1<<63, which Gen requires of callers.
const SideFlag uint64 = 1 << 63

// MaxSeq is the first sequence number eventqueue.GenOrderID refuses (Gen
// itself does not check). The engine must fail closed before a real
// deployment could ever reach it.
const MaxSeq uint64 = 1 << 63

// ID is a 128-bit order key: Hi is the FP32 price, Lo is the sequence
// word (possibly inverted for bids).
type ID struct {
	Hi uint64
	Lo uint64
}

// Less reports whether id sorts before other in ascending key order —
// the natural order of the ask tree, and the reverse of the bid tree's
// aggressiveness order.
func (id ID) Less(other ID) bool {
	if id.Hi != other.Hi {
		return id.Hi < other.Hi
	}
	return id.Lo < other.Lo
}

// Gen packs (price, side, seq) into an order key.
func Gen(price uint64, s side.Side, seq uint64) ID {
	lo := seq
	if s == side.Bid {
		lo = ^seq
	}
	return ID{Hi: price, Lo: lo}
}

// SideFromKey recovers the side encoded in id from bit 63 of the low word.
func SideFromKey(id ID) side.Side {
	if id.Lo&SideFlag != 0 {
		return side.Bid
	}
	return side.Ask
}

// PriceFromKey recovers the FP32 limit price encoded in id.
func PriceFromKey(id ID) uint64 {
	return id.Hi
}
