// Package eventqueue implements the fixed-capacity ring buffer of match
// events a market emits, plus the single "register" slot that always
// holds a summary of the most recently processed order.
//
// This is deliberately simpler than the teacher's internal/disruptor ring
// buffer: there is exactly one producer (the single-threaded market
// control surface) and the "consumer" is whatever the host calls
// ConsumeEvents with, so there is no CAS sequencer here — that concurrency
// problem is solved one layer up, in internal/mengine, which serializes
// calls into the market in the first place.
package eventqueue

import (
	"errors"

	"github.com/clobcore/matching-engine/internal/orderid"
	"github.com/clobcore/matching-engine/internal/side"
	"github.com/clobcore/matching-engine/internal/slab"
)

// ErrQueueFull is returned when pushing an event would overwrite an
// event the host has not yet consumed.
var ErrQueueFull = errors.New("eventqueue: full")

// Tag discriminates the two event variants a market can emit.
type Tag uint8

const (
	// TagFill records one maker/taker match.
	TagFill Tag = iota
	// TagOut records a resting order leaving the book (drained, evicted,
	// or cancelled in whole or part by a CancelProvide self-trade).
	TagOut
)

// FillEvent records a single match between a resting maker and the
// incoming taker.
type FillEvent struct {
	TakerSide         side.Side
	MakerOrderID      orderid.ID
	Price             uint64 // FP32, the maker's price — the trade prints at the resting order's price
	BaseSize          uint64
	QuoteSize         uint64
	MakerCallbackInfo slab.CallbackInfo
	TakerCallbackInfo slab.CallbackInfo
}

// OutEvent records a resting order leaving the book: a full drain after
// a fill, a self-trade CancelProvide decrement, or an eviction made to
// free a slab slot for a new post.
type OutEvent struct {
	OrderID      orderid.ID
	Side         side.Side
	BaseSize     uint64 // quantity removed (the cancelled quantity, for a CancelProvide)
	Delete       bool   // true iff the order left the tree entirely
	CallbackInfo slab.CallbackInfo
}

// Event is a tagged union of FillEvent and OutEvent, carrying the
// sequence number and logical timestamp assigned when it was pushed.
type Event struct {
	Tag         Tag
	SequenceNum uint64
	Timestamp   int64
	Fill        FillEvent
	Out         OutEvent
}

// OrderSummary is the contents of the single register slot: a synopsis
// of the most recent new_order call, for callers that want the outcome
// without draining the event queue. Mirrors spec §3.1's OrderSummary.
type OrderSummary struct {
	PostedOrderID      orderid.ID
	Posted             bool // false ⇒ PostedOrderID is meaningless (no post happened)
	TotalBaseQty       uint64
	TotalQuoteQty      uint64
	TotalBaseQtyPosted uint64
}

// Queue is a fixed-capacity ring FIFO of Event plus one OrderSummary
// register. Pushing past capacity returns ErrQueueFull rather than
// silently overwriting the oldest unread event — callers must drain
// before they can keep posting.
type Queue struct {
	buf         []Event
	head        int
	count       int
	seq         uint64
	register    OrderSummary
	hasRegister bool
}

// NewQueue allocates a Queue that can hold up to capacity unread events.
func NewQueue(capacity int) *Queue {
	return &Queue{buf: make([]Event, capacity)}
}

// Capacity returns the maximum number of unread events the queue holds.
func (q *Queue) Capacity() int { return len(q.buf) }

// Len returns the number of unread events.
func (q *Queue) Len() int { return q.count }

// Full reports whether the queue has no room for another event.
func (q *Queue) Full() bool { return q.count == len(q.buf) }

func (q *Queue) push(e Event, now int64) error {
	if q.Full() {
		return ErrQueueFull
	}
	e.SequenceNum = q.seq
	e.Timestamp = now
	q.seq++
	tail := (q.head + q.count) % len(q.buf)
	q.buf[tail] = e
	q.count++
	return nil
}

// PushFill enqueues a fill event, assigning it the next sequence number.
func (q *Queue) PushFill(f FillEvent, now int64) error {
	return q.push(Event{Tag: TagFill, Fill: f}, now)
}

// PushOut enqueues an out event, assigning it the next sequence number.
func (q *Queue) PushOut(o OutEvent, now int64) error {
	return q.push(Event{Tag: TagOut, Out: o}, now)
}

// PopFront removes and returns the oldest unread event.
func (q *Queue) PopFront() (Event, bool) {
	if q.count == 0 {
		return Event{}, false
	}
	e := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return e, true
}

// PopN removes and returns up to n oldest unread events, fewer if the
// queue has fewer than n.
func (q *Queue) PopN(n int) []Event {
	if n > q.count {
		n = q.count
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		e, _ := q.PopFront()
		out = append(out, e)
	}
	return out
}

// PeekN returns up to n oldest unread events without removing them, for
// a host that wants to read before deciding how many to officially
// consume.
func (q *Queue) PeekN(n int) []Event {
	if n > q.count {
		n = q.count
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, q.buf[(q.head+i)%len(q.buf)])
	}
	return out
}

// WriteRegister overwrites the single OrderSummary register. Each
// new_order call writes exactly one summary here, so the previous
// register is always discarded, never queued.
func (q *Queue) WriteRegister(s OrderSummary) {
	q.register = s
	q.hasRegister = true
}

// ReadRegister returns the most recently written OrderSummary, if any.
func (q *Queue) ReadRegister() (OrderSummary, bool) {
	return q.register, q.hasRegister
}

// NextSequence returns the sequence number the next pushed event will
// receive, without consuming it.
func (q *Queue) NextSequence() uint64 { return q.seq }

// ErrSeqExhausted is returned by GenOrderID once seq has reached
// orderid.MaxSeq — the engine fails closed rather than wrap and corrupt
// price-time priority.
var ErrSeqExhausted = errors.New("eventqueue: order sequence exhausted")

// GenOrderID increments the queue's sequence counter and composes an
// order key from it, per spec §4.4: the event queue's seq_num doubles as
// the sequence counter for key generation, so order ids and event
// sequence numbers are drawn from the same monotonic counter.
func (q *Queue) GenOrderID(price uint64, s side.Side) (orderid.ID, error) {
	if q.seq >= orderid.MaxSeq {
		return orderid.ID{}, ErrSeqExhausted
	}
	id := orderid.Gen(price, s, q.seq)
	q.seq++
	return id, nil
}

// Snapshot captures the queue's full state for a later Restore, used by
// internal/market to roll back a call that fails partway through after
// already pushing some events.
type Snapshot struct {
	buf         []Event
	head        int
	count       int
	seq         uint64
	register    OrderSummary
	hasRegister bool
}

// Snapshot captures the queue's current state.
func (q *Queue) Snapshot() Snapshot {
	bufCopy := make([]Event, len(q.buf))
	copy(bufCopy, q.buf)
	return Snapshot{
		buf:         bufCopy,
		head:        q.head,
		count:       q.count,
		seq:         q.seq,
		register:    q.register,
		hasRegister: q.hasRegister,
	}
}

// Restore reverts the queue to a previously captured snapshot in place.
func (q *Queue) Restore(s Snapshot) {
	copy(q.buf, s.buf)
	q.head = s.head
	q.count = s.count
	q.seq = s.seq
	q.register = s.register
	q.hasRegister = s.hasRegister
}
