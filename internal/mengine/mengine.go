// Package mengine implements a lock-free, single-writer sequencer that
// serializes concurrent callers down to one goroutine calling into
// internal/market.
//
// spec.md §5 requires every create_market/new_order/cancel_order/
// consume_events/close_market call to run atomically against the shared
// buffers — "as if single-threaded" — without the core itself owning any
// synchronization primitive. This package is the host's answer: a
// pre-allocated ring buffer plus an atomic CAS sequencer let many
// goroutines (HTTP handlers, in this repo) claim slots concurrently,
// while a single consumer goroutine drains them in order and is the only
// thing that ever touches a market.BookHandles.
package mengine

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/clobcore/matching-engine/internal/eventqueue"
	"github.com/clobcore/matching-engine/internal/market"
	"github.com/clobcore/matching-engine/internal/orderbook"
	"github.com/clobcore/matching-engine/internal/orderid"
)

// RequestType identifies which control-surface op a slot carries.
type RequestType uint8

const (
	RequestNewOrder RequestType = iota
	RequestCancelOrder
	RequestConsumeEvents
)

// Request is one call waiting to be serialized onto the market.
type Request struct {
	Type RequestType

	// RequestNewOrder
	NewOrder orderbook.NewOrderParams
	Now      int64

	// RequestCancelOrder
	CancelID orderid.ID

	// RequestConsumeEvents
	ConsumeN uint64
}

// Response carries the result of a processed Request back to its caller.
type Response struct {
	Summary    eventqueue.OrderSummary
	Events     []eventqueue.Event
	RewardPaid uint64
	Err        error
}

// slot is a single ring buffer entry. Cache-aligned to 64 bytes to keep
// producer writes from false-sharing with the consumer's spin-read of
// SequenceNum.
type slot struct {
	SequenceNum uint64
	Request     *Request
	ResponseCh  chan *Response
	_           [40]byte
}

// RingBuffer is a lock-free, multi-producer, single-consumer ring buffer
// of pending control-surface calls.
type RingBuffer struct {
	bufferSize uint64
	indexMask  uint64
	slots      []slot

	cursor         uint64
	consumerCursor uint64
	gatingSequence uint64

	_ [40]byte
}

// Config configures the ring buffer.
type Config struct {
	// BufferSize is the number of slots; must be a power of 2.
	BufferSize uint64
}

// DefaultConfig returns a reasonable default.
func DefaultConfig() Config {
	return Config{BufferSize: 8192}
}

// ErrBufferFull is returned when the ring buffer has no free slot after
// spinning.
var ErrBufferFull = errors.New("mengine: ring buffer is full")

// NewRingBuffer allocates a ring buffer of the configured size.
func NewRingBuffer(cfg Config) *RingBuffer {
	if cfg.BufferSize == 0 || (cfg.BufferSize&(cfg.BufferSize-1)) != 0 {
		panic("mengine: BufferSize must be a power of 2")
	}
	return &RingBuffer{
		bufferSize:     cfg.BufferSize,
		indexMask:      cfg.BufferSize - 1,
		slots:          make([]slot, cfg.BufferSize),
		consumerCursor: 1,
	}
}

// Sequencer coordinates access to the ring buffer using atomic CAS.
type Sequencer struct {
	rb *RingBuffer
}

// NewSequencer creates a sequencer bound to a ring buffer.
func NewSequencer(rb *RingBuffer) *Sequencer {
	return &Sequencer{rb: rb}
}

// Next claims the next sequence number for writing, spinning briefly if
// the buffer is momentarily full.
func (s *Sequencer) Next() (uint64, error) {
	const maxSpins = 10000

	for spins := 0; spins < maxSpins; spins++ {
		current := atomic.LoadUint64(&s.rb.cursor)
		next := current + 1

		gating := atomic.LoadUint64(&s.rb.gatingSequence)
		available := gating + s.rb.bufferSize
		if next > available {
			runtime.Gosched()
			continue
		}
		if atomic.CompareAndSwapUint64(&s.rb.cursor, current, next) {
			return next, nil
		}
	}
	return 0, ErrBufferFull
}

// Publish writes a request into its claimed slot and signals readiness.
func (s *Sequencer) Publish(seq uint64, req *Request, responseCh chan *Response) {
	idx := seq & s.rb.indexMask
	sl := &s.rb.slots[idx]
	sl.Request = req
	sl.ResponseCh = responseCh
	atomic.StoreUint64(&sl.SequenceNum, seq)
}

// Processor is the single goroutine allowed to call into market.
type Processor struct {
	rb      *RingBuffer
	handles market.BookHandles
	log     *zap.Logger

	running      atomic.Bool
	shutdownCh   chan struct{}
	shutdownDone chan struct{}
}

// NewProcessor creates a processor bound to a ring buffer and the book
// handles it owns exclusively for the lifetime of the engine.
func NewProcessor(rb *RingBuffer, handles market.BookHandles, log *zap.Logger) *Processor {
	return &Processor{
		rb:           rb,
		handles:      handles,
		log:          log,
		shutdownCh:   make(chan struct{}),
		shutdownDone: make(chan struct{}),
	}
}

// Start begins draining the ring buffer in a new goroutine.
func (p *Processor) Start() {
	p.running.Store(true)
	go p.processLoop()
}

func (p *Processor) processLoop() {
	defer close(p.shutdownDone)

	next := uint64(1)
	for p.running.Load() {
		idx := next & p.rb.indexMask
		sl := &p.rb.slots[idx]

		for {
			if atomic.LoadUint64(&sl.SequenceNum) == next {
				break
			}
			select {
			case <-p.shutdownCh:
				return
			default:
				runtime.Gosched()
			}
		}

		p.processRequest(sl)
		atomic.StoreUint64(&p.rb.gatingSequence, next)
		next++
	}
}

func (p *Processor) processRequest(sl *slot) {
	req := sl.Request
	responseCh := sl.ResponseCh

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("processor panic", zap.Any("recovered", r))
			select {
			case responseCh <- &Response{Err: fmt.Errorf("internal error: %v", r)}:
			default:
			}
		}
	}()

	switch req.Type {
	case RequestNewOrder:
		p.processNewOrder(req, responseCh)
	case RequestCancelOrder:
		p.processCancelOrder(req, responseCh)
	case RequestConsumeEvents:
		p.processConsumeEvents(req, responseCh)
	default:
		respond(responseCh, &Response{Err: fmt.Errorf("mengine: unknown request type %d", req.Type)})
	}
}

func (p *Processor) processNewOrder(req *Request, responseCh chan *Response) {
	summary, err := market.NewOrderOp(p.handles, req.NewOrder, req.Now)
	if err != nil {
		p.log.Warn("new_order rejected", zap.Error(err), zap.Uint64("max_base_qty", req.NewOrder.MaxBaseQty))
	} else {
		p.log.Debug("new_order accepted", zap.Bool("posted", summary.Posted), zap.Uint64("total_base_qty", summary.TotalBaseQty))
	}
	respond(responseCh, &Response{Summary: summary, Err: err})
}

func (p *Processor) processCancelOrder(req *Request, responseCh chan *Response) {
	summary, err := market.CancelOrderOp(p.handles, req.CancelID)
	if err != nil {
		p.log.Warn("cancel_order rejected", zap.Error(err))
	}
	respond(responseCh, &Response{Summary: summary, Err: err})
}

func (p *Processor) processConsumeEvents(req *Request, responseCh chan *Response) {
	events, err := market.ConsumeEvents(p.handles, req.ConsumeN)
	if err != nil {
		respond(responseCh, &Response{Err: err})
		return
	}
	reward := p.payCranker(uint64(len(events)))
	p.log.Debug("consume_events", zap.Int("count", len(events)), zap.Uint64("reward_paid", reward))
	respond(responseCh, &Response{Events: events, RewardPaid: reward})
}

// payCranker pays the caller of consume_events out of the market's
// fee_budget, proportional to the number of events it just drained.
//
// original_source/state.rs treats fee_budget as a pool and cranker_reward
// as a flat per-event rate; a crank that drains more events earns more,
// capped at whatever remains in the pool. Any amount the pool can't cover
// this call is simply not paid — it is never lost, since fee_budget isn't
// reduced by more than what's actually paid out, so the undistributed
// remainder carries forward to the next consume_events call.
func (p *Processor) payCranker(n uint64) uint64 {
	st := &p.handles.Market.State
	if n == 0 || st.CrankerReward == 0 || st.FeeBudget == 0 {
		return 0
	}
	amount := n * st.CrankerReward
	if amount > st.FeeBudget {
		amount = st.FeeBudget
	}
	st.FeeBudget -= amount
	return amount
}

// Shutdown stops the processor after it finishes any slot already claimed.
func (p *Processor) Shutdown() {
	p.running.Store(false)
	close(p.shutdownCh)
	<-p.shutdownDone
}

func respond(ch chan *Response, resp *Response) {
	select {
	case ch <- resp:
	default:
	}
}

// Engine bundles a ring buffer, sequencer and processor behind a
// synchronous call API, so a caller does not need to manage sequence
// claiming and response channels itself.
type Engine struct {
	rb        *RingBuffer
	sequencer *Sequencer
	processor *Processor
	timeout   time.Duration
}

// NewEngine wires a ring buffer, sequencer and processor together and
// starts the processor goroutine.
func NewEngine(cfg Config, handles market.BookHandles, log *zap.Logger) *Engine {
	rb := NewRingBuffer(cfg)
	seq := NewSequencer(rb)
	proc := NewProcessor(rb, handles, log)
	proc.Start()
	return &Engine{rb: rb, sequencer: seq, processor: proc, timeout: 5 * time.Second}
}

// submit claims a slot, publishes the request, and blocks for the
// response (or the engine's timeout).
func (e *Engine) submit(req *Request) (*Response, error) {
	responseCh := make(chan *Response, 1)
	seq, err := e.sequencer.Next()
	if err != nil {
		return nil, err
	}
	e.sequencer.Publish(seq, req, responseCh)

	select {
	case resp := <-responseCh:
		return resp, nil
	case <-time.After(e.timeout):
		return nil, errors.New("mengine: timed out waiting for processor")
	}
}

// SubmitNewOrder serializes a new_order call through the processor.
func (e *Engine) SubmitNewOrder(p orderbook.NewOrderParams, now int64) (eventqueue.OrderSummary, error) {
	resp, err := e.submit(&Request{Type: RequestNewOrder, NewOrder: p, Now: now})
	if err != nil {
		return eventqueue.OrderSummary{}, err
	}
	return resp.Summary, resp.Err
}

// SubmitCancelOrder serializes a cancel_order call through the processor.
func (e *Engine) SubmitCancelOrder(id orderid.ID) (eventqueue.OrderSummary, error) {
	resp, err := e.submit(&Request{Type: RequestCancelOrder, CancelID: id})
	if err != nil {
		return eventqueue.OrderSummary{}, err
	}
	return resp.Summary, resp.Err
}

// SubmitConsumeEvents serializes a consume_events call through the
// processor and returns the drained events plus the cranker reward paid.
func (e *Engine) SubmitConsumeEvents(n uint64) ([]eventqueue.Event, uint64, error) {
	resp, err := e.submit(&Request{Type: RequestConsumeEvents, ConsumeN: n})
	if err != nil {
		return nil, 0, err
	}
	return resp.Events, resp.RewardPaid, resp.Err
}

// Shutdown stops the processor goroutine.
func (e *Engine) Shutdown() {
	e.processor.Shutdown()
}
