package quotefeed

import "sync"

// chanSet is a generic fan-out registry of buffered subscriber channels
// for one market-data kind, keyed by market plus a separate "subscribe
// to everything" list. Publisher keeps one chanSet per kind (L1, L2,
// trades) instead of hand-duplicating the same subscribe/publish/close
// bodies for each.
type chanSet[T any] struct {
	mu         sync.RWMutex
	byMarket   map[string][]chan T
	all        []chan T
	bufferSize int
}

func newChanSet[T any](bufferSize int) *chanSet[T] {
	return &chanSet[T]{byMarket: make(map[string][]chan T), bufferSize: bufferSize}
}

func (s *chanSet[T]) subscribe(market string) <-chan T {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan T, s.bufferSize)
	s.byMarket[market] = append(s.byMarket[market], ch)
	return ch
}

func (s *chanSet[T]) subscribeAll() <-chan T {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan T, s.bufferSize)
	s.all = append(s.all, ch)
	return ch
}

// publish fans v out to market's subscribers and the all-markets
// subscribers. Non-blocking: a subscriber whose buffer is full drops
// the update rather than stall the publisher.
func (s *chanSet[T]) publish(market string, v T) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.byMarket[market] {
		select {
		case ch <- v:
		default:
		}
	}
	for _, ch := range s.all {
		select {
		case ch <- v:
		default:
		}
	}
}

func (s *chanSet[T]) unsubscribe(market string, target <-chan T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.byMarket[market]
	for i, ch := range subs {
		if ch == target {
			s.byMarket[market] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (s *chanSet[T]) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, subs := range s.byMarket {
		for _, ch := range subs {
			close(ch)
		}
	}
	for _, ch := range s.all {
		close(ch)
	}
}

// Publisher distributes L1/L2/trade updates to in-process subscribers.
// Grounded on the teacher's internal/marketdata.Publisher: per-market
// subscriber lists plus "subscribe to everything" lists, non-blocking
// sends that drop updates for a slow subscriber rather than stall the
// publisher. The three kinds share one generic chanSet implementation
// here instead of three copies of the same subscribe/publish/close
// bodies differing only in element type.
type Publisher struct {
	l1    *chanSet[L1Quote]
	l2    *chanSet[L2Depth]
	trade *chanSet[TradeReport]
}

// NewPublisher creates a publisher whose subscriber channels buffer up
// to bufferSize updates before newer ones are dropped.
func NewPublisher(bufferSize int) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Publisher{
		l1:    newChanSet[L1Quote](bufferSize),
		l2:    newChanSet[L2Depth](bufferSize),
		trade: newChanSet[TradeReport](bufferSize),
	}
}

// SubscribeL1 subscribes to L1 quotes for one market.
func (p *Publisher) SubscribeL1(market string) <-chan L1Quote {
	return p.l1.subscribe(market)
}

// SubscribeAllL1 subscribes to L1 quotes across every market.
func (p *Publisher) SubscribeAllL1() <-chan L1Quote {
	return p.l1.subscribeAll()
}

// SubscribeL2 subscribes to depth updates for one market.
func (p *Publisher) SubscribeL2(market string) <-chan L2Depth {
	return p.l2.subscribe(market)
}

// SubscribeTrades subscribes to trade reports for one market.
func (p *Publisher) SubscribeTrades(market string) <-chan TradeReport {
	return p.trade.subscribe(market)
}

// SubscribeAllTrades subscribes to trade reports across every market.
func (p *Publisher) SubscribeAllTrades() <-chan TradeReport {
	return p.trade.subscribeAll()
}

// PublishL1 fans an L1 update out to its market's subscribers and the
// all-markets subscribers.
func (p *Publisher) PublishL1(quote L1Quote) {
	p.l1.publish(quote.Market, quote)
}

// PublishL2 fans a depth update out to its market's subscribers.
func (p *Publisher) PublishL2(depth L2Depth) {
	p.l2.publish(depth.Market, depth)
}

// PublishTrade fans a trade report out to its market's subscribers and
// the all-markets subscribers.
func (p *Publisher) PublishTrade(trade TradeReport) {
	p.trade.publish(trade.Market, trade)
}

// UnsubscribeL1 removes and closes one L1 subscription channel.
func (p *Publisher) UnsubscribeL1(market string, ch <-chan L1Quote) {
	p.l1.unsubscribe(market, ch)
}

// Close closes every subscription channel.
func (p *Publisher) Close() {
	p.l1.closeAll()
	p.l2.closeAll()
	p.trade.closeAll()
}
