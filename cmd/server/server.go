// Package main wires internal/mengine, internal/riskgate,
// internal/clearing, internal/quotefeed and internal/walog around one
// internal/market.BookHandles per configured market, and exposes the
// result behind an HTTP API.
//
// Architecture Overview (grounded on the teacher's cmd/server/main.go
// diagram, generalized from a single engine to one per market):
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│   Client    │────▶│  HTTP API   │────▶│  riskgate   │
//	│  (HTTP/WS)  │     │  (Server)   │     │  Checker    │
//	└─────────────┘     └──────┬──────┘     └──────┬──────┘
//	                           │                    │
//	                           ▼                    ▼
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  quotefeed  │◀────│  mengine    │────▶│  market     │
//	│  BookView   │     │  Engine     │     │  BookHandles│
//	└──────┬──────┘     └──────┬──────┘     └─────────────┘
//	       │                   │
//	       ▼                   ▼
//	┌─────────────┐     ┌─────────────┐
//	│  quotefeed  │     │  clearing   │◀── walog (crash-recovery log)
//	│  Hub (WS)   │     │  House      │
//	└─────────────┘     └─────────────┘
package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"math/bits"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/clobcore/matching-engine/internal/clearing"
	"github.com/clobcore/matching-engine/internal/eventqueue"
	"github.com/clobcore/matching-engine/internal/market"
	"github.com/clobcore/matching-engine/internal/mengine"
	"github.com/clobcore/matching-engine/internal/quotefeed"
	"github.com/clobcore/matching-engine/internal/riskgate"
	"github.com/clobcore/matching-engine/internal/slab"
	"github.com/clobcore/matching-engine/internal/walog"
)

// marketRuntime bundles everything the server owns for one configured
// market: the borrowed buffers, the serializing engine in front of
// them, the host's event-stream-derived book view, and its durable log.
type marketRuntime struct {
	name         string
	handles      market.BookHandles
	engine       *mengine.Engine
	view         *quotefeed.BookView
	wal          *walog.Log
	accountIDLen int
}

// Server is the order matching engine host process.
type Server struct {
	log     *zap.Logger
	cfg     Config
	metrics *metrics

	markets map[string]*marketRuntime

	risk      *riskgate.Checker
	clearing  *clearing.ClearingHouse
	publisher *quotefeed.Publisher
	hub       *quotefeed.Hub

	httpServer    *http.Server
	metricsServer *http.Server

	shutdownCh chan struct{}
}

// principalFor derives a stable 32-byte Principal from a seed string.
// This engine has no real key-management story (spec.md's Principal is
// an opaque caller identity) — sha256 gives a deterministic, collision-
// free-in-practice handle per market/role without needing one.
func principalFor(seed string) market.Principal {
	return market.Principal(sha256.Sum256([]byte(seed)))
}

// encodeCallbackInfo packs an account id into the first accountIDLen
// bytes of a CallbackInfo, the convention internal/riskgate and
// internal/clearing both rely on to recover an account from a fill's
// MakerCallbackInfo/TakerCallbackInfo.
func encodeCallbackInfo(accountID string, accountIDLen int) slab.CallbackInfo {
	var cb slab.CallbackInfo
	copy(cb[:accountIDLen], accountID)
	return cb
}

// NewServer builds every configured market's buffers and engine, and
// assembles the host-layer collaborators around them.
func NewServer(cfg Config, log *zap.Logger) (*Server, error) {
	s := &Server{
		log:        log,
		cfg:        cfg,
		metrics:    newMetrics(),
		markets:    make(map[string]*marketRuntime),
		risk:       riskgate.NewChecker(riskgate.Config{
			MaxOrderBaseQty:     cfg.Risk.MaxOrderBaseQty,
			MaxOrderQuoteValue:  cfg.Risk.MaxOrderQuoteValue,
			MaxPositionBaseQty:  cfg.Risk.MaxPositionBaseQty,
			MaxDailyQuoteVolume: cfg.Risk.MaxDailyQuoteVolume,
			PriceBandPercent:    cfg.Risk.PriceBandPercent,
		}),
		clearing:   clearing.NewClearingHouse(),
		publisher:  quotefeed.NewPublisher(1000),
		hub:        quotefeed.NewHub(log),
		shutdownCh: make(chan struct{}),
	}

	for _, mc := range cfg.Markets {
		rt, err := s.newMarketRuntime(mc)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", mc.Name, err)
		}
		s.markets[mc.Name] = rt
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/order", s.handleOrder)
	mux.HandleFunc("/cancel", s.handleCancel)
	mux.HandleFunc("/book", s.handleBook)
	mux.HandleFunc("/quote", s.handleQuote)
	mux.HandleFunc("/account", s.handleAccount)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.metricsServer = newMetricsServer(cfg.MetricsPort)

	return s, nil
}

func (s *Server) newMarketRuntime(mc MarketConfig) (*marketRuntime, error) {
	authority := principalFor(mc.Name + ":authority")
	h := market.BookHandles{
		Market:     &market.MarketBuffer{ID: principalFor(mc.Name + ":market")},
		Bids:       &market.BidsBuffer{ID: principalFor(mc.Name + ":bids"), Tree: slab.NewTree(mc.BookCapacity)},
		Asks:       &market.AsksBuffer{ID: principalFor(mc.Name + ":asks"), Tree: slab.NewTree(mc.BookCapacity)},
		EventQueue: &market.EventQueueBuffer{ID: principalFor(mc.Name + ":eq"), Queue: eventqueue.NewQueue(mc.EventQueueCapacity)},
		Authority:  authority,
	}
	if err := market.CreateMarket(h, market.CreateMarketParams{
		CallerAuthority:  authority,
		CallbackInfoLen:  mc.CallbackInfoLen,
		CallbackIDLen:    mc.CallbackIDLen,
		MinBaseOrderSize: mc.MinBaseOrderSize,
		TickSize:         mc.TickSize,
		CrankerReward:    mc.CrankerReward,
	}); err != nil {
		return nil, fmt.Errorf("create_market: %w", err)
	}
	h.Market.State.FeeBudget = mc.InitialFeeBudget

	wal, err := walog.Open(walog.Config{
		Path:     fmt.Sprintf("%s/%s.log", s.cfg.WalDir, mc.Name),
		SyncMode: s.cfg.SyncMode,
	})
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}

	engine := mengine.NewEngine(mengine.Config{BufferSize: s.cfg.RingBufferSize}, h, s.log.With(zap.String("market", mc.Name)))

	return &marketRuntime{
		name:         mc.Name,
		handles:      h,
		engine:       engine,
		view:         quotefeed.NewBookView(mc.Name),
		wal:          wal,
		accountIDLen: int(mc.CallbackIDLen),
	}, nil
}

func newMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promHandler())
	return &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
}

// Start starts every market's engine consume-loop, the metrics server,
// and the HTTP API (blocking until shutdown).
func (s *Server) Start() error {
	s.log.Info("starting clobd", zap.Int("port", s.cfg.Port), zap.Int("markets", len(s.markets)))

	for _, rt := range s.markets {
		go s.consumeLoop(rt)
	}

	go func() {
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics server error", zap.Error(err))
		}
	}()

	return s.httpServer.ListenAndServe()
}

// consumeLoop drains a market's events on a fixed interval and fans
// them out to clearing, quotefeed, riskgate and the durable log. The
// HTTP handlers also touch rt.view (RecordPost) and rt.wal
// (LastSequence); both types lock internally.
func (s *Server) consumeLoop(rt *marketRuntime) {
	ticker := time.NewTicker(s.cfg.ConsumePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			s.drainOnce(rt)
		}
	}
}

func (s *Server) drainOnce(rt *marketRuntime) {
	events, reward, err := rt.engine.SubmitConsumeEvents(s.cfg.ConsumeBatchSize)
	if err != nil || len(events) == 0 {
		return
	}
	s.metrics.queueDepth.WithLabelValues(rt.name).Set(float64(len(events)))
	if reward > 0 {
		s.metrics.crankerRewardSum.WithLabelValues(rt.name).Add(float64(reward))
	}

	for _, ev := range events {
		if err := rt.wal.Append(ev); err != nil {
			s.log.Error("wal append failed", zap.String("market", rt.name), zap.Error(err))
		}
		rt.view.ApplyEvent(ev)

		switch ev.Tag {
		case eventqueue.TagFill:
			s.applyFill(rt, ev)
		case eventqueue.TagOut:
			// No settlement or risk effect; the view already applied it.
		}
	}

	now := time.Now().UnixNano()
	l1 := rt.view.L1(now)
	s.publisher.PublishL1(l1)
	s.hub.Broadcast(l1)
}

func (s *Server) applyFill(rt *marketRuntime, ev eventqueue.Event) {
	fill := ev.Fill
	s.clearing.RecordTrade(rt.name, fill, ev.SequenceNum, rt.accountIDLen)
	s.metrics.fillsProcessed.WithLabelValues(rt.name).Inc()

	makerAccount := riskgate.AccountID(fill.MakerCallbackInfo[:rt.accountIDLen])
	takerAccount := riskgate.AccountID(fill.TakerCallbackInfo[:rt.accountIDLen])
	mkt := riskgate.MarketID(rt.name)

	s.risk.UpdatePosition(takerAccount, mkt, fill.TakerSide, fill.BaseSize)
	s.risk.UpdatePosition(makerAccount, mkt, fill.TakerSide.Opposite(), fill.BaseSize)
	// Daily volume is kept in the same FP32 units riskgate.Check uses.
	hi, value := bits.Mul64(fill.BaseSize, fill.Price)
	if hi != 0 {
		value = math.MaxUint64
	}
	s.risk.UpdateDailyVolume(takerAccount, value)
	s.risk.UpdateDailyVolume(makerAccount, value)
	s.risk.SetReferencePrice(mkt, fill.Price)

	report := quotefeed.TradeReport{
		Market:        rt.name,
		MakerOrderID:  fill.MakerOrderID,
		Price:         fill.Price,
		BaseSize:      fill.BaseSize,
		AggressorSide: fill.TakerSide,
		Timestamp:     time.Now().UnixNano(),
	}
	s.publisher.PublishTrade(report)
	s.hub.Broadcast(report)
}

// Shutdown gracefully drains every market's engine, flushes its log,
// then stops accepting HTTP traffic.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down clobd")
	close(s.shutdownCh)

	for _, rt := range s.markets {
		rt.engine.Shutdown()
		if err := rt.wal.Close(); err != nil {
			s.log.Error("wal close failed", zap.String("market", rt.name), zap.Error(err))
		}
	}
	s.publisher.Close()
	s.hub.Close()

	if err := s.metricsServer.Shutdown(ctx); err != nil {
		s.log.Error("metrics server shutdown error", zap.Error(err))
	}
	return s.httpServer.Shutdown(ctx)
}
