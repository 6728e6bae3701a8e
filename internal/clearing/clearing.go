// Package clearing implements a T+2 netting/DVP clearing house that
// drains Fill events from internal/eventqueue and settles them against
// host-held account ledgers.
//
// spec.md places settlement firmly outside the core: the engine's
// new_order/consume_events pair only ever hands back Fill/Out events,
// never touches cash or holdings. This package is the host side of that
// boundary, generalized from the teacher's internal/settlement package:
// netting, settlement-instruction generation, and atomic delivery-
// versus-payment settlement, repointed from orders.Fill/int64 cents to
// eventqueue.FillEvent/FP32 quote units.
package clearing

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clobcore/matching-engine/internal/eventqueue"
	"github.com/clobcore/matching-engine/internal/side"
)

// TradeStatus is the settlement lifecycle stage of a Trade or
// SettlementInstruction.
type TradeStatus int

const (
	TradeStatusExecuted TradeStatus = iota
	TradeStatusClearing
	TradeStatusReadyToSettle
	TradeStatusSettled
	TradeStatusFailed
)

var tradeStatusNames = [...]string{
	TradeStatusExecuted:      "EXECUTED",
	TradeStatusClearing:      "CLEARING",
	TradeStatusReadyToSettle: "READY_TO_SETTLE",
	TradeStatusSettled:       "SETTLED",
	TradeStatusFailed:        "FAILED",
}

func (s TradeStatus) String() string {
	if int(s) < 0 || int(s) >= len(tradeStatusNames) {
		return "UNKNOWN"
	}
	return tradeStatusNames[s]
}

// Trade is one matched Fill event, pending settlement. ID is the fill
// event's queue sequence number — globally unique within a market, so no
// separate trade-id counter is needed.
type Trade struct {
	ID            uint64
	Market        string
	Price         uint64 // FP32, the maker's resting price
	BaseSize      uint64
	QuoteSize     uint64
	BuyerAccount  string
	SellerAccount string
	TradeTime     time.Time
	SettleDate    time.Time
	Status        TradeStatus
}

// NetPosition is a netted position for an account/market pair.
type NetPosition struct {
	AccountID     string
	Market        string
	NetBaseQty    int64 // positive = long (receives delivery), negative = short (owes delivery)
	NetQuoteValue int64 // positive = owes quote currency
}

// SettlementInstruction is what must happen at settlement for one
// deliverer/receiver pair, after netting.
type SettlementInstruction struct {
	ID          string
	TradeIDs    []uint64
	FromAccount string
	ToAccount   string
	Market      string
	BaseQty     uint64
	QuoteAmount uint64
	SettleDate  time.Time
	Status      TradeStatus
}

// Account holds one participant's quote-currency cash and base holdings
// per market.
type Account struct {
	ID       string
	Quote    int64
	Holdings map[string]int64 // market -> base qty
}

// ClearingHouse manages the clearing and settlement process across any
// number of markets.
type ClearingHouse struct {
	mu             sync.RWMutex
	trades         map[uint64]*Trade
	accounts       map[string]*Account
	instructions   []SettlementInstruction
	settlementDays int
}

// NewClearingHouse creates a clearing house with T+2 settlement.
func NewClearingHouse() *ClearingHouse {
	return &ClearingHouse{
		trades:         make(map[uint64]*Trade),
		accounts:       make(map[string]*Account),
		settlementDays: 2,
	}
}

// GetOrCreateAccount returns an existing account or opens one with the
// given initial quote-currency balance.
func (ch *ClearingHouse) GetOrCreateAccount(accountID string, initialQuote int64) *Account {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if acct, ok := ch.accounts[accountID]; ok {
		return acct
	}
	acct := &Account{ID: accountID, Quote: initialQuote, Holdings: make(map[string]int64)}
	ch.accounts[accountID] = acct
	return acct
}

// GetAccount retrieves an account, or nil if it doesn't exist.
func (ch *ClearingHouse) GetAccount(accountID string) *Account {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.accounts[accountID]
}

// RecordTrade records a drained Fill event as a pending trade.
// accountIDLen is the market's callback_id_len — the prefix of
// MakerCallbackInfo/TakerCallbackInfo that identifies the owning
// account, the same bytes the core compares for self-trade detection.
func (ch *ClearingHouse) RecordTrade(market string, ev eventqueue.FillEvent, queueSeq uint64, accountIDLen int) *Trade {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	now := time.Now()
	settleDate := ch.calculateSettleDate(now)

	makerAccount := strings.TrimRight(string(ev.MakerCallbackInfo[:accountIDLen]), "\x00")
	takerAccount := strings.TrimRight(string(ev.TakerCallbackInfo[:accountIDLen]), "\x00")
	var buyer, seller string
	if ev.TakerSide == side.Bid {
		buyer, seller = takerAccount, makerAccount
	} else {
		buyer, seller = makerAccount, takerAccount
	}

	trade := &Trade{
		ID:            queueSeq,
		Market:        market,
		Price:         ev.Price,
		BaseSize:      ev.BaseSize,
		QuoteSize:     ev.QuoteSize,
		BuyerAccount:  buyer,
		SellerAccount: seller,
		TradeTime:     now,
		SettleDate:    settleDate,
		Status:        TradeStatusExecuted,
	}
	ch.trades[trade.ID] = trade
	return trade
}

// calculateSettleDate adds settlementDays business days, skipping weekends.
func (ch *ClearingHouse) calculateSettleDate(tradeDate time.Time) time.Time {
	settleDate := tradeDate
	added := 0
	for added < ch.settlementDays {
		settleDate = settleDate.AddDate(0, 0, 1)
		if settleDate.Weekday() != time.Saturday && settleDate.Weekday() != time.Sunday {
			added++
		}
	}
	return settleDate
}

// CalculateNetting computes net positions across all pending trades.
func (ch *ClearingHouse) CalculateNetting() map[string]map[string]NetPosition {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.calculateNettingLocked()
}

func (ch *ClearingHouse) calculateNettingLocked() map[string]map[string]NetPosition {
	net := make(map[string]map[string]NetPosition) // account -> market -> NetPosition

	for _, trade := range ch.trades {
		if trade.Status != TradeStatusExecuted && trade.Status != TradeStatusClearing {
			continue
		}

		if net[trade.BuyerAccount] == nil {
			net[trade.BuyerAccount] = make(map[string]NetPosition)
		}
		buyerPos := net[trade.BuyerAccount][trade.Market]
		buyerPos.AccountID, buyerPos.Market = trade.BuyerAccount, trade.Market
		buyerPos.NetBaseQty += int64(trade.BaseSize)
		buyerPos.NetQuoteValue += int64(trade.QuoteSize)
		net[trade.BuyerAccount][trade.Market] = buyerPos

		if net[trade.SellerAccount] == nil {
			net[trade.SellerAccount] = make(map[string]NetPosition)
		}
		sellerPos := net[trade.SellerAccount][trade.Market]
		sellerPos.AccountID, sellerPos.Market = trade.SellerAccount, trade.Market
		sellerPos.NetBaseQty -= int64(trade.BaseSize)
		sellerPos.NetQuoteValue -= int64(trade.QuoteSize)
		net[trade.SellerAccount][trade.Market] = sellerPos
	}

	return net
}

// GenerateSettlementInstructions nets pending trades and produces the
// minimal set of deliverer-to-receiver transfers needed to settle them.
func (ch *ClearingHouse) GenerateSettlementInstructions() []SettlementInstruction {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	byMarket := make(map[string][]NetPosition)
	for _, positions := range ch.calculateNettingLocked() {
		for _, pos := range positions {
			byMarket[pos.Market] = append(byMarket[pos.Market], pos)
		}
	}

	var instructions []SettlementInstruction
	for market, positions := range byMarket {
		instructions = append(instructions, netMarket(market, positions, ch.settlementDays)...)
	}
	for _, trade := range ch.trades {
		if trade.Status == TradeStatusExecuted {
			trade.Status = TradeStatusClearing
		}
	}

	ch.instructions = instructions
	return instructions
}

// owedLeg is one side's remaining obligation within a single market's
// netting round: a deliverer still owes base qty at a fixed average
// price, a receiver is still due base qty.
type owedLeg struct {
	accountID string
	remaining int64
	avgPrice  int64 // quote per base unit; only meaningful for deliverers
}

// netMarket walks the deliverer and receiver queues for one market with
// two cursors, draining the smaller side of each pairing before
// advancing past it — a single O(n+m) pass instead of rescanning
// receivers from the start for every deliverer.
func netMarket(market string, positions []NetPosition, settlementDays int) []SettlementInstruction {
	var deliverers, receivers []owedLeg
	for _, pos := range positions {
		switch {
		case pos.NetBaseQty < 0:
			owed := -pos.NetBaseQty
			deliverers = append(deliverers, owedLeg{accountID: pos.AccountID, remaining: owed, avgPrice: -pos.NetQuoteValue / owed})
		case pos.NetBaseQty > 0:
			receivers = append(receivers, owedLeg{accountID: pos.AccountID, remaining: pos.NetBaseQty})
		}
	}

	var out []SettlementInstruction
	di, ri := 0, 0
	for di < len(deliverers) && ri < len(receivers) {
		d, r := &deliverers[di], &receivers[ri]
		matchQty := d.remaining
		if r.remaining < matchQty {
			matchQty = r.remaining
		}

		out = append(out, SettlementInstruction{
			ID:          uuid.NewString(),
			FromAccount: d.accountID,
			ToAccount:   r.accountID,
			Market:      market,
			BaseQty:     uint64(matchQty),
			QuoteAmount: uint64(matchQty * d.avgPrice),
			SettleDate:  time.Now().AddDate(0, 0, settlementDays),
			Status:      TradeStatusReadyToSettle,
		})

		d.remaining -= matchQty
		r.remaining -= matchQty
		if d.remaining == 0 {
			di++
		}
		if r.remaining == 0 {
			ri++
		}
	}
	return out
}

// Settle executes delivery-versus-payment for every ready instruction.
func (ch *ClearingHouse) Settle() ([]SettlementInstruction, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	var settled []SettlementInstruction
	var failures []string
	failedMarkets := make(map[string]bool)

	for i := range ch.instructions {
		instr := &ch.instructions[i]
		if instr.Status != TradeStatusReadyToSettle {
			continue
		}
		if err := ch.settleOne(instr); err != nil {
			instr.Status = TradeStatusFailed
			failedMarkets[instr.Market] = true
			failures = append(failures, err.Error())
			continue
		}
		instr.Status = TradeStatusSettled
		settled = append(settled, *instr)
	}

	for _, trade := range ch.trades {
		if trade.Status == TradeStatusClearing || trade.Status == TradeStatusReadyToSettle {
			if failedMarkets[trade.Market] {
				trade.Status = TradeStatusFailed
			} else {
				trade.Status = TradeStatusSettled
			}
		}
	}

	if len(failures) > 0 {
		return settled, fmt.Errorf("settlement failures: %v", failures)
	}
	return settled, nil
}

// settleOne moves base quantity and quote cash atomically between the
// two accounts named in instr. Fails closed, leaving both ledgers
// untouched, if either leg is short.
func (ch *ClearingHouse) settleOne(instr *SettlementInstruction) error {
	from, to := ch.accounts[instr.FromAccount], ch.accounts[instr.ToAccount]
	if from == nil || to == nil {
		return fmt.Errorf("account not found for instruction %s->%s", instr.FromAccount, instr.ToAccount)
	}
	if uint64(from.Holdings[instr.Market]) < instr.BaseQty {
		return fmt.Errorf("insufficient holdings: %s has %d, needs %d", instr.FromAccount, from.Holdings[instr.Market], instr.BaseQty)
	}
	if uint64(to.Quote) < instr.QuoteAmount {
		return fmt.Errorf("insufficient quote balance: %s has %d, needs %d", instr.ToAccount, to.Quote, instr.QuoteAmount)
	}

	from.Holdings[instr.Market] -= int64(instr.BaseQty)
	to.Holdings[instr.Market] += int64(instr.BaseQty)
	to.Quote -= int64(instr.QuoteAmount)
	from.Quote += int64(instr.QuoteAmount)
	return nil
}

// GetPendingTrades returns every trade not yet settled or failed.
func (ch *ClearingHouse) GetPendingTrades() []*Trade {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	var pending []*Trade
	for _, trade := range ch.trades {
		if trade.Status != TradeStatusSettled && trade.Status != TradeStatusFailed {
			pending = append(pending, trade)
		}
	}
	return pending
}

// GetSettlementStats summarizes trade counts by status.
func (ch *ClearingHouse) GetSettlementStats() map[string]int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	stats := map[string]int{
		"total_trades": len(ch.trades),
		"executed":     0,
		"clearing":     0,
		"ready":        0,
		"settled":      0,
		"failed":       0,
		"instructions": len(ch.instructions),
	}
	for _, trade := range ch.trades {
		switch trade.Status {
		case TradeStatusExecuted:
			stats["executed"]++
		case TradeStatusClearing:
			stats["clearing"]++
		case TradeStatusReadyToSettle:
			stats["ready"]++
		case TradeStatusSettled:
			stats["settled"]++
		case TradeStatusFailed:
			stats["failed"]++
		}
	}
	return stats
}
