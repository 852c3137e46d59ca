package market

import (
	"github.com/shopspring/decimal"

	"keymarket/curve"
)

// Side labels the direction of a key trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// KeyState is the authoritative market state for one subject: the curve it
// trades on, the current supply, every holder's balance, and the running
// aggregates the display layer reads. Holdings settle atomically with
// supply under a single version check, so the map is always consistent
// with the supply it sums to.
type KeyState struct {
	Subject          string                     `json:"subject"`
	Creator          string                     `json:"creator"`
	Curve            curve.Config               `json:"curve"`
	Supply           decimal.Decimal            `json:"supply"`
	Holdings         map[string]decimal.Decimal `json:"holdings"`
	TotalVolume      decimal.Decimal            `json:"totalVolume"`
	BuyVolume        decimal.Decimal            `json:"buyVolume"`
	SellVolume       decimal.Decimal            `json:"sellVolume"`
	CreatorEarnings  decimal.Decimal            `json:"creatorEarnings"`
	ProtocolRevenue  decimal.Decimal            `json:"protocolRevenue"`
	ReferrerPayouts  decimal.Decimal            `json:"referrerPayouts"`
	TradeCount       uint64                     `json:"tradeCount"`
	CreatedAt        int64                      `json:"createdAt"`
	LastTradeAt      int64                      `json:"lastTradeAt"`
	Version          uint64                     `json:"version"`
}

// Clone returns a deep copy so stores and callers never alias the holdings
// map between goroutines.
func (s *KeyState) Clone() *KeyState {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Holdings != nil {
		clone.Holdings = make(map[string]decimal.Decimal, len(s.Holdings))
		for account, amount := range s.Holdings {
			clone.Holdings[account] = amount
		}
	}
	return &clone
}

// Holding returns the account's key balance, zero when absent.
func (s *KeyState) Holding(account string) decimal.Decimal {
	if s == nil || s.Holdings == nil {
		return decimal.Zero
	}
	return s.Holdings[account]
}

// HolderCount counts accounts with a positive balance.
func (s *KeyState) HolderCount() int {
	if s == nil {
		return 0
	}
	count := 0
	for _, amount := range s.Holdings {
		if amount.Sign() > 0 {
			count++
		}
	}
	return count
}

// FeesCollected sums every fee the subject's trades have produced.
func (s *KeyState) FeesCollected() decimal.Decimal {
	if s == nil {
		return decimal.Zero
	}
	return s.CreatorEarnings.Add(s.ProtocolRevenue).Add(s.ReferrerPayouts)
}

// KeyMetrics is the read-only display snapshot for one subject. Every
// decimal is clamped to zero or above before it leaves the engine.
type KeyMetrics struct {
	Subject              string          `json:"subject"`
	CurrentPrice         decimal.Decimal `json:"currentPrice"`
	MarketCap            decimal.Decimal `json:"marketCap"`
	Liquidity            decimal.Decimal `json:"liquidity"`
	TotalVolume          decimal.Decimal `json:"totalVolume"`
	BuyVolume            decimal.Decimal `json:"buyVolume"`
	SellVolume           decimal.Decimal `json:"sellVolume"`
	Holders              int             `json:"holders"`
	Supply               decimal.Decimal `json:"supply"`
	MaxSupply            decimal.Decimal `json:"maxSupply"`
	CreatorEarnings      decimal.Decimal `json:"creatorEarnings"`
	CreatorLifetimeValue decimal.Decimal `json:"creatorLifetimeValue"`
	EffectiveCreatorBps  int64           `json:"effectiveCreatorBps"`
	EffectiveProtocolBps int64           `json:"effectiveProtocolBps"`
	CreatedAt            int64           `json:"createdAt"`
	LastTradeAt          int64           `json:"lastTradeAt"`
}

// TradeReceipt records a settled trade. The embedded quote is the exact
// pricing the trade settled at; ReferrerFee is the slice of the protocol
// fee routed to the referrer, already reflected in the state aggregates.
type TradeReceipt struct {
	TradeID     string          `json:"tradeId"`
	Subject     string          `json:"subject"`
	Account     string          `json:"account"`
	Side        Side            `json:"side"`
	Requested   decimal.Decimal `json:"requested"`
	Quote       curve.Quote     `json:"quote"`
	Referrer    string          `json:"referrer,omitempty"`
	ReferrerFee decimal.Decimal `json:"referrerFee"`
	ExecutedAt  int64           `json:"executedAt"`
}

// PlatformTotals aggregates activity across every subject.
type PlatformTotals struct {
	Subjects      int             `json:"subjects"`
	TotalVolume   decimal.Decimal `json:"totalVolume"`
	FeesCollected decimal.Decimal `json:"feesCollected"`
	Trades        uint64          `json:"trades"`
}

// Params tunes the settlement engine. DefaultCurve seeds every new
// subject's config; MaxTradeAmount caps a single settlement when positive;
// ReferrerShareBps is the slice of trade value (bounded by the protocol
// fee) routed to referrers; CommitRetries bounds optimistic-concurrency
// retries per settlement.
type Params struct {
	DefaultCurve     curve.Config
	MaxTradeAmount   decimal.Decimal
	ReferrerShareBps int64
	CommitRetries    int
}
