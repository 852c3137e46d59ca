package market

import (
	"github.com/shopspring/decimal"

	"keymarket/curve"
)

// DefaultReferrerShareBps is the platform default slice of trade value
// routed to a referrer, always carved out of the protocol fee.
const DefaultReferrerShareBps = 100

// Fee discounts step in as a curve's lifetime volume and holder base grow.
// Values are percentages of the undiscounted rate.
const (
	volumeDiscountPct     = 95
	volumeDiscountDeepPct = 90
	holderDiscountPct     = 90
	holderDiscountDeepPct = 85
	holderTier            = 100
	holderTierDeep        = 1000
)

var (
	volumeTier     = decimal.NewFromInt(10)
	volumeTierDeep = decimal.NewFromInt(100)
	ten            = decimal.NewFromInt(10)
)

// ReferrerCut returns the referrer's slice of a settled quote: shareBps of
// trade value, never more than the protocol fee it is carved from. Quote
// totals are unchanged by referral, so the buyer pays and the seller nets
// exactly what the quote said.
func ReferrerCut(quote curve.Quote, shareBps int64) decimal.Decimal {
	if shareBps <= 0 {
		return decimal.Zero
	}
	cut := quote.TradeValue.Mul(decimal.New(shareBps, -4))
	if cut.GreaterThan(quote.ProtocolFee) {
		return quote.ProtocolFee
	}
	return cut
}

// DiscountedFeeBps applies the platform's activity discounts to a base fee
// rate: busier curves trade cheaper, and widely held curves cheaper still.
// The result never drops below half the base rate. Display-layer only; the
// settlement path always charges the configured rate.
func DiscountedFeeBps(baseBps int64, totalVolume decimal.Decimal, holders int) int64 {
	if baseBps <= 0 {
		return 0
	}
	rate := baseBps
	switch {
	case totalVolume.GreaterThan(volumeTierDeep):
		rate = rate * volumeDiscountDeepPct / 100
	case totalVolume.GreaterThan(volumeTier):
		rate = rate * volumeDiscountPct / 100
	}
	switch {
	case holders > holderTierDeep:
		rate = rate * holderDiscountDeepPct / 100
	case holders > holderTier:
		rate = rate * holderDiscountPct / 100
	}
	if floor := baseBps / 2; rate < floor {
		rate = floor
	}
	return rate
}

// CreatorLifetimeValue estimates what a creator's curve is worth to them:
// the creator's cut of market cap scaled up by traded volume, with the
// volume factor capped so a hot day cannot inflate the estimate without
// bound.
func CreatorLifetimeValue(marketCap, totalVolume decimal.Decimal, creatorFeeBps int64) decimal.Decimal {
	if marketCap.Sign() <= 0 || creatorFeeBps <= 0 {
		return decimal.Zero
	}
	factor := totalVolume
	if factor.Sign() < 0 {
		factor = decimal.Zero
	}
	if factor.GreaterThan(ten) {
		factor = ten
	}
	multiplier := ten.Add(factor).Div(ten)
	return marketCap.Mul(decimal.New(creatorFeeBps, -4)).Mul(multiplier)
}
