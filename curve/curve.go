// Package curve prices key trades along a linear bonding curve. The engine
// is pure: it owns a validated configuration and nothing else, so every
// call is a deterministic function of (config, supply, amount, direction).
// Supply itself is owned by the caller or the backing ledger.
package curve

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Fee limits enforced at construction, in basis points.
const (
	MaxCreatorFeeBps  = 1000
	MaxProtocolFeeBps = 500
	maxCombinedFeeBps = 10_000
)

// Bisection stops once the bracket is narrower than sizeTol. The iteration
// cap bounds the loop regardless of the bracket width.
const maxSearchIterations = 64

var (
	// ErrInvalidConfig indicates a curve configuration that violates one of
	// the construction invariants.
	ErrInvalidConfig = errors.New("curve: invalid config")
	// ErrInvalidAmount indicates a requested trade size of zero or less.
	ErrInvalidAmount = errors.New("curve: trade amount must be positive")
	// ErrInvalidSupply indicates a negative supply input.
	ErrInvalidSupply = errors.New("curve: supply must not be negative")
	// ErrSupplyExhausted indicates a buy against a curve already at its
	// supply ceiling.
	ErrSupplyExhausted = errors.New("curve: supply exhausted")
	// ErrNoSupply indicates a sell against a curve with zero supply.
	ErrNoSupply = errors.New("curve: no supply to sell")
)

var (
	one     = decimal.NewFromInt(1)
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
	minSize = decimal.RequireFromString("0.1")
	sizeTol = decimal.RequireFromString("0.01")
)

// Config describes one subject's curve: the linear price parameters, the
// supply ceiling, and the fee cuts taken on trade value. A config is
// immutable once an Engine is constructed around it.
type Config struct {
	BasePrice      decimal.Decimal `json:"basePrice"`
	PriceIncrement decimal.Decimal `json:"priceIncrement"`
	MaxSupply      decimal.Decimal `json:"maxSupply"`
	CreatorFeeBps  int64           `json:"creatorFeeBps"`
	ProtocolFeeBps int64           `json:"protocolFeeBps"`
}

// Validate enforces the construction invariants. Engines refuse invalid
// configs outright rather than failing lazily per call.
func (c Config) Validate() error {
	if c.BasePrice.Sign() <= 0 {
		return fmt.Errorf("%w: base price must be positive", ErrInvalidConfig)
	}
	if c.PriceIncrement.Sign() <= 0 {
		return fmt.Errorf("%w: price increment must be positive", ErrInvalidConfig)
	}
	if c.MaxSupply.LessThan(one) {
		return fmt.Errorf("%w: max supply must be at least 1", ErrInvalidConfig)
	}
	if c.CreatorFeeBps < 0 || c.CreatorFeeBps > MaxCreatorFeeBps {
		return fmt.Errorf("%w: creator fee must be between 0 and %d bps", ErrInvalidConfig, MaxCreatorFeeBps)
	}
	if c.ProtocolFeeBps < 0 || c.ProtocolFeeBps > MaxProtocolFeeBps {
		return fmt.Errorf("%w: protocol fee must be between 0 and %d bps", ErrInvalidConfig, MaxProtocolFeeBps)
	}
	if c.CreatorFeeBps+c.ProtocolFeeBps > maxCombinedFeeBps {
		return fmt.Errorf("%w: combined fees exceed %d bps", ErrInvalidConfig, maxCombinedFeeBps)
	}
	return nil
}

func (c Config) creatorRate() decimal.Decimal { return decimal.New(c.CreatorFeeBps, -4) }

func (c Config) protocolRate() decimal.Decimal { return decimal.New(c.ProtocolFeeBps, -4) }

// Quote is the computed outcome of a hypothetical trade: the average unit
// price over the filled range, the fee decomposition, the supply after
// settlement, and the share of the request left unfilled at the boundary.
// A quote is valid only against the supply it was computed from.
type Quote struct {
	ExecutionPrice decimal.Decimal `json:"executionPrice"`
	TradeValue     decimal.Decimal `json:"tradeValue"`
	CreatorFee     decimal.Decimal `json:"creatorFee"`
	ProtocolFee    decimal.Decimal `json:"protocolFee"`
	TotalCost      decimal.Decimal `json:"totalCost"`
	NewSupply      decimal.Decimal `json:"newSupply"`
	Filled         decimal.Decimal `json:"filled"`
	PriceImpactPct decimal.Decimal `json:"priceImpactPct"`
}

// Engine prices trades for a single curve configuration. Engines hold no
// supply state and are safe for unlimited concurrent readers.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an engine bound to it.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// clamp restricts a supply value to the curve domain [0, MaxSupply].
func (e *Engine) clamp(supply decimal.Decimal) decimal.Decimal {
	if supply.Sign() < 0 {
		return decimal.Zero
	}
	if supply.GreaterThan(e.cfg.MaxSupply) {
		return e.cfg.MaxSupply
	}
	return supply
}

// SpotPrice returns the unit price at the given supply. Out-of-domain
// supplies are clamped, so callers always receive a boundary price rather
// than an extrapolation.
func (e *Engine) SpotPrice(supply decimal.Decimal) decimal.Decimal {
	return e.cfg.BasePrice.Add(e.clamp(supply).Mul(e.cfg.PriceIncrement))
}

// MarketCap returns SpotPrice(supply) times supply, floored at zero.
func (e *Engine) MarketCap(supply decimal.Decimal) decimal.Decimal {
	if supply.Sign() <= 0 {
		return decimal.Zero
	}
	return e.SpotPrice(supply).Mul(supply)
}

// avgPrice is the exact mean of the linear price function over
// [start, end]: the trapezoid integral divided by the interval width.
func (e *Engine) avgPrice(start, end decimal.Decimal) decimal.Decimal {
	return e.SpotPrice(start).Add(e.SpotPrice(end)).Div(two)
}

// QuoteBuy prices a purchase of amount keys at the given supply. A buy
// that would cross MaxSupply is partially filled and reports the shortfall
// through PriceImpactPct; it only fails when nothing can fill at all.
func (e *Engine) QuoteBuy(supply, amount decimal.Decimal) (Quote, error) {
	if amount.Sign() <= 0 {
		return Quote{}, ErrInvalidAmount
	}
	if supply.Sign() < 0 {
		return Quote{}, ErrInvalidSupply
	}
	newSupply := supply.Add(amount)
	if newSupply.GreaterThan(e.cfg.MaxSupply) {
		newSupply = e.cfg.MaxSupply
	}
	filled := newSupply.Sub(supply)
	if filled.Sign() <= 0 {
		return Quote{}, ErrSupplyExhausted
	}
	price := e.avgPrice(supply, newSupply)
	value := price.Mul(filled)
	creatorFee := value.Mul(e.cfg.creatorRate())
	protocolFee := value.Mul(e.cfg.protocolRate())
	return Quote{
		ExecutionPrice: price,
		TradeValue:     value,
		CreatorFee:     creatorFee,
		ProtocolFee:    protocolFee,
		TotalCost:      value.Add(creatorFee).Add(protocolFee),
		NewSupply:      newSupply,
		Filled:         filled,
		PriceImpactPct: impactPct(amount, filled),
	}, nil
}

// QuoteSell prices a sale of amount keys at the given supply. Fees come
// out of the proceeds, so TotalCost is what the seller nets. A sell that
// would cross zero supply is partially filled, mirroring QuoteBuy.
func (e *Engine) QuoteSell(supply, amount decimal.Decimal) (Quote, error) {
	if amount.Sign() <= 0 {
		return Quote{}, ErrInvalidAmount
	}
	if supply.Sign() < 0 {
		return Quote{}, ErrInvalidSupply
	}
	if supply.Sign() == 0 {
		return Quote{}, ErrNoSupply
	}
	newSupply := supply.Sub(amount)
	if newSupply.Sign() < 0 {
		newSupply = decimal.Zero
	}
	filled := supply.Sub(newSupply)
	price := e.avgPrice(newSupply, supply)
	value := price.Mul(filled)
	creatorFee := value.Mul(e.cfg.creatorRate())
	protocolFee := value.Mul(e.cfg.protocolRate())
	return Quote{
		ExecutionPrice: price,
		TradeValue:     value,
		CreatorFee:     creatorFee,
		ProtocolFee:    protocolFee,
		TotalCost:      value.Sub(creatorFee).Sub(protocolFee),
		NewSupply:      newSupply,
		Filled:         filled,
		PriceImpactPct: impactPct(amount, filled),
	}, nil
}

// Impact returns the price impact of a hypothetical trade in percent. Any
// quote failure collapses to 100: callers use this as a pre-flight check
// where "unknown" must read the same as "certain to be rejected", so the
// sentinel is a hard stop, never a literal percentage to display.
func (e *Engine) Impact(supply, amount decimal.Decimal, isBuy bool) decimal.Decimal {
	var (
		quote Quote
		err   error
	)
	if isBuy {
		quote, err = e.QuoteBuy(supply, amount)
	} else {
		quote, err = e.QuoteSell(supply, amount)
	}
	if err != nil {
		return hundred
	}
	return quote.PriceImpactPct
}

// MaxSizeForImpact returns the largest trade size whose impact stays at or
// under maxImpactPct. The boundary clip leaves the curve without a
// closed-form inverse for this, so the size is bracketed by bisection
// between the minimum tradable size and the remaining headroom (buy) or
// the current supply (sell). Results never drop below 0.1; zero means the
// curve has no headroom in that direction at all.
func (e *Engine) MaxSizeForImpact(supply, maxImpactPct decimal.Decimal, isBuy bool) decimal.Decimal {
	upper := e.cfg.MaxSupply.Sub(e.clamp(supply))
	if !isBuy {
		upper = e.clamp(supply)
	}
	if upper.Sign() <= 0 {
		return decimal.Zero
	}
	if upper.LessThanOrEqual(minSize) {
		return minSize
	}
	if e.Impact(supply, upper, isBuy).LessThanOrEqual(maxImpactPct) {
		return upper
	}
	lo, hi := minSize, upper
	best := minSize
	for i := 0; i < maxSearchIterations && hi.Sub(lo).GreaterThan(sizeTol); i++ {
		mid := lo.Add(hi).Div(two)
		if e.Impact(supply, mid, isBuy).LessThanOrEqual(maxImpactPct) {
			best = mid
			lo = mid
		} else {
			hi = mid
		}
	}
	return best
}

// impactPct is the share of a requested amount left unfilled, in percent.
func impactPct(requested, filled decimal.Decimal) decimal.Decimal {
	if filled.GreaterThanOrEqual(requested) {
		return decimal.Zero
	}
	return requested.Sub(filled).Div(requested).Mul(hundred)
}
