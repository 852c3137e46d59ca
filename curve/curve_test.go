package curve

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func platformConfig() Config {
	return Config{
		BasePrice:      d("0.001"),
		PriceIncrement: d("0.0001"),
		MaxSupply:      d("1000000"),
		CreatorFeeBps:  500,
		ProtocolFeeBps: 250,
	}
}

func smallConfig() Config {
	return Config{
		BasePrice:      d("0.001"),
		PriceIncrement: d("0.0001"),
		MaxSupply:      d("1000"),
		CreatorFeeBps:  500,
		ProtocolFeeBps: 250,
	}
}

func mustEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero base price", func(c *Config) { c.BasePrice = decimal.Zero }},
		{"negative base price", func(c *Config) { c.BasePrice = d("-0.001") }},
		{"zero increment", func(c *Config) { c.PriceIncrement = decimal.Zero }},
		{"max supply below one", func(c *Config) { c.MaxSupply = d("0.5") }},
		{"creator fee above cap", func(c *Config) { c.CreatorFeeBps = 1001 }},
		{"negative creator fee", func(c *Config) { c.CreatorFeeBps = -1 }},
		{"protocol fee above cap", func(c *Config) { c.ProtocolFeeBps = 501 }},
		{"combined fees rejected", func(c *Config) {
			c.CreatorFeeBps = 900
			c.ProtocolFeeBps = 600
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := platformConfig()
			tc.mutate(&cfg)
			if _, err := NewEngine(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestNewEngineAcceptsPlatformDefaults(t *testing.T) {
	engine := mustEngine(t, platformConfig())
	if got := engine.Config().CreatorFeeBps; got != 500 {
		t.Fatalf("unexpected creator fee: %d", got)
	}
}

func TestSpotPriceMonotonic(t *testing.T) {
	engine := mustEngine(t, smallConfig())
	supplies := []string{"0", "0.5", "1", "2", "10", "99.9", "500", "999", "1000"}
	for i := 1; i < len(supplies); i++ {
		lower := engine.SpotPrice(d(supplies[i-1]))
		higher := engine.SpotPrice(d(supplies[i]))
		if lower.GreaterThan(higher) {
			t.Fatalf("price decreased between supply %s and %s: %s > %s", supplies[i-1], supplies[i], lower, higher)
		}
	}
}

func TestSpotPriceClampsOutOfDomain(t *testing.T) {
	engine := mustEngine(t, smallConfig())
	if got := engine.SpotPrice(d("-5")); !got.Equal(d("0.001")) {
		t.Fatalf("negative supply should price at base, got %s", got)
	}
	atCeiling := engine.SpotPrice(d("1000"))
	if got := engine.SpotPrice(d("5000")); !got.Equal(atCeiling) {
		t.Fatalf("beyond-ceiling supply should price at ceiling, got %s want %s", got, atCeiling)
	}
}

func TestQuoteBuyConcrete(t *testing.T) {
	engine := mustEngine(t, platformConfig())
	quote, err := engine.QuoteBuy(decimal.Zero, d("1"))
	if err != nil {
		t.Fatalf("quote buy: %v", err)
	}
	// avg of price(0)=0.001 and price(1)=0.0011.
	if !quote.ExecutionPrice.Equal(d("0.00105")) {
		t.Fatalf("unexpected execution price: %s", quote.ExecutionPrice)
	}
	if !quote.TradeValue.Equal(d("0.00105")) {
		t.Fatalf("unexpected trade value: %s", quote.TradeValue)
	}
	if !quote.CreatorFee.Equal(d("0.0000525")) {
		t.Fatalf("unexpected creator fee: %s", quote.CreatorFee)
	}
	if !quote.ProtocolFee.Equal(d("0.00002625")) {
		t.Fatalf("unexpected protocol fee: %s", quote.ProtocolFee)
	}
	if !quote.TotalCost.Equal(d("0.00112875")) {
		t.Fatalf("unexpected total cost: %s", quote.TotalCost)
	}
	if !quote.NewSupply.Equal(d("1")) {
		t.Fatalf("unexpected new supply: %s", quote.NewSupply)
	}
	if !quote.PriceImpactPct.IsZero() {
		t.Fatalf("expected zero impact, got %s", quote.PriceImpactPct)
	}
}

func TestQuoteBuyInputValidation(t *testing.T) {
	engine := mustEngine(t, smallConfig())
	if _, err := engine.QuoteBuy(d("10"), decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := engine.QuoteBuy(d("10"), d("-1")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := engine.QuoteBuy(d("-1"), d("1")); !errors.Is(err, ErrInvalidSupply) {
		t.Fatalf("expected ErrInvalidSupply, got %v", err)
	}
}

func TestQuoteBuyBoundaryClamp(t *testing.T) {
	engine := mustEngine(t, smallConfig())
	if _, err := engine.QuoteBuy(d("1000"), d("5")); !errors.Is(err, ErrSupplyExhausted) {
		t.Fatalf("expected ErrSupplyExhausted, got %v", err)
	}
	quote, err := engine.QuoteBuy(d("998"), d("5"))
	if err != nil {
		t.Fatalf("quote buy: %v", err)
	}
	if !quote.NewSupply.Equal(d("1000")) {
		t.Fatalf("expected fill to the ceiling, got %s", quote.NewSupply)
	}
	if !quote.Filled.Equal(d("2")) {
		t.Fatalf("expected 2 units filled, got %s", quote.Filled)
	}
	if !quote.PriceImpactPct.Equal(d("60")) {
		t.Fatalf("expected 60%% impact, got %s", quote.PriceImpactPct)
	}
}

func TestQuoteSellFloor(t *testing.T) {
	engine := mustEngine(t, smallConfig())
	if _, err := engine.QuoteSell(decimal.Zero, d("1")); !errors.Is(err, ErrNoSupply) {
		t.Fatalf("expected ErrNoSupply, got %v", err)
	}
	if _, err := engine.QuoteSell(d("-1"), d("1")); !errors.Is(err, ErrInvalidSupply) {
		t.Fatalf("expected ErrInvalidSupply, got %v", err)
	}
	quote, err := engine.QuoteSell(d("2"), d("5"))
	if err != nil {
		t.Fatalf("quote sell: %v", err)
	}
	if !quote.Filled.Equal(d("2")) {
		t.Fatalf("expected 2 units filled, got %s", quote.Filled)
	}
	if !quote.NewSupply.IsZero() {
		t.Fatalf("expected supply to drain to zero, got %s", quote.NewSupply)
	}
	if !quote.PriceImpactPct.Equal(d("60")) {
		t.Fatalf("expected 60%% impact, got %s", quote.PriceImpactPct)
	}
}

func TestQuoteSellNetsFees(t *testing.T) {
	engine := mustEngine(t, smallConfig())
	quote, err := engine.QuoteSell(d("2"), d("2"))
	if err != nil {
		t.Fatalf("quote sell: %v", err)
	}
	// avg of price(0)=0.001 and price(2)=0.0012 over two units.
	if !quote.TradeValue.Equal(d("0.0022")) {
		t.Fatalf("unexpected trade value: %s", quote.TradeValue)
	}
	if !quote.TotalCost.Equal(d("0.002035")) {
		t.Fatalf("unexpected seller proceeds: %s", quote.TotalCost)
	}
}

func TestBuySellSymmetryWithoutFees(t *testing.T) {
	cfg := smallConfig()
	cfg.CreatorFeeBps = 0
	cfg.ProtocolFeeBps = 0
	engine := mustEngine(t, cfg)

	pairs := []struct{ supply, amount string }{
		{"0", "1"},
		{"10", "7"},
		{"123.4", "55"},
		{"990", "10"},
	}
	for _, p := range pairs {
		supply, amount := d(p.supply), d(p.amount)
		buy, err := engine.QuoteBuy(supply, amount)
		if err != nil {
			t.Fatalf("quote buy %s+%s: %v", p.supply, p.amount, err)
		}
		sell, err := engine.QuoteSell(supply.Add(amount), amount)
		if err != nil {
			t.Fatalf("quote sell %s-%s: %v", p.supply, p.amount, err)
		}
		if !buy.ExecutionPrice.Equal(sell.ExecutionPrice) {
			t.Fatalf("execution price asymmetric at supply %s amount %s: buy %s sell %s",
				p.supply, p.amount, buy.ExecutionPrice, sell.ExecutionPrice)
		}
		if !buy.TotalCost.Equal(sell.TotalCost) {
			t.Fatalf("fee-free totals asymmetric: buy %s sell %s", buy.TotalCost, sell.TotalCost)
		}
	}
}

func TestFeeConservation(t *testing.T) {
	engine := mustEngine(t, platformConfig())
	pairs := []struct{ supply, amount string }{
		{"0", "1"},
		{"5", "0.1"},
		{"1234.567", "89.01"},
		{"999999", "500"},
	}
	for _, p := range pairs {
		buy, err := engine.QuoteBuy(d(p.supply), d(p.amount))
		if err != nil {
			t.Fatalf("quote buy %s+%s: %v", p.supply, p.amount, err)
		}
		wantBuy := buy.TradeValue.Add(buy.CreatorFee).Add(buy.ProtocolFee)
		if !buy.TotalCost.Equal(wantBuy) {
			t.Fatalf("buy total %s does not equal value plus fees %s", buy.TotalCost, wantBuy)
		}
		sellSupply := d(p.supply).Add(d(p.amount))
		sell, err := engine.QuoteSell(sellSupply, d(p.amount))
		if err != nil {
			t.Fatalf("quote sell %s-%s: %v", sellSupply, p.amount, err)
		}
		wantSell := sell.TradeValue.Sub(sell.CreatorFee).Sub(sell.ProtocolFee)
		if !sell.TotalCost.Equal(wantSell) {
			t.Fatalf("sell total %s does not equal value minus fees %s", sell.TotalCost, wantSell)
		}
	}
}

func TestReadOnlyCallsIdempotent(t *testing.T) {
	engine := mustEngine(t, platformConfig())
	supply := d("42.5")
	first := engine.SpotPrice(supply)
	second := engine.SpotPrice(supply)
	if first.String() != second.String() {
		t.Fatalf("spot price drifted between calls: %s then %s", first, second)
	}
	capFirst := engine.MarketCap(supply)
	capSecond := engine.MarketCap(supply)
	if capFirst.String() != capSecond.String() {
		t.Fatalf("market cap drifted between calls: %s then %s", capFirst, capSecond)
	}
}

func TestMarketCapFloorsAtZero(t *testing.T) {
	engine := mustEngine(t, smallConfig())
	if got := engine.MarketCap(d("-3")); !got.IsZero() {
		t.Fatalf("negative supply market cap should be zero, got %s", got)
	}
	want := engine.SpotPrice(d("10")).Mul(d("10"))
	if got := engine.MarketCap(d("10")); !got.Equal(want) {
		t.Fatalf("unexpected market cap: got %s want %s", got, want)
	}
}

func TestImpactSentinelOnFailure(t *testing.T) {
	engine := mustEngine(t, smallConfig())
	if got := engine.Impact(d("-1"), d("1"), true); !got.Equal(hundred) {
		t.Fatalf("invalid supply should report 100, got %s", got)
	}
	if got := engine.Impact(d("10"), decimal.Zero, true); !got.Equal(hundred) {
		t.Fatalf("invalid amount should report 100, got %s", got)
	}
	if got := engine.Impact(d("1000"), d("1"), true); !got.Equal(hundred) {
		t.Fatalf("exhausted supply should report 100, got %s", got)
	}
	if got := engine.Impact(decimal.Zero, d("1"), false); !got.Equal(hundred) {
		t.Fatalf("empty-curve sell should report 100, got %s", got)
	}
	if got := engine.Impact(d("998"), d("5"), true); !got.Equal(d("60")) {
		t.Fatalf("partial fill should report its real impact, got %s", got)
	}
}

func TestMaxSizeForImpact(t *testing.T) {
	engine := mustEngine(t, smallConfig())

	if got := engine.MaxSizeForImpact(d("1000"), d("10"), true); !got.IsZero() {
		t.Fatalf("no buy headroom should return zero, got %s", got)
	}
	if got := engine.MaxSizeForImpact(decimal.Zero, d("10"), false); !got.IsZero() {
		t.Fatalf("no sell headroom should return zero, got %s", got)
	}
	if got := engine.MaxSizeForImpact(d("999.95"), d("10"), true); !got.Equal(minSize) {
		t.Fatalf("sub-minimum headroom should floor at %s, got %s", minSize, got)
	}
	if got := engine.MaxSizeForImpact(d("990"), decimal.Zero, true); !got.Equal(d("10")) {
		t.Fatalf("full headroom fills without impact, got %s", got)
	}
	if got := engine.MaxSizeForImpact(d("5"), decimal.Zero, false); !got.Equal(d("5")) {
		t.Fatalf("selling the whole holding fills without impact, got %s", got)
	}
}
