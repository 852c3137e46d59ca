// Package market settles key trades against a supply store. The pricing
// itself lives in the curve package; this engine owns the read-quote-commit
// cycle, fee routing, holder balances and the aggregates the display layer
// reads.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"keymarket/curve"
	"keymarket/events"
	"keymarket/observability"
	"keymarket/observability/logging"
)

var (
	// ErrNotConfigured indicates the engine has no store wired.
	ErrNotConfigured = errors.New("market engine: store not configured")
	// ErrInvalidSubject indicates a missing subject identifier.
	ErrInvalidSubject = errors.New("market engine: subject required")
	// ErrInvalidAccount indicates a missing trader or creator account.
	ErrInvalidAccount = errors.New("market engine: account required")
	// ErrUnknownSubject indicates the subject has no key market yet.
	ErrUnknownSubject = errors.New("market engine: unknown subject")
	// ErrSubjectExists indicates a duplicate key-market registration.
	ErrSubjectExists = errors.New("market engine: subject already exists")
	// ErrInsufficientKeys indicates a sell larger than the seller's holding.
	ErrInsufficientKeys = errors.New("market engine: insufficient keys held")
	// ErrTradeTooLarge indicates a settlement above the per-trade cap.
	ErrTradeTooLarge = errors.New("market engine: amount exceeds trade cap")
	// ErrVersionConflict indicates an optimistic commit lost the race
	// against a concurrent settlement for the same subject.
	ErrVersionConflict = errors.New("market: version conflict")
)

// DefaultCommitRetries bounds how often a settlement re-reads and retries
// after losing an optimistic commit race.
const DefaultCommitRetries = 3

// Store is the supply repository behind the engine: reads return the
// authoritative per-subject state, commits succeed only when the caller's
// expected version still matches. Implementations must never alias
// returned state with stored state.
type Store interface {
	KeyGet(ctx context.Context, subject string) (*KeyState, bool, error)
	KeyPut(ctx context.Context, state *KeyState, expectedVersion uint64) error
	Totals(ctx context.Context) (PlatformTotals, error)
}

// Engine coordinates quoting and settlement for every subject. It is safe
// for concurrent use; per-subject serialisation comes from the store's
// version check, not from locks held here.
type Engine struct {
	store   Store
	params  Params
	emitter events.Emitter
	clock   func() time.Time
	metrics *observability.MarketMetrics
	tracer  trace.Tracer
}

// NewEngine validates params and wires settlement against the store.
func NewEngine(store Store, params Params) (*Engine, error) {
	if store == nil {
		return nil, ErrNotConfigured
	}
	if err := params.DefaultCurve.Validate(); err != nil {
		return nil, err
	}
	if params.ReferrerShareBps < 0 || params.ReferrerShareBps > curve.MaxProtocolFeeBps {
		return nil, fmt.Errorf("market engine: referrer share must be between 0 and %d bps", curve.MaxProtocolFeeBps)
	}
	if params.MaxTradeAmount.Sign() < 0 {
		return nil, errors.New("market engine: max trade amount must not be negative")
	}
	if params.CommitRetries <= 0 {
		params.CommitRetries = DefaultCommitRetries
	}
	return &Engine{
		store:   store,
		params:  params,
		emitter: events.NoopEmitter{},
		clock:   time.Now,
		metrics: observability.Market(),
		tracer:  otel.Tracer("keymarket/market"),
	}, nil
}

// DefaultParams returns the platform launch parameters: the shared curve
// every new subject starts on, the ten-key per-trade cap, and the default
// referrer share.
func DefaultParams() Params {
	return Params{
		DefaultCurve: curve.Config{
			BasePrice:      decimal.RequireFromString("0.001"),
			PriceIncrement: decimal.RequireFromString("0.0001"),
			MaxSupply:      decimal.NewFromInt(1_000_000),
			CreatorFeeBps:  500,
			ProtocolFeeBps: 250,
		},
		MaxTradeAmount:   decimal.NewFromInt(10),
		ReferrerShareBps: DefaultReferrerShareBps,
		CommitRetries:    DefaultCommitRetries,
	}
}

// SetEmitter configures the event sink used after settlements.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetClock overrides the time source for deterministic testing.
func (e *Engine) SetClock(clock func() time.Time) {
	if clock == nil {
		e.clock = time.Now
		return
	}
	e.clock = clock
}

// Params returns the engine's settlement parameters.
func (e *Engine) Params() Params { return e.params }

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

func (e *Engine) emit(ctx context.Context, evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(ctx, evt)
}

// CreateKeys opens a subject's key market on the platform default curve.
func (e *Engine) CreateKeys(ctx context.Context, subject, creator string) (*KeyState, error) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "market.create_keys",
		trace.WithAttributes(attribute.String("subject", strings.TrimSpace(subject))))
	defer span.End()
	state, err := e.createKeys(ctx, subject, creator)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.Observe("create", e.now().Sub(start), err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "keys created")
	e.metrics.Observe("create", e.now().Sub(start), nil)
	return state, nil
}

func (e *Engine) createKeys(ctx context.Context, subject, creator string) (*KeyState, error) {
	subject = strings.TrimSpace(subject)
	creator = strings.TrimSpace(creator)
	if subject == "" {
		return nil, ErrInvalidSubject
	}
	if creator == "" {
		return nil, ErrInvalidAccount
	}
	if e.store == nil {
		return nil, ErrNotConfigured
	}
	if _, ok, err := e.store.KeyGet(ctx, subject); err != nil {
		return nil, fmt.Errorf("load subject %s: %w", subject, err)
	} else if ok {
		return nil, ErrSubjectExists
	}
	now := e.now().Unix()
	state := &KeyState{
		Subject:   subject,
		Creator:   creator,
		Curve:     e.params.DefaultCurve,
		Supply:    decimal.Zero,
		Holdings:  make(map[string]decimal.Decimal),
		CreatedAt: now,
	}
	if err := e.store.KeyPut(ctx, state, 0); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, ErrSubjectExists
		}
		return nil, fmt.Errorf("create subject %s: %w", subject, err)
	}
	e.emit(ctx, KeysCreated{Subject: subject, Creator: creator, CreatedAt: now}.Event())
	slog.InfoContext(ctx, "key market opened", "subject", subject, "creator", creator)
	return state.Clone(), nil
}

// QuoteBuy prices a hypothetical purchase at the subject's current supply
// without touching state.
func (e *Engine) QuoteBuy(ctx context.Context, subject string, amount decimal.Decimal) (curve.Quote, error) {
	return e.quoteOp(ctx, SideBuy, subject, amount)
}

// QuoteSell prices a hypothetical sale at the subject's current supply
// without touching state.
func (e *Engine) QuoteSell(ctx context.Context, subject string, amount decimal.Decimal) (curve.Quote, error) {
	return e.quoteOp(ctx, SideSell, subject, amount)
}

func (e *Engine) quoteOp(ctx context.Context, side Side, subject string, amount decimal.Decimal) (curve.Quote, error) {
	op := "quote_" + string(side)
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "market."+op,
		trace.WithAttributes(attribute.String("subject", strings.TrimSpace(subject))))
	defer span.End()
	state, engine, err := e.resolve(ctx, subject)
	var quote curve.Quote
	if err == nil {
		if side == SideBuy {
			quote, err = engine.QuoteBuy(state.Supply, amount)
		} else {
			quote, err = engine.QuoteSell(state.Supply, amount)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.Observe(op, e.now().Sub(start), err)
		return curve.Quote{}, err
	}
	span.SetStatus(codes.Ok, "quote ready")
	e.metrics.Observe(op, e.now().Sub(start), nil)
	return quote, nil
}

// MaxTradeSize returns the largest size a trader can move in one trade
// while staying at or under maxImpactPct, additionally bounded by the
// per-trade cap when one is configured.
func (e *Engine) MaxTradeSize(ctx context.Context, subject string, maxImpactPct decimal.Decimal, isBuy bool) (decimal.Decimal, error) {
	start := e.now()
	state, engine, err := e.resolve(ctx, subject)
	if err != nil {
		e.metrics.Observe("max_size", e.now().Sub(start), err)
		return decimal.Zero, err
	}
	size := engine.MaxSizeForImpact(state.Supply, maxImpactPct, isBuy)
	if limit := e.params.MaxTradeAmount; limit.Sign() > 0 && size.GreaterThan(limit) {
		size = limit
	}
	e.metrics.Observe("max_size", e.now().Sub(start), nil)
	return size, nil
}

// ExecuteBuy settles a purchase: quote at the current supply, credit the
// buyer's holding with the filled amount, route fees, and commit under the
// version the state was read at. Lost commit races retry from the read.
func (e *Engine) ExecuteBuy(ctx context.Context, subject, buyer string, amount decimal.Decimal, referrer string) (*TradeReceipt, error) {
	return e.executeOp(ctx, SideBuy, subject, buyer, amount, referrer)
}

// ExecuteSell settles a sale symmetric to ExecuteBuy. The requested amount
// must not exceed the seller's holding; the curve floor still governs the
// filled amount when state disagrees with the holdings map.
func (e *Engine) ExecuteSell(ctx context.Context, subject, seller string, amount decimal.Decimal, referrer string) (*TradeReceipt, error) {
	return e.executeOp(ctx, SideSell, subject, seller, amount, referrer)
}

func (e *Engine) executeOp(ctx context.Context, side Side, subject, account string, amount decimal.Decimal, referrer string) (*TradeReceipt, error) {
	op := string(side)
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "market.execute_"+op,
		trace.WithAttributes(attribute.String("subject", strings.TrimSpace(subject))))
	defer span.End()
	receipt, err := e.settle(ctx, side, subject, account, amount, referrer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.Observe(op, e.now().Sub(start), err)
		return nil, err
	}
	span.SetAttributes(attribute.String("trade.id", receipt.TradeID))
	span.SetStatus(codes.Ok, "trade settled")
	e.metrics.Observe(op, e.now().Sub(start), nil)
	return receipt, nil
}

func (e *Engine) settle(ctx context.Context, side Side, subject, account string, amount decimal.Decimal, referrer string) (*TradeReceipt, error) {
	subject = strings.TrimSpace(subject)
	account = strings.TrimSpace(account)
	referrer = strings.TrimSpace(referrer)
	if subject == "" {
		return nil, ErrInvalidSubject
	}
	if account == "" {
		return nil, ErrInvalidAccount
	}
	if e.store == nil {
		return nil, ErrNotConfigured
	}
	if limit := e.params.MaxTradeAmount; limit.Sign() > 0 && amount.GreaterThan(limit) {
		return nil, ErrTradeTooLarge
	}
	attempts := e.params.CommitRetries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		state, engine, err := e.resolve(ctx, subject)
		if err != nil {
			return nil, err
		}
		var quote curve.Quote
		if side == SideBuy {
			quote, err = engine.QuoteBuy(state.Supply, amount)
		} else {
			if state.Holding(account).LessThan(amount) {
				return nil, ErrInsufficientKeys
			}
			quote, err = engine.QuoteSell(state.Supply, amount)
		}
		if err != nil {
			return nil, err
		}
		referrerFee := decimal.Zero
		if referrer != "" && referrer != account {
			referrerFee = ReferrerCut(quote, e.params.ReferrerShareBps)
		}
		at := e.now().Unix()
		applyTrade(state, side, account, quote, referrerFee, at)
		if err := e.store.KeyPut(ctx, state, state.Version); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return nil, fmt.Errorf("commit subject %s: %w", subject, err)
		}
		receipt := &TradeReceipt{
			TradeID:     uuid.NewString(),
			Subject:     subject,
			Account:     account,
			Side:        side,
			Requested:   amount,
			Quote:       quote,
			Referrer:    referrer,
			ReferrerFee: referrerFee,
			ExecutedAt:  at,
		}
		e.emit(ctx, KeysTraded{
			TradeID:     receipt.TradeID,
			Subject:     subject,
			Account:     account,
			Referrer:    referrer,
			Side:        side,
			Requested:   amount,
			Filled:      quote.Filled,
			TradeValue:  quote.TradeValue,
			CreatorFee:  quote.CreatorFee,
			ProtocolFee: quote.ProtocolFee,
			ReferrerFee: referrerFee,
			TotalCost:   quote.TotalCost,
			NewSupply:   quote.NewSupply,
			ExecutedAt:  at,
		}.Event())
		slog.InfoContext(ctx, "trade settled",
			slog.String("subject", subject),
			slog.String("side", string(side)),
			slog.String("filled", quote.Filled.String()),
			slog.String("trade_id", receipt.TradeID),
			logging.MaskField("account", account),
		)
		return receipt, nil
	}
	return nil, ErrVersionConflict
}

// applyTrade folds a settled quote into the subject state. Sellers whose
// balance drains to zero leave the holdings map so holder counts stay
// honest.
func applyTrade(state *KeyState, side Side, account string, quote curve.Quote, referrerFee decimal.Decimal, at int64) {
	if state.Holdings == nil {
		state.Holdings = make(map[string]decimal.Decimal)
	}
	if side == SideBuy {
		state.Holdings[account] = state.Holding(account).Add(quote.Filled)
		state.BuyVolume = state.BuyVolume.Add(quote.TradeValue)
	} else {
		remaining := state.Holding(account).Sub(quote.Filled)
		if remaining.Sign() > 0 {
			state.Holdings[account] = remaining
		} else {
			delete(state.Holdings, account)
		}
		state.SellVolume = state.SellVolume.Add(quote.TradeValue)
	}
	state.Supply = quote.NewSupply
	state.TotalVolume = state.TotalVolume.Add(quote.TradeValue)
	state.CreatorEarnings = state.CreatorEarnings.Add(quote.CreatorFee)
	state.ProtocolRevenue = state.ProtocolRevenue.Add(quote.ProtocolFee.Sub(referrerFee))
	state.ReferrerPayouts = state.ReferrerPayouts.Add(referrerFee)
	state.TradeCount++
	state.LastTradeAt = at
}

// Metrics builds the display snapshot for one subject. Liquidity is what
// the whole supply would fetch sold back through the curve before fees.
func (e *Engine) Metrics(ctx context.Context, subject string) (*KeyMetrics, error) {
	start := e.now()
	state, engine, err := e.resolve(ctx, subject)
	if err != nil {
		e.metrics.Observe("metrics", e.now().Sub(start), err)
		return nil, err
	}
	marketCap := engine.MarketCap(state.Supply)
	liquidity := decimal.Zero
	if state.Supply.Sign() > 0 {
		if q, qErr := engine.QuoteSell(state.Supply, state.Supply); qErr == nil {
			liquidity = q.TradeValue
		}
	}
	holders := state.HolderCount()
	snapshot := &KeyMetrics{
		Subject:              state.Subject,
		CurrentPrice:         clampPositive(engine.SpotPrice(state.Supply)),
		MarketCap:            clampPositive(marketCap),
		Liquidity:            clampPositive(liquidity),
		TotalVolume:          clampPositive(state.TotalVolume),
		BuyVolume:            clampPositive(state.BuyVolume),
		SellVolume:           clampPositive(state.SellVolume),
		Holders:              holders,
		Supply:               clampPositive(state.Supply),
		MaxSupply:            state.Curve.MaxSupply,
		CreatorEarnings:      clampPositive(state.CreatorEarnings),
		CreatorLifetimeValue: clampPositive(CreatorLifetimeValue(marketCap, state.TotalVolume, state.Curve.CreatorFeeBps)),
		EffectiveCreatorBps:  DiscountedFeeBps(state.Curve.CreatorFeeBps, state.TotalVolume, holders),
		EffectiveProtocolBps: DiscountedFeeBps(state.Curve.ProtocolFeeBps, state.TotalVolume, holders),
		CreatedAt:            state.CreatedAt,
		LastTradeAt:          state.LastTradeAt,
	}
	e.metrics.Observe("metrics", e.now().Sub(start), nil)
	return snapshot, nil
}

// HasAccess reports whether the account holds at least one fraction of the
// subject's key. Content and chat gates consume this.
func (e *Engine) HasAccess(ctx context.Context, subject, account string) (bool, error) {
	start := e.now()
	account = strings.TrimSpace(account)
	if account == "" {
		e.metrics.Observe("access", e.now().Sub(start), ErrInvalidAccount)
		return false, ErrInvalidAccount
	}
	state, _, err := e.resolve(ctx, subject)
	if err != nil {
		e.metrics.Observe("access", e.now().Sub(start), err)
		return false, err
	}
	e.metrics.Observe("access", e.now().Sub(start), nil)
	return state.Holding(account).Sign() > 0, nil
}

// Status aggregates platform totals across every subject.
func (e *Engine) Status(ctx context.Context) (PlatformTotals, error) {
	start := e.now()
	if e.store == nil {
		e.metrics.Observe("status", e.now().Sub(start), ErrNotConfigured)
		return PlatformTotals{}, ErrNotConfigured
	}
	totals, err := e.store.Totals(ctx)
	if err != nil {
		e.metrics.Observe("status", e.now().Sub(start), err)
		return PlatformTotals{}, fmt.Errorf("load platform totals: %w", err)
	}
	e.metrics.Observe("status", e.now().Sub(start), nil)
	return totals, nil
}

// resolve loads a subject's state and builds the curve engine for its
// config snapshot. Returned state is the store's clone and safe to mutate.
func (e *Engine) resolve(ctx context.Context, subject string) (*KeyState, *curve.Engine, error) {
	trimmed := strings.TrimSpace(subject)
	if trimmed == "" {
		return nil, nil, ErrInvalidSubject
	}
	if e.store == nil {
		return nil, nil, ErrNotConfigured
	}
	state, ok, err := e.store.KeyGet(ctx, trimmed)
	if err != nil {
		return nil, nil, fmt.Errorf("load subject %s: %w", trimmed, err)
	}
	if !ok {
		return nil, nil, ErrUnknownSubject
	}
	engine, err := curve.NewEngine(state.Curve)
	if err != nil {
		return nil, nil, fmt.Errorf("subject %s curve: %w", trimmed, err)
	}
	return state, engine, nil
}

func clampPositive(v decimal.Decimal) decimal.Decimal {
	if v.Sign() < 0 {
		return decimal.Zero
	}
	return v
}
