// Package postgres provides the shared-database market.Store used when
// several daemon instances settle against one ledger. The per-row version
// column carries the same optimistic-concurrency contract as the SQLite
// store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"keymarket/market"
)

// Store provides Postgres persistence for key-market state.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database and ensures the schema exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS keys (
	subject TEXT PRIMARY KEY,
	creator TEXT NOT NULL,
	base_price NUMERIC NOT NULL,
	price_increment NUMERIC NOT NULL,
	max_supply NUMERIC NOT NULL,
	creator_fee_bps BIGINT NOT NULL,
	protocol_fee_bps BIGINT NOT NULL,
	supply NUMERIC NOT NULL,
	total_volume NUMERIC NOT NULL,
	buy_volume NUMERIC NOT NULL,
	sell_volume NUMERIC NOT NULL,
	creator_earnings NUMERIC NOT NULL,
	protocol_revenue NUMERIC NOT NULL,
	referrer_payouts NUMERIC NOT NULL,
	trade_count BIGINT NOT NULL,
	created_at BIGINT NOT NULL,
	last_trade_at BIGINT NOT NULL,
	version BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS holdings (
	subject TEXT NOT NULL REFERENCES keys(subject) ON DELETE CASCADE,
	account TEXT NOT NULL,
	amount NUMERIC NOT NULL,
	PRIMARY KEY (subject, account)
);
CREATE INDEX IF NOT EXISTS idx_holdings_account ON holdings(account);
`

// KeyGet loads the state for one subject, reporting false when absent.
func (s *Store) KeyGet(ctx context.Context, subject string) (*market.KeyState, bool, error) {
	if s == nil || s.pool == nil {
		return nil, false, fmt.Errorf("storage not configured")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, false, fmt.Errorf("subject required")
	}
	row := s.pool.QueryRow(ctx, `
		SELECT subject, creator, base_price::text, price_increment::text, max_supply::text,
		       creator_fee_bps, protocol_fee_bps, supply::text, total_volume::text,
		       buy_volume::text, sell_volume::text, creator_earnings::text,
		       protocol_revenue::text, referrer_payouts::text,
		       trade_count, created_at, last_trade_at, version
		FROM keys
		WHERE subject = $1
	`, subject)
	var (
		state                      market.KeyState
		basePrice, priceIncrement  string
		maxSupply, supply          string
		totalVolume, buyVolume     string
		sellVolume, creatorEarn    string
		protocolRev, referrerPayts string
		tradeCount, version        int64
	)
	if err := row.Scan(&state.Subject, &state.Creator, &basePrice, &priceIncrement, &maxSupply,
		&state.Curve.CreatorFeeBps, &state.Curve.ProtocolFeeBps, &supply, &totalVolume,
		&buyVolume, &sellVolume, &creatorEarn, &protocolRev, &referrerPayts,
		&tradeCount, &state.CreatedAt, &state.LastTradeAt, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("scan key state: %w", err)
	}
	state.TradeCount = uint64(tradeCount)
	state.Version = uint64(version)
	fields := []struct {
		name  string
		raw   string
		value *decimal.Decimal
	}{
		{"base price", basePrice, &state.Curve.BasePrice},
		{"price increment", priceIncrement, &state.Curve.PriceIncrement},
		{"max supply", maxSupply, &state.Curve.MaxSupply},
		{"supply", supply, &state.Supply},
		{"total volume", totalVolume, &state.TotalVolume},
		{"buy volume", buyVolume, &state.BuyVolume},
		{"sell volume", sellVolume, &state.SellVolume},
		{"creator earnings", creatorEarn, &state.CreatorEarnings},
		{"protocol revenue", protocolRev, &state.ProtocolRevenue},
		{"referrer payouts", referrerPayts, &state.ReferrerPayouts},
	}
	for _, field := range fields {
		parsed, err := decimal.NewFromString(strings.TrimSpace(field.raw))
		if err != nil {
			return nil, false, fmt.Errorf("parse %s %q: %w", field.name, field.raw, err)
		}
		*field.value = parsed
	}
	rows, err := s.pool.Query(ctx, `
		SELECT account, amount::text
		FROM holdings
		WHERE subject = $1
	`, subject)
	if err != nil {
		return nil, false, fmt.Errorf("query holdings: %w", err)
	}
	defer rows.Close()
	state.Holdings = make(map[string]decimal.Decimal)
	for rows.Next() {
		var account, amount string
		if err := rows.Scan(&account, &amount); err != nil {
			return nil, false, fmt.Errorf("scan holding: %w", err)
		}
		held, err := decimal.NewFromString(strings.TrimSpace(amount))
		if err != nil {
			return nil, false, fmt.Errorf("parse holding amount %q: %w", amount, err)
		}
		state.Holdings[account] = held
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate holdings: %w", err)
	}
	return &state, true, nil
}

// KeyPut commits the state under optimistic concurrency, persisting it at
// expectedVersion+1. A zero expectedVersion inserts. Holdings are
// rewritten in the same transaction.
func (s *Store) KeyPut(ctx context.Context, state *market.KeyState, expectedVersion uint64) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("storage not configured")
	}
	if state == nil {
		return fmt.Errorf("state required")
	}
	subject := strings.TrimSpace(state.Subject)
	if subject == "" {
		return fmt.Errorf("subject required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	newVersion := int64(expectedVersion + 1)
	if expectedVersion == 0 {
		tag, err := tx.Exec(ctx, `
			INSERT INTO keys (
				subject, creator, base_price, price_increment, max_supply,
				creator_fee_bps, protocol_fee_bps, supply, total_volume, buy_volume,
				sell_volume, creator_earnings, protocol_revenue, referrer_payouts,
				trade_count, created_at, last_trade_at, version
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
			ON CONFLICT (subject) DO NOTHING
		`, subject, strings.TrimSpace(state.Creator),
			state.Curve.BasePrice.String(), state.Curve.PriceIncrement.String(),
			state.Curve.MaxSupply.String(), state.Curve.CreatorFeeBps, state.Curve.ProtocolFeeBps,
			state.Supply.String(), state.TotalVolume.String(), state.BuyVolume.String(),
			state.SellVolume.String(), state.CreatorEarnings.String(), state.ProtocolRevenue.String(),
			state.ReferrerPayouts.String(), int64(state.TradeCount), state.CreatedAt, state.LastTradeAt, newVersion)
		if err != nil {
			return fmt.Errorf("insert key state: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return market.ErrVersionConflict
		}
	} else {
		tag, err := tx.Exec(ctx, `
			UPDATE keys SET
				creator = $1, base_price = $2, price_increment = $3, max_supply = $4,
				creator_fee_bps = $5, protocol_fee_bps = $6, supply = $7, total_volume = $8,
				buy_volume = $9, sell_volume = $10, creator_earnings = $11,
				protocol_revenue = $12, referrer_payouts = $13, trade_count = $14,
				created_at = $15, last_trade_at = $16, version = $17
			WHERE subject = $18 AND version = $19
		`, strings.TrimSpace(state.Creator),
			state.Curve.BasePrice.String(), state.Curve.PriceIncrement.String(),
			state.Curve.MaxSupply.String(), state.Curve.CreatorFeeBps, state.Curve.ProtocolFeeBps,
			state.Supply.String(), state.TotalVolume.String(), state.BuyVolume.String(),
			state.SellVolume.String(), state.CreatorEarnings.String(), state.ProtocolRevenue.String(),
			state.ReferrerPayouts.String(), int64(state.TradeCount), state.CreatedAt, state.LastTradeAt,
			newVersion, subject, int64(expectedVersion))
		if err != nil {
			return fmt.Errorf("update key state: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return market.ErrVersionConflict
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM holdings WHERE subject = $1`, subject); err != nil {
		return fmt.Errorf("clear holdings: %w", err)
	}
	batch := &pgx.Batch{}
	queued := 0
	for account, amount := range state.Holdings {
		if amount.Sign() <= 0 {
			continue
		}
		batch.Queue(`
			INSERT INTO holdings (subject, account, amount)
			VALUES ($1, $2, $3)
		`, subject, account, amount.String())
		queued++
	}
	if queued > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < queued; i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("write holding: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("flush holdings: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit key state: %w", err)
	}
	return nil
}

// Totals aggregates platform activity across every subject.
func (s *Store) Totals(ctx context.Context) (market.PlatformTotals, error) {
	totals := market.PlatformTotals{}
	if s == nil || s.pool == nil {
		return totals, fmt.Errorf("storage not configured")
	}
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(total_volume), 0)::text,
		       COALESCE(SUM(creator_earnings + protocol_revenue + referrer_payouts), 0)::text,
		       COALESCE(SUM(trade_count), 0)
		FROM keys
	`)
	var volume, fees string
	var trades int64
	if err := row.Scan(&totals.Subjects, &volume, &fees, &trades); err != nil {
		return totals, fmt.Errorf("scan totals: %w", err)
	}
	parsedVolume, err := decimal.NewFromString(strings.TrimSpace(volume))
	if err != nil {
		return totals, fmt.Errorf("parse total volume %q: %w", volume, err)
	}
	parsedFees, err := decimal.NewFromString(strings.TrimSpace(fees))
	if err != nil {
		return totals, fmt.Errorf("parse fees %q: %w", fees, err)
	}
	totals.TotalVolume = parsedVolume
	totals.FeesCollected = parsedFees
	totals.Trades = uint64(trades)
	return totals, nil
}
