// Package storage persists key-market state. The SQLite store is the
// default single-node backend; Memory backs tests and throwaway
// deployments, and the postgres subpackage serves multi-instance
// installs.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"

	"keymarket/market"
)

// Store wraps the SQLite persistence layer behind market.Store.
type Store struct {
	db *sql.DB
}

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("storage path must be configured")

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS keys (
    subject TEXT PRIMARY KEY,
    creator TEXT NOT NULL,
    base_price TEXT NOT NULL,
    price_increment TEXT NOT NULL,
    max_supply TEXT NOT NULL,
    creator_fee_bps INTEGER NOT NULL,
    protocol_fee_bps INTEGER NOT NULL,
    supply TEXT NOT NULL,
    total_volume TEXT NOT NULL,
    buy_volume TEXT NOT NULL,
    sell_volume TEXT NOT NULL,
    creator_earnings TEXT NOT NULL,
    protocol_revenue TEXT NOT NULL,
    referrer_payouts TEXT NOT NULL,
    trade_count INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    last_trade_at INTEGER NOT NULL,
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS holdings (
    subject TEXT NOT NULL,
    account TEXT NOT NULL,
    amount TEXT NOT NULL,
    PRIMARY KEY (subject, account)
);
CREATE INDEX IF NOT EXISTS idx_holdings_account ON holdings(account);
`

// KeyGet loads the state for one subject, reporting false when the
// subject has no key market yet.
func (s *Store) KeyGet(ctx context.Context, subject string) (*market.KeyState, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, fmt.Errorf("storage not configured")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, false, fmt.Errorf("subject required")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT subject, creator, base_price, price_increment, max_supply,
               creator_fee_bps, protocol_fee_bps, supply, total_volume,
               buy_volume, sell_volume, creator_earnings, protocol_revenue,
               referrer_payouts, trade_count, created_at, last_trade_at, version
        FROM keys
        WHERE subject = ?
    `, subject)
	state, err := scanKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT account, amount
        FROM holdings
        WHERE subject = ?
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
		held, err := parseDecimal("holding amount", amount)
		if err != nil {
			return nil, false, err
		}
		state.Holdings[account] = held
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate holdings: %w", err)
	}
	return state, true, nil
}

// KeyPut commits the state under optimistic concurrency: the write only
// lands when the stored version still equals expectedVersion, and the row
// is persisted at expectedVersion+1. A zero expectedVersion inserts.
// Holdings are rewritten in the same transaction so supply and balances
// never drift apart.
func (s *Store) KeyPut(ctx context.Context, state *market.KeyState, expectedVersion uint64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not configured")
	}
	if state == nil {
		return fmt.Errorf("state required")
	}
	subject := strings.TrimSpace(state.Subject)
	if subject == "" {
		return fmt.Errorf("subject required")
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current uint64
	err = tx.QueryRowContext(ctx, `SELECT version FROM keys WHERE subject = ?`, subject).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if expectedVersion != 0 {
			return market.ErrVersionConflict
		}
	case err != nil:
		return fmt.Errorf("query version: %w", err)
	default:
		if current != expectedVersion {
			return market.ErrVersionConflict
		}
	}

	newVersion := expectedVersion + 1
	if expectedVersion == 0 {
		_, err = tx.ExecContext(ctx, `
        INSERT INTO keys(subject, creator, base_price, price_increment, max_supply,
            creator_fee_bps, protocol_fee_bps, supply, total_volume, buy_volume,
            sell_volume, creator_earnings, protocol_revenue, referrer_payouts,
            trade_count, created_at, last_trade_at, version)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, subject, strings.TrimSpace(state.Creator),
			state.Curve.BasePrice.String(), state.Curve.PriceIncrement.String(),
			state.Curve.MaxSupply.String(), state.Curve.CreatorFeeBps, state.Curve.ProtocolFeeBps,
			state.Supply.String(), state.TotalVolume.String(), state.BuyVolume.String(),
			state.SellVolume.String(), state.CreatorEarnings.String(), state.ProtocolRevenue.String(),
			state.ReferrerPayouts.String(), state.TradeCount, state.CreatedAt, state.LastTradeAt, newVersion)
	} else {
		_, err = tx.ExecContext(ctx, `
        UPDATE keys SET
            creator=?, base_price=?, price_increment=?, max_supply=?,
            creator_fee_bps=?, protocol_fee_bps=?, supply=?, total_volume=?,
            buy_volume=?, sell_volume=?, creator_earnings=?, protocol_revenue=?,
            referrer_payouts=?, trade_count=?, created_at=?, last_trade_at=?, version=?
        WHERE subject = ? AND version = ?
    `, strings.TrimSpace(state.Creator),
			state.Curve.BasePrice.String(), state.Curve.PriceIncrement.String(),
			state.Curve.MaxSupply.String(), state.Curve.CreatorFeeBps, state.Curve.ProtocolFeeBps,
			state.Supply.String(), state.TotalVolume.String(), state.BuyVolume.String(),
			state.SellVolume.String(), state.CreatorEarnings.String(), state.ProtocolRevenue.String(),
			state.ReferrerPayouts.String(), state.TradeCount, state.CreatedAt, state.LastTradeAt,
			newVersion, subject, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("write key state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM holdings WHERE subject = ?`, subject); err != nil {
		return fmt.Errorf("clear holdings: %w", err)
	}
	for account, amount := range state.Holdings {
		if amount.Sign() <= 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
        INSERT INTO holdings(subject, account, amount)
        VALUES(?, ?, ?)
    `, subject, account, amount.String()); err != nil {
			return fmt.Errorf("write holding: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit key state: %w", err)
	}
	return nil
}

// Totals aggregates platform activity across every subject.
func (s *Store) Totals(ctx context.Context) (market.PlatformTotals, error) {
	totals := market.PlatformTotals{}
	if s == nil || s.db == nil {
		return totals, fmt.Errorf("storage not configured")
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT total_volume, creator_earnings, protocol_revenue, referrer_payouts, trade_count
        FROM keys
    `)
	if err != nil {
		return totals, fmt.Errorf("query totals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var volume, creator, protocol, referrer string
		var trades uint64
		if err := rows.Scan(&volume, &creator, &protocol, &referrer, &trades); err != nil {
			return totals, fmt.Errorf("scan totals: %w", err)
		}
		v, err := parseDecimal("total volume", volume)
		if err != nil {
			return totals, err
		}
		c, err := parseDecimal("creator earnings", creator)
		if err != nil {
			return totals, err
		}
		p, err := parseDecimal("protocol revenue", protocol)
		if err != nil {
			return totals, err
		}
		r, err := parseDecimal("referrer payouts", referrer)
		if err != nil {
			return totals, err
		}
		totals.Subjects++
		totals.TotalVolume = totals.TotalVolume.Add(v)
		totals.FeesCollected = totals.FeesCollected.Add(c).Add(p).Add(r)
		totals.Trades += trades
	}
	if err := rows.Err(); err != nil {
		return totals, fmt.Errorf("iterate totals: %w", err)
	}
	return totals, nil
}

func scanKey(row *sql.Row) (*market.KeyState, error) {
	var (
		state                      market.KeyState
		basePrice, priceIncrement  string
		maxSupply, supply          string
		totalVolume, buyVolume     string
		sellVolume, creatorEarn    string
		protocolRev, referrerPayts string
	)
	if err := row.Scan(&state.Subject, &state.Creator, &basePrice, &priceIncrement, &maxSupply,
		&state.Curve.CreatorFeeBps, &state.Curve.ProtocolFeeBps, &supply, &totalVolume,
		&buyVolume, &sellVolume, &creatorEarn, &protocolRev,
		&referrerPayts, &state.TradeCount, &state.CreatedAt, &state.LastTradeAt, &state.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan key state: %w", err)
	}
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
		parsed, err := parseDecimal(field.name, field.raw)
		if err != nil {
			return nil, err
		}
		*field.value = parsed
	}
	return &state, nil
}

func parseDecimal(name, raw string) (decimal.Decimal, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s %q: %w", name, raw, err)
	}
	return parsed, nil
}
