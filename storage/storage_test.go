package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"keymarket/curve"
	"keymarket/market"
)

func openTestDB(t *testing.T, name string) *Store {
	t.Helper()
	store, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", value, err)
	}
	return parsed
}

func sampleState(t *testing.T, subject string) *market.KeyState {
	t.Helper()
	return &market.KeyState{
		Subject: subject,
		Creator: subject,
		Curve: curve.Config{
			BasePrice:      dec(t, "0.001"),
			PriceIncrement: dec(t, "0.0001"),
			MaxSupply:      dec(t, "1000000"),
			CreatorFeeBps:  500,
			ProtocolFeeBps: 250,
		},
		Supply: dec(t, "12.5"),
		Holdings: map[string]decimal.Decimal{
			"bob":   dec(t, "10"),
			"carol": dec(t, "2.5"),
		},
		TotalVolume:     dec(t, "0.5"),
		BuyVolume:       dec(t, "0.4"),
		SellVolume:      dec(t, "0.1"),
		CreatorEarnings: dec(t, "0.02"),
		ProtocolRevenue: dec(t, "0.009"),
		ReferrerPayouts: dec(t, "0.001"),
		TradeCount:      7,
		CreatedAt:       1_700_000_000,
		LastTradeAt:     1_700_000_500,
	}
}

func TestKeyStateRoundTrip(t *testing.T) {
	store := openTestDB(t, "roundtrip")
	ctx := context.Background()
	state := sampleState(t, "alice")
	if err := store.KeyPut(ctx, state, 0); err != nil {
		t.Fatalf("put state: %v", err)
	}

	loaded, ok, err := store.KeyGet(ctx, "alice")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if !ok {
		t.Fatal("expected stored subject")
	}
	if loaded.Subject != "alice" || loaded.Creator != "alice" {
		t.Fatalf("identity mismatch: %+v", loaded)
	}
	if !loaded.Curve.BasePrice.Equal(state.Curve.BasePrice) ||
		!loaded.Curve.PriceIncrement.Equal(state.Curve.PriceIncrement) ||
		!loaded.Curve.MaxSupply.Equal(state.Curve.MaxSupply) {
		t.Fatalf("curve mismatch: %+v", loaded.Curve)
	}
	if loaded.Curve.CreatorFeeBps != 500 || loaded.Curve.ProtocolFeeBps != 250 {
		t.Fatalf("fee bps mismatch: %+v", loaded.Curve)
	}
	if !loaded.Supply.Equal(state.Supply) {
		t.Fatalf("supply mismatch: %s", loaded.Supply)
	}
	if len(loaded.Holdings) != 2 {
		t.Fatalf("holdings count mismatch: %d", len(loaded.Holdings))
	}
	for account, amount := range state.Holdings {
		if !loaded.Holdings[account].Equal(amount) {
			t.Fatalf("holding %s mismatch: %s", account, loaded.Holdings[account])
		}
	}
	if !loaded.TotalVolume.Equal(state.TotalVolume) ||
		!loaded.BuyVolume.Equal(state.BuyVolume) ||
		!loaded.SellVolume.Equal(state.SellVolume) {
		t.Fatalf("volume mismatch: %+v", loaded)
	}
	if !loaded.CreatorEarnings.Equal(state.CreatorEarnings) ||
		!loaded.ProtocolRevenue.Equal(state.ProtocolRevenue) ||
		!loaded.ReferrerPayouts.Equal(state.ReferrerPayouts) {
		t.Fatalf("fee aggregates mismatch: %+v", loaded)
	}
	if loaded.TradeCount != 7 || loaded.CreatedAt != 1_700_000_000 || loaded.LastTradeAt != 1_700_000_500 {
		t.Fatalf("counters mismatch: %+v", loaded)
	}
	if loaded.Version != 1 {
		t.Fatalf("expected version 1 after insert, got %d", loaded.Version)
	}
}

func TestKeyGetMissing(t *testing.T) {
	store := openTestDB(t, "missing")
	_, ok, err := store.KeyGet(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if ok {
		t.Fatal("expected missing subject")
	}
}

func TestKeyPutVersioning(t *testing.T) {
	store := openTestDB(t, "versioning")
	ctx := context.Background()
	state := sampleState(t, "alice")
	if err := store.KeyPut(ctx, state, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.KeyPut(ctx, state, 0); !errors.Is(err, market.ErrVersionConflict) {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}
	if err := store.KeyPut(ctx, state, 5); !errors.Is(err, market.ErrVersionConflict) {
		t.Fatalf("expected conflict on stale version, got %v", err)
	}

	state.Supply = dec(t, "20")
	if err := store.KeyPut(ctx, state, 1); err != nil {
		t.Fatalf("update: %v", err)
	}
	loaded, ok, err := store.KeyGet(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("get state: ok=%v err=%v", ok, err)
	}
	if loaded.Version != 2 {
		t.Fatalf("expected version 2 after update, got %d", loaded.Version)
	}
	if !loaded.Supply.Equal(dec(t, "20")) {
		t.Fatalf("supply update lost: %s", loaded.Supply)
	}
}

func TestKeyPutRewritesHoldings(t *testing.T) {
	store := openTestDB(t, "holdings")
	ctx := context.Background()
	state := sampleState(t, "alice")
	if err := store.KeyPut(ctx, state, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// carol sells out, a zero balance must not linger as a row.
	delete(state.Holdings, "carol")
	state.Holdings["dave"] = decimal.Zero
	if err := store.KeyPut(ctx, state, 1); err != nil {
		t.Fatalf("update: %v", err)
	}
	loaded, ok, err := store.KeyGet(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("get state: ok=%v err=%v", ok, err)
	}
	if len(loaded.Holdings) != 1 {
		t.Fatalf("expected lone holder, got %v", loaded.Holdings)
	}
	if !loaded.Holdings["bob"].Equal(dec(t, "10")) {
		t.Fatalf("bob holding mismatch: %s", loaded.Holdings["bob"])
	}
}

func TestTotalsAggregation(t *testing.T) {
	store := openTestDB(t, "totals")
	ctx := context.Background()
	for _, subject := range []string{"alice", "bob"} {
		if err := store.KeyPut(ctx, sampleState(t, subject), 0); err != nil {
			t.Fatalf("insert %s: %v", subject, err)
		}
	}

	totals, err := store.Totals(ctx)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals.Subjects != 2 {
		t.Fatalf("subject count mismatch: %d", totals.Subjects)
	}
	if !totals.TotalVolume.Equal(dec(t, "1")) {
		t.Fatalf("volume mismatch: %s", totals.TotalVolume)
	}
	if !totals.FeesCollected.Equal(dec(t, "0.06")) {
		t.Fatalf("fees mismatch: %s", totals.FeesCollected)
	}
	if totals.Trades != 14 {
		t.Fatalf("trade count mismatch: %d", totals.Trades)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); !errors.Is(err, ErrPathRequired) {
		t.Fatalf("expected ErrPathRequired, got %v", err)
	}
}

func TestFileDSN(t *testing.T) {
	dsn, err := FileDSN("market.db")
	if err != nil {
		t.Fatalf("file dsn: %v", err)
	}
	if !strings.HasPrefix(dsn, "file:") {
		t.Fatalf("expected file scheme, got %s", dsn)
	}
	if !strings.Contains(dsn, "_journal_mode=WAL") {
		t.Fatalf("expected WAL pragma, got %s", dsn)
	}
	if _, err := FileDSN(" "); !errors.Is(err, ErrPathRequired) {
		t.Fatalf("expected ErrPathRequired, got %v", err)
	}
}
