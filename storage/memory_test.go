package storage

import (
	"context"
	"errors"
	"testing"

	"keymarket/market"
)

func TestMemoryVersioning(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	state := sampleState(t, "alice")
	if err := store.KeyPut(ctx, state, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.KeyPut(ctx, state, 0); !errors.Is(err, market.ErrVersionConflict) {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}
	if err := store.KeyPut(ctx, state, 3); !errors.Is(err, market.ErrVersionConflict) {
		t.Fatalf("expected conflict on stale version, got %v", err)
	}

	loaded, ok, err := store.KeyGet(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("get state: ok=%v err=%v", ok, err)
	}
	if loaded.Version != 1 {
		t.Fatalf("expected version 1, got %d", loaded.Version)
	}
	if err := store.KeyPut(ctx, loaded, loaded.Version); err != nil {
		t.Fatalf("update: %v", err)
	}
	loaded, _, err = store.KeyGet(ctx, "alice")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if loaded.Version != 2 {
		t.Fatalf("expected version 2, got %d", loaded.Version)
	}
}

func TestMemoryCloneIsolation(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	if err := store.KeyPut(ctx, sampleState(t, "alice"), 0); err != nil {
		t.Fatalf("insert: %v", err)
	}

	loaded, _, err := store.KeyGet(ctx, "alice")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	loaded.Holdings["mallory"] = dec(t, "99")
	loaded.Supply = dec(t, "999")

	fresh, _, err := store.KeyGet(ctx, "alice")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if _, ok := fresh.Holdings["mallory"]; ok {
		t.Fatal("caller mutation leaked into the store")
	}
	if !fresh.Supply.Equal(dec(t, "12.5")) {
		t.Fatalf("supply mutated in store: %s", fresh.Supply)
	}
}

func TestMemoryTotals(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	for _, subject := range []string{"alice", "bob", "carol"} {
		if err := store.KeyPut(ctx, sampleState(t, subject), 0); err != nil {
			t.Fatalf("insert %s: %v", subject, err)
		}
	}
	totals, err := store.Totals(ctx)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals.Subjects != 3 || totals.Trades != 21 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	if !totals.TotalVolume.Equal(dec(t, "1.5")) {
		t.Fatalf("volume mismatch: %s", totals.TotalVolume)
	}
}
