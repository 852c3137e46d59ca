package market

import (
	"testing"

	"github.com/shopspring/decimal"

	"keymarket/curve"
)

func TestReferrerCut(t *testing.T) {
	quote := curve.Quote{
		TradeValue:  d(t, "0.0022"),
		ProtocolFee: d(t, "0.000055"),
	}
	cases := []struct {
		name     string
		shareBps int64
		want     string
	}{
		{"standard share", 100, "0.000022"},
		{"capped by protocol fee", 300, "0.000055"},
		{"zero share", 0, "0"},
		{"negative share", -50, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ReferrerCut(quote, tc.shareBps)
			if !got.Equal(d(t, tc.want)) {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestDiscountedFeeBps(t *testing.T) {
	cases := []struct {
		name    string
		baseBps int64
		volume  string
		holders int
		want    int64
	}{
		{"no activity", 500, "0", 0, 500},
		{"volume tier", 500, "15", 0, 475},
		{"deep volume tier", 500, "150", 0, 450},
		{"holder tier", 500, "0", 150, 450},
		{"deep holder tier", 500, "0", 1500, 425},
		{"stacked tiers", 500, "150", 1500, 382},
		{"tier boundary excluded", 500, "10", 100, 500},
		{"zero base", 0, "150", 1500, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DiscountedFeeBps(tc.baseBps, d(t, tc.volume), tc.holders)
			if got != tc.want {
				t.Fatalf("expected %d bps, got %d", tc.want, got)
			}
		})
	}
}

func TestDiscountedFeeBpsNeverBelowHalf(t *testing.T) {
	volume := d(t, "1000000")
	for _, base := range []int64{1, 3, 77, 250, 500, 1000} {
		got := DiscountedFeeBps(base, volume, 100_000)
		if got < base/2 {
			t.Fatalf("base %d discounted to %d, below half", base, got)
		}
		if got > base {
			t.Fatalf("base %d inflated to %d", base, got)
		}
	}
}

func TestCreatorLifetimeValue(t *testing.T) {
	marketCap := d(t, "0.02")
	cases := []struct {
		name      string
		marketCap decimal.Decimal
		volume    string
		bps       int64
		want      string
	}{
		{"low volume", marketCap, "0.015", 500, "0.0010015"},
		{"volume factor saturates", marketCap, "50", 500, "0.002"},
		{"negative volume clamped", marketCap, "-3", 500, "0.001"},
		{"zero market cap", decimal.Zero, "50", 500, "0"},
		{"zero fee", marketCap, "50", 0, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CreatorLifetimeValue(tc.marketCap, d(t, tc.volume), tc.bps)
			if !got.Equal(d(t, tc.want)) {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
