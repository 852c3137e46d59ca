package logging

import (
	"log/slog"
	"sort"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestMaskField(t *testing.T) {
	masked := MaskField("account", "0xfeed1234")
	if masked.Value.String() != RedactedValue {
		t.Fatalf("expected account to be masked, got %q", masked.Value.String())
	}
	plain := MaskField("subject", "0xfeed1234")
	if plain.Value.String() != "0xfeed1234" {
		t.Fatalf("expected subject to pass through, got %q", plain.Value.String())
	}
	empty := MaskField("account", "  ")
	if empty.Value.String() != "  " {
		t.Fatalf("expected empty value to pass through, got %q", empty.Value.String())
	}
}

func TestMaskValue(t *testing.T) {
	if got := MaskValue("secret"); got != RedactedValue {
		t.Fatalf("expected placeholder, got %q", got)
	}
	if got := MaskValue(""); got != "" {
		t.Fatalf("expected empty passthrough, got %q", got)
	}
}

func TestRedactionAllowlist(t *testing.T) {
	keys := RedactionAllowlist()
	if !sort.StringsAreSorted(keys) {
		t.Fatalf("allowlist not sorted: %v", keys)
	}
	for _, sensitive := range []string{"account", "referrer", "amount"} {
		if IsAllowlisted(sensitive) {
			t.Fatalf("%s should not be allowlisted", sensitive)
		}
	}
	if !IsAllowlisted("Trade_ID") {
		t.Fatal("allowlist lookup should be case-insensitive")
	}
}
