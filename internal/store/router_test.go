package store

import "testing"

func TestRouteKeyExactPrefixMatchGoesToMain(t *testing.T) {
	cfg := DefaultRouterConfig()
	routed, sub := cfg.RouteKey("stake")
	if sub != cfg.Main {
		t.Fatalf("exact substore prefix match should route to main, got substore %+v", sub)
	}
	if routed != "stake" {
		t.Errorf("exact match routed key should be unchanged, got %q", routed)
	}
}

func TestRouteKeyDelimitedGoesToSubstore(t *testing.T) {
	cfg := DefaultRouterConfig()
	routed, sub := cfg.RouteKey("stake/validators/1")
	if sub == cfg.Main {
		t.Fatal("delimited key should not route to main")
	}
	if sub.Prefix != "stake" {
		t.Errorf("expected substore \"stake\", got %q", sub.Prefix)
	}
	if routed != "validators/1" {
		t.Errorf("routed key mismatch: got %q", routed)
	}
}

func TestRouteKeyAvoidsPrefixCollision(t *testing.T) {
	// "stakex" shares the "stake" prefix but has no delimiter, so it must
	// not be misrouted into the stake substore.
	cfg := DefaultRouterConfig()
	routed, sub := cfg.RouteKey("stakex")
	if sub != cfg.Main {
		t.Fatalf("non-delimited prefix collision must fall back to main, got %+v", sub)
	}
	if routed != "stakex" {
		t.Errorf("routed key should be unchanged, got %q", routed)
	}
}

func TestRouteKeyEmptyRestAfterDelimiterGoesToMain(t *testing.T) {
	cfg := DefaultRouterConfig()
	routed, sub := cfg.RouteKey("stake/")
	if sub != cfg.Main {
		t.Fatalf("empty rest after delimiter must fall back to main, got %+v", sub)
	}
	if routed != "stake/" {
		t.Errorf("routed key should be unchanged, got %q", routed)
	}
}

func TestRouteKeyNoMatchGoesToMain(t *testing.T) {
	cfg := DefaultRouterConfig()
	routed, sub := cfg.RouteKey("unrelated/key")
	if sub != cfg.Main {
		t.Fatalf("key with no substore prefix match must route to main, got %+v", sub)
	}
	if routed != "unrelated/key" {
		t.Errorf("routed key should be unchanged, got %q", routed)
	}
}

func TestMatchPrefixAlwaysStaysInSubstore(t *testing.T) {
	cfg := DefaultRouterConfig()
	truncated, sub := cfg.MatchPrefix("stake")
	if sub == cfg.Main {
		t.Fatal("MatchPrefix of a bare substore prefix should stay in that substore")
	}
	if truncated != "" {
		t.Errorf("truncated prefix should be empty, got %q", truncated)
	}

	truncated, sub = cfg.MatchPrefix("stake/validators")
	if sub.Prefix != "stake" {
		t.Fatalf("expected substore \"stake\", got %q", sub.Prefix)
	}
	if truncated != "validators" {
		t.Errorf("truncated prefix mismatch: got %q", truncated)
	}
}
