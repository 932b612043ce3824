package store

import "strings"

// SubstoreConfig names a disjoint slice of the key space with its own
// authenticated map and version counter.
type SubstoreConfig struct {
	Prefix string
}

// RouterConfig is the Store's substore routing table, grounded on
// original_source/crates/cnidarium/src/store/multistore.rs's
// MultistoreConfig: a main (root) store plus a small, linearly-searched
// set of named substores.
type RouterConfig struct {
	Main      *SubstoreConfig
	Substores []*SubstoreConfig
}

// DefaultRouterConfig returns the canonical substore set for this
// implementation (spec_full.md §4), one per dispatch-order component.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		Main: &SubstoreConfig{Prefix: ""},
		Substores: []*SubstoreConfig{
			{Prefix: "stake"},
			{Prefix: "ibc"},
			{Prefix: "dex"},
			{Prefix: "governance"},
			{Prefix: "shielded_pool"},
		},
	}
}

func (c *RouterConfig) findSubstore(key []byte) *SubstoreConfig {
	if len(key) == 0 {
		return c.Main
	}
	for _, s := range c.Substores {
		if strings.HasPrefix(string(key), s.Prefix) {
			return s
		}
	}
	return nil
}

// RouteKey implements spec.md §3's routing rule:
//
//   - An exact match of a substore prefix routes to the root store,
//     keeping the key unchanged (that's where the substore's root lives).
//   - "prefix/rest" with nonempty rest routes to substore "prefix" with
//     key "rest".
//   - Anything else (no delimiter, empty rest after a bare prefix match,
//     or no prefix match at all) routes to the root store verbatim.
func (c *RouterConfig) RouteKey(key string) (routedKey string, substore *SubstoreConfig) {
	cfg := c.findSubstore([]byte(key))
	if cfg == nil {
		return key, c.Main
	}
	if key == cfg.Prefix {
		return key, c.Main
	}
	rest := strings.TrimPrefix(key, cfg.Prefix)
	matching, ok := strings.CutPrefix(rest, "/")
	if !ok || matching == "" {
		return key, c.Main
	}
	return matching, cfg
}

// MatchPrefix is used for prefix iteration: unlike RouteKey it never falls
// back to routing collisions into the main store — it simply strips the
// matched substore's prefix and delimiter so scans can be run per-substore.
func (c *RouterConfig) MatchPrefix(prefix string) (truncated string, substore *SubstoreConfig) {
	cfg := c.findSubstore([]byte(prefix))
	if cfg == nil {
		return prefix, c.Main
	}
	truncated = strings.TrimPrefix(prefix, cfg.Prefix)
	truncated = strings.TrimPrefix(truncated, "/")
	return truncated, cfg
}

// SubstoreRootKey is the reserved key, in the root store, under which a
// substore's per-version root is recorded (spec.md §3/§6).
func SubstoreRootKey(prefix string) string {
	return prefix
}
