package store

import (
	"fmt"
	"sync"

	"github.com/penumbra-zone/penumbra-core/internal/store/authmap"
	"github.com/penumbra-zone/penumbra-core/internal/store/kvdb"
)

// Storage is the top-level, durable Store: the backing KV, the substore
// router, and the per-substore authenticated maps that together produce
// the application's root hash on every commit. It corresponds to
// cnidarium's Storage in original_source/crates/cnidarium/src/store/mod.rs
// and to spec.md §3's "the Store".
//
// Substore authenticated maps are rebuilt in memory from an empty state
// on construction; only the backing KV's raw key/value pairs and the
// latest committed root hash survive a restart. Reconstructing historical
// inclusion proofs for versions before the most recent restart is out of
// scope for this implementation (spec.md §1 leaves the Merkleization
// scheme's internals unspecified).
type Storage struct {
	mu     sync.Mutex
	kv     kvdb.BackingKV
	router *RouterConfig
	main   *authmap.Map
	subs   map[string]*authmap.Map
	latest *Snapshot
}

// Open constructs a Storage over an already-open backing KV, using
// router to assign keys to substores. If the backing KV already has a
// latest version greater than zero, Open recovers its raw contents and
// seeds the main authenticated map's root at that version from the
// backing KV's persisted root record, so the recovered Snapshot's Root
// matches what was last committed; every authenticated map otherwise
// starts fresh, with no leaf set behind versions before the restart.
// Callers that need durable Merkle history (historical inclusion
// proofs) across restarts must replay genesis plus every historical
// block, which is outside this package's contract.
func Open(kv kvdb.BackingKV, router *RouterConfig) (*Storage, error) {
	subs := make(map[string]*authmap.Map, len(router.Substores))
	for _, s := range router.Substores {
		subs[s.Prefix] = authmap.New()
	}
	main := authmap.New()

	latestVersion := kv.LatestVersion()
	kvSnap, err := kv.Snapshot(latestVersion)
	if err != nil {
		return nil, fatal("storage open", err)
	}

	if latestVersion > 0 {
		raw, err := kvSnap.Get(kvdb.RootKey(latestVersion))
		if err != nil {
			return nil, fatal("storage open: reading recovered root", err)
		}
		if len(raw) != 32 {
			return nil, fatal("storage open", fmt.Errorf("no root recorded for version %d", latestVersion))
		}
		var root [32]byte
		copy(root[:], raw)
		main.SeedRoot(latestVersion, root)
	}

	st := &Storage{kv: kv, router: router, main: main, subs: subs}
	st.latest = newSnapshot(latestVersion, kvSnap, router, main)
	return st, nil
}

// LatestSnapshot returns the most recently committed Snapshot.
func (st *Storage) LatestSnapshot() *Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.latest
}

// NewState opens a fresh State atop the latest Snapshot, for the next
// block's execution.
func (st *Storage) NewState() *State {
	return newState(st.LatestSnapshot())
}

// Commit folds state's staged writes into the Store, advancing the
// version by one, and returns the resulting Snapshot. It implements
// spec.md §4.7's commit contract: per-substore writes are grouped by
// RouteKey, every substore's authenticated map is committed to
// produce a subroot, every subroot is recorded in the root store under
// its substore's exact prefix key, and the root store's own commit
// produces the final app hash — mirroring original_source's
// component/src/app/mod.rs commit() / cnidarium's two-level JMT commit.
//
// Commit is serialized: only one State may be committed at a time, which
// resolves the Open Question in spec.md §9 about concurrent commits.
func (st *Storage) Commit(state *State) (*Snapshot, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	puts, dels := state.diff()
	nvPuts, nvDels := state.nonverifiableDiff()

	type pending struct {
		key   string
		value []byte
		del   bool
	}
	bySubstore := make(map[string][]pending)
	var mainWrites []pending

	route := func(key string, value []byte, isDelete bool) {
		routed, cfg := st.router.RouteKey(key)
		p := pending{key: routed, value: value, del: isDelete}
		if cfg == st.router.Main {
			mainWrites = append(mainWrites, p)
		} else {
			bySubstore[cfg.Prefix] = append(bySubstore[cfg.Prefix], p)
		}
	}
	for k, v := range puts {
		route(k, v, false)
	}
	for k := range dels {
		route(k, nil, true)
	}

	newVersion := st.kv.LatestVersion() + 1
	batch := kvdb.NewBatch()

	// Commit every substore's authenticated map first, touched or not, in the
	// fixed dispatch order, then record its subroot into the main map.
	for _, cfg := range st.router.Substores {
		writes := bySubstore[cfg.Prefix]
		m := st.subs[cfg.Prefix]
		for _, p := range writes {
			physKey := verifiablePhysicalKey(cfg.Prefix, p.key)
			if p.del {
				m.Delete(p.key)
				batch.Delete(physKey)
			} else {
				m.Put(p.key, p.value)
				batch.Put(physKey, p.value)
			}
		}
		subRoot := m.Commit(newVersion)
		mainWrites = append(mainWrites, pending{key: cfg.Prefix, value: subRoot[:]})
	}

	for _, p := range mainWrites {
		physKey := verifiablePhysicalKey(st.router.Main.Prefix, p.key)
		if p.del {
			st.main.Delete(p.key)
			batch.Delete(physKey)
		} else {
			st.main.Put(p.key, p.value)
			batch.Put(physKey, p.value)
		}
	}
	rootHash := st.main.Commit(newVersion)

	for k, v := range nvPuts {
		batch.Put(nonverifiablePhysicalKey([]byte(k)), v)
	}
	for k := range nvDels {
		batch.Delete(nonverifiablePhysicalKey([]byte(k)))
	}

	if err := st.kv.Commit(batch, newVersion, rootHash); err != nil {
		return nil, fatal("storage commit", err)
	}

	kvSnap, err := st.kv.Snapshot(newVersion)
	if err != nil {
		return nil, fatal("storage commit snapshot", err)
	}
	snap := newSnapshot(newVersion, kvSnap, st.router, st.main)
	st.latest = snap
	return snap, nil
}

// Close releases the backing KV.
func (st *Storage) Close() error {
	return st.kv.Close()
}
