package store

import (
	"fmt"

	"github.com/penumbra-zone/penumbra-core/internal/store/authmap"
	"github.com/penumbra-zone/penumbra-core/internal/store/kvdb"
)

// Snapshot is an immutable, freely shareable read-only view of the Store
// at a fixed version, per spec.md §4.3. All of its methods are infallible
// beyond I/O errors from the backing KV. Version and Root stay fixed, but
// key reads go to the backing KV's current contents (see kvdb.Snapshot),
// so values committed after this Snapshot was taken are visible through
// it.
type Snapshot struct {
	version uint64
	kv      kvdb.Snapshot
	router  *RouterConfig
	main    *authmap.Map
}

func newSnapshot(version uint64, kv kvdb.Snapshot, router *RouterConfig, main *authmap.Map) *Snapshot {
	return &Snapshot{version: version, kv: kv, router: router, main: main}
}

// Version reports the version this snapshot was taken at.
func (s *Snapshot) Version() uint64 { return s.version }

// Get returns the value for a verifiable key, or (nil, false) if absent.
func (s *Snapshot) Get(key string) ([]byte, bool, error) {
	return s.get(key)
}

func (s *Snapshot) get(key string) ([]byte, bool, error) {
	routed, cfg := s.router.RouteKey(key)
	phys := verifiablePhysicalKey(cfg.Prefix, routed)
	v, err := s.kv.Get(phys)
	if err != nil {
		return nil, false, fatal("snapshot get", err)
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// NonverifiableGet returns the value for a nonverifiable key, or (nil,
// false) if absent.
func (s *Snapshot) NonverifiableGet(key []byte) ([]byte, bool, error) {
	return s.nonverifiableGet(string(key))
}

func (s *Snapshot) nonverifiableGet(key string) ([]byte, bool, error) {
	phys := nonverifiablePhysicalKey([]byte(key))
	v, err := s.kv.Get(phys)
	if err != nil {
		return nil, false, fatal("snapshot nonverifiable get", err)
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// objectGet: a bare Snapshot has no ephemeral object scratch.
func (s *Snapshot) objectGet(key string) (any, bool) { return nil, false }

// PrefixScan returns a cursor over every verifiable key beginning with
// prefix, in strictly ascending order, restartable and stable within this
// snapshot (spec.md §4.3).
func (s *Snapshot) PrefixScan(prefix string) (Cursor, error) {
	return s.prefixScanRaw(prefix)
}

func (s *Snapshot) prefixScanRaw(prefix string) (Cursor, error) {
	truncated, cfg := s.router.MatchPrefix(prefix)
	physPrefix := verifiablePhysicalKey(cfg.Prefix, truncated)
	it, err := s.kv.Iterator(physPrefix, prefixEnd(physPrefix))
	if err != nil {
		return nil, fatal("snapshot prefix scan", err)
	}
	return &translatingCursor{
		inner:     newDBCursor(it),
		transform: verifiableKeyTranslator(cfg, physPrefix),
	}, nil
}

// PrefixKeys returns a cursor over the keys beginning with prefix. It is
// the same cursor PrefixScan returns, so Value is still populated.
func (s *Snapshot) PrefixKeys(prefix string) (Cursor, error) {
	return s.PrefixScan(prefix)
}

// RangeScan returns a cursor over every verifiable key in [start, end)
// under prefix's routing. Both bounds must be explicit, per spec.md §4.3.
func (s *Snapshot) RangeScan(prefix string, start, end []byte) (Cursor, error) {
	if start == nil || end == nil {
		return nil, ErrUnboundedRange
	}
	_, cfg := s.router.MatchPrefix(prefix)
	physStart := verifiablePhysicalKey(cfg.Prefix, string(start))
	physEnd := verifiablePhysicalKey(cfg.Prefix, string(end))
	return s.rangeScanRawFor(cfg, physStart, physEnd)
}

func (s *Snapshot) rangeScanRawFor(cfg *SubstoreConfig, physStart, physEnd []byte) (Cursor, error) {
	it, err := s.kv.Iterator(physStart, physEnd)
	if err != nil {
		return nil, fatal("snapshot range scan", err)
	}
	prefix := verifiablePhysicalKey(cfg.Prefix, "")
	return &translatingCursor{inner: newDBCursor(it), transform: verifiableKeyTranslator(cfg, prefix)}, nil
}

func (s *Snapshot) rangeScanRaw(start, end []byte) (Cursor, error) {
	it, err := s.kv.Iterator(start, end)
	if err != nil {
		return nil, fatal("snapshot range scan raw", err)
	}
	return newDBCursor(it), nil
}

// NonverifiablePrefixScan returns a cursor over nonverifiable keys
// beginning with prefix.
func (s *Snapshot) NonverifiablePrefixScan(prefix []byte) (Cursor, error) {
	return s.nonverifiablePrefixScanRaw(prefix)
}

func (s *Snapshot) nonverifiablePrefixScanRaw(prefix []byte) (Cursor, error) {
	physPrefix := nonverifiablePhysicalKey(prefix)
	it, err := s.kv.Iterator(physPrefix, prefixEnd(physPrefix))
	if err != nil {
		return nil, fatal("snapshot nonverifiable prefix scan", err)
	}
	return &translatingCursor{inner: newDBCursor(it), transform: nonverifiableKeyTranslator()}, nil
}

// NonverifiableRangeScan returns a cursor over [start, end) in the
// nonverifiable key space. Both bounds must be explicit.
func (s *Snapshot) NonverifiableRangeScan(start, end []byte) (Cursor, error) {
	if start == nil || end == nil {
		return nil, ErrUnboundedRange
	}
	return s.nonverifiableRangeScanRaw(start, end)
}

func (s *Snapshot) nonverifiableRangeScanRaw(start, end []byte) (Cursor, error) {
	physStart := nonverifiablePhysicalKey(start)
	physEnd := nonverifiablePhysicalKey(end)
	it, err := s.kv.Iterator(physStart, physEnd)
	if err != nil {
		return nil, fatal("snapshot nonverifiable range scan", err)
	}
	return &translatingCursor{inner: newDBCursor(it), transform: nonverifiableKeyTranslator()}, nil
}

// Root returns the root store's root hash at this snapshot's version —
// the value the consensus engine advertises as the application's state
// commitment (spec.md §3).
func (s *Snapshot) Root() ([32]byte, error) {
	return s.root()
}

func (s *Snapshot) root() ([32]byte, error) {
	r, err := s.main.Root(s.version)
	if err != nil {
		return [32]byte{}, fatal("snapshot root", err)
	}
	return r, nil
}

// translatingCursor wraps a physical-key cursor and maps physical keys
// back into the caller's logical key space.
type translatingCursor struct {
	inner     Cursor
	transform func(physicalKey string) string
}

func (c *translatingCursor) Next() bool   { return c.inner.Next() }
func (c *translatingCursor) Valid() bool  { return c.inner.Valid() }
func (c *translatingCursor) Key() string  { return c.transform(c.inner.Key()) }
func (c *translatingCursor) Value() []byte { return c.inner.Value() }
func (c *translatingCursor) Close() error { return c.inner.Close() }
func (c *translatingCursor) Err() error   { return c.inner.Err() }

func verifiableKeyTranslator(cfg *SubstoreConfig, physPrefix []byte) func(string) string {
	fullHeader := "v:" + cfg.Prefix + "\x00"
	isMain := cfg.Prefix == ""
	return func(phys string) string {
		routed := phys[len(fullHeader):]
		if isMain {
			return routed
		}
		return cfg.Prefix + "/" + routed
	}
}

func nonverifiableKeyTranslator() func(string) string {
	return func(phys string) string {
		return phys[len("n:"):]
	}
}

func verifiablePhysicalKey(substorePrefix, routedKey string) []byte {
	return []byte(fmt.Sprintf("v:%s\x00%s", substorePrefix, routedKey))
}

func nonverifiablePhysicalKey(key []byte) []byte {
	return append([]byte("n:"), key...)
}
