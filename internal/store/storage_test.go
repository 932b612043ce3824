package store

import (
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/penumbra-zone/penumbra-core/internal/store/kvdb"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	backing, err := kvdb.Open(dbm.NewMemDB())
	if err != nil {
		t.Fatalf("kvdb.Open: %v", err)
	}
	st, err := Open(backing, DefaultRouterConfig())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return st
}

func TestCommitAdvancesVersionAndRoot(t *testing.T) {
	st := newTestStorage(t)
	before := st.LatestSnapshot()
	if before.Version() != 0 {
		t.Fatalf("fresh storage should start at version 0, got %d", before.Version())
	}
	beforeRoot, err := before.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}

	state := st.NewState()
	state.Put("stake/validators/1", []byte("validator-one"))

	after, err := st.Commit(state)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if after.Version() != 1 {
		t.Errorf("committed snapshot version = %d, want 1", after.Version())
	}
	afterRoot, err := after.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if afterRoot == beforeRoot {
		t.Error("root must change once a key is written")
	}
}

func TestCommittedValueVisibleInNextSnapshot(t *testing.T) {
	st := newTestStorage(t)
	state := st.NewState()
	state.Put("stake/validators/1", []byte("validator-one"))
	snap, err := st.Commit(state)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	v, ok, err := snap.Get("stake/validators/1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("committed key should be visible in the resulting snapshot")
	}
	if string(v) != "validator-one" {
		t.Errorf("value mismatch: got %q", v)
	}
}

func TestStateOverlayMasksSnapshotBeforeCommit(t *testing.T) {
	st := newTestStorage(t)
	genesis := st.NewState()
	genesis.Put("stake/validators/1", []byte("v1"))
	snap, err := st.Commit(genesis)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	next := newState(snap)
	next.Delete("stake/validators/1")

	if _, ok, _ := next.Get("stake/validators/1"); ok {
		t.Error("deleted key must not be visible through the overlay before commit")
	}
	if _, ok, _ := snap.Get("stake/validators/1"); !ok {
		t.Error("the underlying snapshot must remain unaffected by an uncommitted delete")
	}
}

func TestTxBufferDiscardLeavesParentUntouched(t *testing.T) {
	st := newTestStorage(t)
	state := st.NewState()

	buf := state.BeginTransaction()
	buf.Put("stake/validators/1", []byte("discarded"))
	buf.Discard()

	if _, ok, _ := state.Get("stake/validators/1"); ok {
		t.Error("a discarded transaction buffer's writes must not reach the parent state")
	}
}

func TestTxBufferApplyMergesIntoParent(t *testing.T) {
	st := newTestStorage(t)
	state := st.NewState()

	buf := state.BeginTransaction()
	buf.Put("stake/validators/1", []byte("applied"))
	buf.Apply()

	v, ok, err := state.Get("stake/validators/1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || string(v) != "applied" {
		t.Errorf("applied transaction buffer write should be visible on the parent state, got %q ok=%v", v, ok)
	}
}

func TestShieldedPoolWinsOrderingCollision(t *testing.T) {
	// Matches Scenario D: two buffers, standing in for staking and the
	// shielded pool, write the same key within one state; applying them in
	// dispatch order means the later buffer's write always wins.
	st := newTestStorage(t)
	state := st.NewState()

	stakingBuf := state.BeginTransaction()
	stakingBuf.Put("shared", []byte("from-staking"))
	stakingBuf.Apply()

	shieldedBuf := state.BeginTransaction()
	shieldedBuf.Put("shared", []byte("from-shielded-pool"))
	shieldedBuf.Apply()

	v, ok, err := state.Get("shared")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || string(v) != "from-shielded-pool" {
		t.Errorf("later-applied buffer should win, got %q", v)
	}
}

func TestPrefixScanMergesOverlayWithCommittedState(t *testing.T) {
	st := newTestStorage(t)
	genesis := st.NewState()
	genesis.Put("stake/validators/1", []byte("A"))
	genesis.Put("stake/validators/3", []byte("C"))
	snap, err := st.Commit(genesis)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	next := newState(snap)
	next.Put("stake/validators/2", []byte("B"))
	next.Delete("stake/validators/1")

	cur, err := next.PrefixScan("stake/validators/")
	if err != nil {
		t.Fatalf("prefix scan: %v", err)
	}
	got := drain(t, cur)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries after overlay merge, got %+v", got)
	}
	if got[0].Key != "stake/validators/2" || string(got[0].Value) != "B" {
		t.Errorf("entry 0 mismatch: %+v", got[0])
	}
	if got[1].Key != "stake/validators/3" || string(got[1].Value) != "C" {
		t.Errorf("entry 1 mismatch: %+v", got[1])
	}
}

func TestNonverifiableWritesSurviveCommit(t *testing.T) {
	st := newTestStorage(t)
	state := st.NewState()
	state.NonverifiablePut([]byte("scratch/counter"), []byte("1"))

	snap, err := st.Commit(state)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	v, ok, err := snap.NonverifiableGet([]byte("scratch/counter"))
	if err != nil {
		t.Fatalf("nonverifiable get: %v", err)
	}
	if !ok || string(v) != "1" {
		t.Errorf("nonverifiable write should survive commit, got %q ok=%v", v, ok)
	}
}

func TestReopenRecoversRootAtLatestVersion(t *testing.T) {
	backing, err := kvdb.Open(dbm.NewMemDB())
	if err != nil {
		t.Fatalf("kvdb.Open: %v", err)
	}
	st, err := Open(backing, DefaultRouterConfig())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	state := st.NewState()
	state.Put("stake/validators/1", []byte("validator-one"))
	committed, err := st.Commit(state)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	wantRoot, err := committed.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}

	// Reopen Storage over the same backing KV, simulating a process
	// restart: only the raw key/value pairs and the backing KV's own
	// version/root bookkeeping survive; the authenticated map is rebuilt
	// from nothing.
	reopened, err := Open(backing, DefaultRouterConfig())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	snap := reopened.LatestSnapshot()
	if snap.Version() != committed.Version() {
		t.Fatalf("recovered version = %d, want %d", snap.Version(), committed.Version())
	}
	gotRoot, err := snap.Root()
	if err != nil {
		t.Fatalf("root() on a reopened storage must succeed, not fatal on restart: %v", err)
	}
	if gotRoot != wantRoot {
		t.Errorf("recovered root = %x, want %x", gotRoot, wantRoot)
	}

	v, ok, err := snap.Get("stake/validators/1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || string(v) != "validator-one" {
		t.Errorf("raw key/value data should survive reopen, got %q ok=%v", v, ok)
	}
}

func TestRangeScanRejectsUnboundedEnds(t *testing.T) {
	st := newTestStorage(t)
	state := st.NewState()
	if _, err := state.RangeScan(nil, []byte("z")); err != ErrUnboundedRange {
		t.Errorf("expected ErrUnboundedRange for a nil start, got %v", err)
	}
	if _, err := state.RangeScan([]byte("a"), nil); err != ErrUnboundedRange {
		t.Errorf("expected ErrUnboundedRange for a nil end, got %v", err)
	}
}
