package store

import "sync/atomic"

// State is the single mutable overlay sitting atop a Snapshot (spec.md
// §4.4). All component execution against "the current state" goes through
// a State; its writes become visible to the next State only once Storage
// commits them to a new Snapshot.
type State struct {
	l        *layer
	snapshot *Snapshot
	borrowed int32 // debug-mode single-mutable-writer guard
}

// newState builds a State overlaying snapshot.
func newState(snapshot *Snapshot) *State {
	return &State{l: newLayer(snapshot), snapshot: snapshot}
}

// NewStateOverSnapshot builds a fresh State overlaying snapshot, for
// callers outside this package (the app dispatcher) that replace their
// State after every commit.
func NewStateOverSnapshot(snapshot *Snapshot) *State {
	return newState(snapshot)
}

// Snapshot returns the immutable base this State overlays.
func (s *State) Snapshot() *Snapshot { return s.snapshot }

// acquire/release implement the borrow guard described in spec_full.md
// §5.4: taking a second concurrent mutable borrow of the same State (for
// example cloning a handle into two goroutines that both call Put) panics
// rather than silently racing the overlay's maps.
func (s *State) acquire() {
	if !atomic.CompareAndSwapInt32(&s.borrowed, 0, 1) {
		panic(&ErrBorrowViolation{Detail: "state is already mutably borrowed"})
	}
}

func (s *State) release() {
	atomic.StoreInt32(&s.borrowed, 0)
}

// Get returns the value for a verifiable key, checking this State's own
// staged writes before falling through to the underlying Snapshot.
func (s *State) Get(key string) ([]byte, bool, error) {
	return s.l.get(key)
}

// Put stages a verifiable write. It is not visible outside this State (or
// any TxBuffer built on it) until the caller commits through Storage.
func (s *State) Put(key string, value []byte) {
	s.acquire()
	defer s.release()
	s.l.put(key, value)
}

// Delete stages a tombstone for a verifiable key.
func (s *State) Delete(key string) {
	s.acquire()
	defer s.release()
	s.l.delete(key)
}

// NonverifiableGet reads a nonverifiable key.
func (s *State) NonverifiableGet(key []byte) ([]byte, bool, error) {
	return s.l.nonverifiableGet(string(key))
}

// NonverifiablePut stages a nonverifiable write.
func (s *State) NonverifiablePut(key, value []byte) {
	s.acquire()
	defer s.release()
	s.l.nonverifiablePut(string(key), value)
}

// NonverifiableDelete stages a nonverifiable tombstone.
func (s *State) NonverifiableDelete(key []byte) {
	s.acquire()
	defer s.release()
	s.l.nonverifiableDelete(string(key))
}

// ObjectGet reads an ephemeral, block-scoped object. Objects are never
// Merkleized or persisted (spec.md §4.6).
func (s *State) ObjectGet(key string) (any, bool) {
	return s.l.objectGet(key)
}

// ObjectPut stages an ephemeral object write.
func (s *State) ObjectPut(key string, value any) {
	s.acquire()
	defer s.release()
	s.l.objectPut(key, value)
}

// ObjectDelete removes an ephemeral object from this layer's own scratch.
func (s *State) ObjectDelete(key string) {
	s.acquire()
	defer s.release()
	s.l.objectDelete(key)
}

// Record appends an event to the block-scoped event log (spec.md §4.8).
func (s *State) Record(e Event) {
	s.l.record(e)
}

// PrefixScan returns a cursor merging this State's staged verifiable
// writes with the underlying Snapshot, over every key beginning with
// prefix.
func (s *State) PrefixScan(prefix string) (Cursor, error) {
	return s.l.prefixScanRaw(prefix)
}

// NonverifiablePrefixScan is PrefixScan's nonverifiable counterpart.
func (s *State) NonverifiablePrefixScan(prefix []byte) (Cursor, error) {
	return s.l.nonverifiablePrefixScanRaw(prefix)
}

// RangeScan returns a cursor over [start, end) in the verifiable key
// space. Both bounds must be explicit (spec.md §4.3).
func (s *State) RangeScan(start, end []byte) (Cursor, error) {
	if start == nil || end == nil {
		return nil, ErrUnboundedRange
	}
	return s.l.rangeScanRaw(start, end)
}

// NonverifiableRangeScan is RangeScan's nonverifiable counterpart.
func (s *State) NonverifiableRangeScan(start, end []byte) (Cursor, error) {
	if start == nil || end == nil {
		return nil, ErrUnboundedRange
	}
	return s.l.nonverifiableRangeScanRaw(start, end)
}

// Root reports the Snapshot's root; uncommitted overlay writes never
// change the reported root, only a Storage commit does.
func (s *State) Root() ([32]byte, error) {
	return s.l.root()
}

// BeginTransaction opens a nested transaction buffer over this State,
// per spec.md §4.5. The buffer's writes are invisible to this State (and
// to sibling buffers) until Apply folds them in.
func (s *State) BeginTransaction() *TxBuffer {
	return newTxBuffer(s.l)
}

// DrainEvents returns and clears the accumulated event log, used by the
// dispatcher when draining per-transaction or per-block events.
func (s *State) DrainEvents() []Event {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	events := s.l.events
	s.l.events = nil
	return events
}

// diff exposes the State's staged verifiable writes for Storage.Commit to
// group by substore. It is intentionally unexported: only the commit path
// within this package may observe raw staged state.
func (s *State) diff() (puts map[string][]byte, dels map[string]struct{}) {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	puts = make(map[string][]byte, len(s.l.verPut))
	for k, v := range s.l.verPut {
		puts[k] = v
	}
	dels = make(map[string]struct{}, len(s.l.verDel))
	for k := range s.l.verDel {
		dels[k] = struct{}{}
	}
	return puts, dels
}

// nonverifiableDiff exposes the State's staged nonverifiable writes for
// Storage.Commit.
func (s *State) nonverifiableDiff() (puts map[string][]byte, dels map[string]struct{}) {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	puts = make(map[string][]byte, len(s.l.nvPut))
	for k, v := range s.l.nvPut {
		puts[k] = v
	}
	dels = make(map[string]struct{}, len(s.l.nvDel))
	for k := range s.l.nvDel {
		dels[k] = struct{}{}
	}
	return puts, dels
}
