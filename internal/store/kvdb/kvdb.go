// Package kvdb adapts a CometBFT-DB backend to the Store's backing
// key/value contract: ordered byte keys, point-in-time snapshots, and
// an atomic batch commit that advances the latest version.
package kvdb

import (
	"encoding/binary"
	"fmt"
	"sync"

	dbm "github.com/cometbft/cometbft-db"
)

// metaLatestVersion and metaRootPrefix are the reserved keys the backing
// store uses to recover its own bookkeeping across restarts.
var (
	metaLatestVersion = []byte("metadata/latest_version")
	metaRootPrefix    = []byte("metadata/root/")
)

// RootKey returns the reserved key holding the 32-byte root hash committed
// at version v.
func RootKey(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return append(append([]byte{}, metaRootPrefix...), b...)
}

// Batch collects puts and deletes staged for a single atomic commit.
type Batch struct {
	Puts    map[string][]byte
	Deletes map[string]struct{}
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{Puts: make(map[string][]byte), Deletes: make(map[string]struct{})}
}

// Put stages a write.
func (b *Batch) Put(key, value []byte) {
	delete(b.Deletes, string(key))
	b.Puts[string(key)] = value
}

// Delete stages a removal.
func (b *Batch) Delete(key []byte) {
	delete(b.Puts, string(key))
	b.Deletes[string(key)] = struct{}{}
}

// BackingKV is the Store's backing contract, per spec.md §4.1: an ordered
// byte-key map with point-in-time snapshots and atomic batch writes. All
// errors returned here are protocol-fatal to the caller.
type BackingKV interface {
	// Snapshot returns a read-only view tagged with version (see Snapshot
	// for what it observes).
	Snapshot(version uint64) (Snapshot, error)
	// LatestVersion returns the most recently committed version.
	LatestVersion() uint64
	// Commit atomically writes batch, advances the latest version to
	// newVersion, and records rootHash under the reserved root key for
	// that version.
	Commit(batch *Batch, newVersion uint64, rootHash [32]byte) error
	// Close releases any underlying resources.
	Close() error
}

// Snapshot is a read-only view of the backing KV tagged with a fixed
// version. The CometBFT-DB implementation (dbSnapshot) reads the live
// database, so writes committed after the snapshot was taken are observed
// through it; it does not provide isolation between versions.
type Snapshot interface {
	Get(key []byte) ([]byte, error)
	// Iterator returns a CometBFT-DB style half-open iterator over [start, end).
	// A nil start or end is treated as unbounded in that direction.
	Iterator(start, end []byte) (dbm.Iterator, error)
	Version() uint64
}

// CometBFTBackingKV implements BackingKV over a dbm.DB. It keeps no
// independent versioning state beyond what is persisted under the
// reserved metadata keys, so it recovers correctly across restarts.
type CometBFTBackingKV struct {
	mu     sync.Mutex
	db     dbm.DB
	latest uint64
}

// Open wraps db as a BackingKV, recovering the latest version from the
// reserved metadata key if present.
func Open(db dbm.DB) (*CometBFTBackingKV, error) {
	kv := &CometBFTBackingKV{db: db}
	raw, err := db.Get(metaLatestVersion)
	if err != nil {
		return nil, fmt.Errorf("kvdb: reading latest version: %w", err)
	}
	if len(raw) == 8 {
		kv.latest = binary.BigEndian.Uint64(raw)
	}
	return kv, nil
}

func (k *CometBFTBackingKV) LatestVersion() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.latest
}

func (k *CometBFTBackingKV) Snapshot(version uint64) (Snapshot, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if version > k.latest {
		return nil, fmt.Errorf("kvdb: no snapshot at version %d, latest is %d", version, k.latest)
	}
	return &dbSnapshot{db: k.db, version: version}, nil
}

// Commit writes batch atomically via the underlying dbm.Batch, then
// advances the latest-version pointer in the same batch so a crash
// between the two can never be observed.
func (k *CometBFTBackingKV) Commit(batch *Batch, newVersion uint64, rootHash [32]byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	wb := k.db.NewBatch()
	defer wb.Close()

	for key, val := range batch.Puts {
		if err := wb.Set([]byte(key), val); err != nil {
			return fmt.Errorf("kvdb: staging put: %w", err)
		}
	}
	for key := range batch.Deletes {
		if err := wb.Delete([]byte(key)); err != nil {
			return fmt.Errorf("kvdb: staging delete: %w", err)
		}
	}

	verBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(verBuf, newVersion)
	if err := wb.Set(metaLatestVersion, verBuf); err != nil {
		return fmt.Errorf("kvdb: staging version bump: %w", err)
	}
	if err := wb.Set(RootKey(newVersion), rootHash[:]); err != nil {
		return fmt.Errorf("kvdb: staging root record: %w", err)
	}

	if err := wb.WriteSync(); err != nil {
		return fmt.Errorf("kvdb: commit batch write: %w", err)
	}
	k.latest = newVersion
	return nil
}

func (k *CometBFTBackingKV) Close() error {
	return k.db.Close()
}

// dbSnapshot is a thin read-only view. CometBFT-DB backends (goleveldb,
// memdb) don't expose MVCC snapshots directly, so — matching the spec's
// single-writer/buffered-commit access pattern — reads against version <
// latest are only ever served for the root-hash bookkeeping key, never
// for arbitrary application keys: the overlay above this layer is what
// makes historical reads of committed data meaningful (a fresh Snapshot
// is only ever requested for the just-committed version in this
// implementation).
type dbSnapshot struct {
	db      dbm.DB
	version uint64
}

func (s *dbSnapshot) Get(key []byte) ([]byte, error) {
	return s.db.Get(key)
}

func (s *dbSnapshot) Iterator(start, end []byte) (dbm.Iterator, error) {
	return s.db.Iterator(start, end)
}

func (s *dbSnapshot) Version() uint64 {
	return s.version
}
