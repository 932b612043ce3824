// Package app implements the application dispatcher: the ordered,
// transactional execution of components across the consensus lifecycle
// (spec.md §4.7), grounded on original_source/component/src/app/mod.rs's
// App::init_chain/begin_block/deliver_tx/end_block/commit sequencing.
package app

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/penumbra-zone/penumbra-core/internal/component"
	"github.com/penumbra-zone/penumbra-core/internal/component/dex"
	"github.com/penumbra-zone/penumbra-core/internal/component/governance"
	"github.com/penumbra-zone/penumbra-core/internal/component/ibc"
	"github.com/penumbra-zone/penumbra-core/internal/component/shieldedpool"
	"github.com/penumbra-zone/penumbra-core/internal/component/staking"
	"github.com/penumbra-zone/penumbra-core/internal/store"
)

const keyChainID = "chain_id"
const keyBlockHeight = "block_height"
const keyBlockTime = "block_time"
const keyChainParams = "chain_params"

const objectTxSource = "tx_source"

// DeliverResult is the outcome of a single transaction's deliver_tx call.
type DeliverResult struct {
	Events []store.Event
}

// EndBlockResult is the outcome of end_block: the events it produced and
// the validator-set updates collected from every component, in execution
// order.
type EndBlockResult struct {
	Events           []store.Event
	ValidatorUpdates []component.ValidatorPower
}

// Dispatcher owns the current State overlay and the fixed-order component
// list, and drives the consensus lifecycle against them (spec.md §4.7).
// Commit is internally serialized: only one commit may be in flight at a
// time, resolving the Open Question in spec.md §9 about concurrent
// commit calls racing an outstanding Snapshot reference.
type Dispatcher struct {
	mu         sync.Mutex
	storage    *store.Storage
	state      *store.State
	components []component.Component
}

// defaultComponents returns the fixed execution order required by
// spec.md §4.7: staking, IBC, DEX, governance, shielded-pool. Shielded
// pool always runs last so that every other component's effect on an
// asset balance is final before a note is spent or minted.
func defaultComponents() []component.Component {
	return []component.Component{
		staking.New(),
		ibc.New(),
		dex.New(),
		governance.New(),
		shieldedpool.New(),
	}
}

// New builds a Dispatcher over storage's latest Snapshot, using the fixed
// default component set.
func New(storage *store.Storage) *Dispatcher {
	return &Dispatcher{
		storage:    storage,
		state:      storage.NewState(),
		components: defaultComponents(),
	}
}

// InitChain implements spec.md §4.7's init_chain lifecycle step.
func (d *Dispatcher) InitChain(genesis *component.Genesis) ([32]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := d.state.BeginTransaction()
	buf.Put(keyChainID, []byte(genesis.ChainID))
	buf.Put(keyBlockHeight, encodeHeight(0))
	params, err := json.Marshal(genesis.ChainParams)
	if err != nil {
		buf.Discard()
		return [32]byte{}, fmt.Errorf("app: init_chain: encoding chain params: %w", err)
	}
	buf.Put(keyChainParams, params)

	for _, c := range d.components {
		if err := c.InitChain(buf, genesis); err != nil {
			buf.Discard()
			return [32]byte{}, fmt.Errorf("app: init_chain: %s: %w", c.Name(), err)
		}
	}
	buf.Apply()

	snap, err := d.storage.Commit(d.state)
	if err != nil {
		return [32]byte{}, err
	}
	d.state = store.NewStateOverSnapshot(snap)
	return snap.Root()
}

// BeginBlock implements spec.md §4.7's begin_block lifecycle step. It
// drains and returns begin_block's own events immediately, rather than
// leaving them in the State's event log to be scooped up by whichever of
// DeliverTx or EndBlock drains next — keeping each phase's events
// attributed to that phase, per spec.md §4.8.
func (d *Dispatcher) BeginBlock(header component.BlockHeader) ([]store.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := d.state.BeginTransaction()
	buf.Put(keyBlockHeight, encodeHeight(header.Height))
	buf.Put(keyBlockTime, encodeInt64(header.TimeUnix))

	for _, c := range d.components {
		if err := c.BeginBlock(buf, header); err != nil {
			// begin_block failures are protocol-fatal per spec.md §7:
			// these callbacks represent mandatory state transitions.
			return nil, fmt.Errorf("app: begin_block: %s: %w", c.Name(), err)
		}
	}
	buf.Apply()
	return d.state.DrainEvents(), nil
}

// CheckTx implements spec.md §4.7's check_tx lifecycle step: mempool-only
// admission, never mutating state.
func (d *Dispatcher) CheckTx(tx *component.Tx) error {
	d.mu.Lock()
	snapshot := d.state.Snapshot()
	d.mu.Unlock()

	for _, c := range d.components {
		if err := c.CheckStateless(tx); err != nil {
			return err
		}
	}
	for _, c := range d.components {
		if err := c.CheckStateful(tx, snapshot); err != nil {
			return err
		}
	}
	return nil
}

// DeliverTx implements spec.md §4.7's deliver_tx lifecycle step. It is
// atomic: either every component's execute succeeds and the buffer is
// applied, or the buffer is dropped and no writes are observable.
func (d *Dispatcher) DeliverTx(tx *component.Tx) (*DeliverResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	snapshot := d.state.Snapshot()
	for _, c := range d.components {
		if err := c.CheckStateless(tx); err != nil {
			return nil, err
		}
	}
	for _, c := range d.components {
		if err := c.CheckStateful(tx, snapshot); err != nil {
			return nil, err
		}
	}

	buf := d.state.BeginTransaction()
	buf.ObjectPut(objectTxSource, tx.ID)

	for _, c := range d.components {
		if err := c.Execute(tx, buf); err != nil {
			buf.Discard()
			return nil, err
		}
	}
	// The transaction-source descriptor is scoped to this deliver_tx call
	// only (spec.md §4.7 step 5); clear it before folding the buffer into
	// the block-scoped State so it doesn't outlive the transaction.
	buf.ObjectDelete(objectTxSource)
	buf.Apply()

	return &DeliverResult{Events: d.state.DrainEvents()}, nil
}

// EndBlock implements spec.md §4.7's end_block lifecycle step, collecting
// validator-power updates from every component in execution order.
func (d *Dispatcher) EndBlock(header component.BlockHeader) (*EndBlockResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := d.state.BeginTransaction()
	var updates []component.ValidatorPower
	for _, c := range d.components {
		vu, err := c.EndBlock(buf, header)
		if err != nil {
			return nil, fmt.Errorf("app: end_block: %s: %w", c.Name(), err)
		}
		updates = append(updates, vu...)
	}
	buf.Apply()

	return &EndBlockResult{Events: d.state.DrainEvents(), ValidatorUpdates: updates}, nil
}

// Commit implements spec.md §4.7's commit lifecycle step: instructs the
// Store to persist the accumulated writes, then replaces the Dispatcher's
// State with a fresh overlay over the resulting Snapshot.
func (d *Dispatcher) Commit() ([32]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap, err := d.storage.Commit(d.state)
	if err != nil {
		return [32]byte{}, err
	}
	d.state = store.NewStateOverSnapshot(snap)
	return snap.Root()
}

// LatestSnapshot exposes the Dispatcher's current State's underlying
// Snapshot, for query paths that must not observe uncommitted writes.
func (d *Dispatcher) LatestSnapshot() *store.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Snapshot()
}

func encodeHeight(h uint64) []byte {
	return encodeInt64(int64(h))
}

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
	return b
}
