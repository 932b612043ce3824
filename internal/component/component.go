// Package component defines the uniform contract every protocol component
// satisfies (spec.md §4.6) and the types shared across the dispatcher and
// its components: transactions, block headers, genesis, and validator-set
// updates.
package component

import (
	"encoding/json"
	"fmt"

	"github.com/penumbra-zone/penumbra-core/internal/store"
)

// Tx is an application transaction. Its Body is a tagged union of
// component-specific actions, encoded as JSON for the same reason the
// teacher's pkg/ledger persists its records as JSON: a stable,
// human-debuggable wire format takes priority over binary compactness at
// this layer. Kind lets a component cheaply skip transactions addressed
// to a different component without unmarshaling Body.
type Tx struct {
	ID   string          `json:"id"`
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// BlockHeader carries the consensus-supplied metadata passed to
// begin_block/end_block, per spec.md §4.6.
type BlockHeader struct {
	Height    uint64 `json:"height"`
	TimeUnix  int64  `json:"time_unix"`
	ChainID   string `json:"chain_id"`
	ProposerAddress []byte `json:"proposer_address,omitempty"`
}

// Genesis is the chain's initial application state, handed to every
// component's InitChain.
type Genesis struct {
	ChainID     string          `json:"chain_id"`
	GenesisTime int64           `json:"genesis_time"`
	ChainParams ChainParams     `json:"chain_params"`
	AppState    json.RawMessage `json:"app_state"`
}

// ChainParams holds the protocol-wide parameters spec.md §4.7 says
// init_chain writes before any component runs.
type ChainParams struct {
	MaxBlockDutyCycle uint64 `json:"max_block_duty_cycle"`
	Epoch             uint64 `json:"epoch"`
}

// ValidatorPower is one entry of a validator-set update, collected from
// end_block and returned to the consensus engine alongside the new root
// (spec.md §4.7).
type ValidatorPower struct {
	PubKey []byte `json:"pub_key"`
	Power  int64  `json:"power"`
}

// AppStateFor unmarshals genesis.AppState as a map keyed by component
// name and returns the raw payload for name, or nil if genesis carried
// none for it. A component with no genesis payload must initialize
// itself to an empty/default state.
func AppStateFor(genesis *Genesis, name string) (json.RawMessage, error) {
	if len(genesis.AppState) == 0 {
		return nil, nil
	}
	var byComponent map[string]json.RawMessage
	if err := json.Unmarshal(genesis.AppState, &byComponent); err != nil {
		return nil, fmt.Errorf("component: decoding genesis app_state: %w", err)
	}
	return byComponent[name], nil
}

// Component is the contract every protocol component satisfies: the
// three-phase transaction validation plus lifecycle hooks (spec.md §4.6).
// CheckStateless and CheckStateful never mutate state. Execute,
// BeginBlock, EndBlock, and InitChain all run against a mutable
// transaction buffer whose writes are only visible once the dispatcher
// applies it.
type Component interface {
	// Name identifies the component for logging and error attribution.
	Name() string

	// CheckStateless validates tx using no state. It may run in parallel
	// with other components' stateless checks and with other
	// transactions' checks.
	CheckStateless(tx *Tx) error

	// CheckStateful validates tx against a read-only snapshot. Per
	// spec.md §9's Open Question, this specification requires serial
	// execution across components for determinism even though the
	// upstream protocol allows parallelism here.
	CheckStateful(tx *Tx, snapshot *store.Snapshot) error

	// Execute applies tx's effects to buf. An error here causes the
	// dispatcher to drop the entire enclosing transaction buffer.
	Execute(tx *Tx, buf *store.TxBuffer) error

	// InitChain writes this component's genesis-derived state into buf.
	InitChain(buf *store.TxBuffer, genesis *Genesis) error

	// BeginBlock runs this component's start-of-block state transition.
	BeginBlock(buf *store.TxBuffer, header BlockHeader) error

	// EndBlock runs this component's end-of-block state transition and
	// returns any validator-power updates it produced. Only the staking
	// component is expected to return a non-empty slice.
	EndBlock(buf *store.TxBuffer, header BlockHeader) ([]ValidatorPower, error)
}
