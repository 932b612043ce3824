// Package staking implements the staking component: validator
// definitions and the voting-power updates returned to the consensus
// engine at the end of every block. It is the first component to run in
// the fixed execution order (spec.md §4.7).
package staking

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/penumbra-zone/penumbra-core/internal/component"
	"github.com/penumbra-zone/penumbra-core/internal/store"
)

const txKindDefineValidator = "staking.define_validator"

const keyPrefixValidators = "stake/validators/"

// Validator is the persisted record for one validator definition.
type Validator struct {
	PubKey []byte `json:"pub_key"`
	Power  int64  `json:"power"`
}

// DefineValidator is the body of a staking.define_validator transaction.
type DefineValidator struct {
	PubKey []byte `json:"pub_key"`
	Power  int64  `json:"power"`
}

// Component implements component.Component for staking.
type Component struct{}

// New returns the staking component.
func New() *Component { return &Component{} }

func (c *Component) Name() string { return "staking" }

func validatorKey(pubKey []byte) string {
	return keyPrefixValidators + hex.EncodeToString(pubKey)
}

func (c *Component) CheckStateless(tx *component.Tx) error {
	if tx.Kind != txKindDefineValidator {
		return nil
	}
	var body DefineValidator
	if err := json.Unmarshal(tx.Body, &body); err != nil {
		return component.RejectWrap(c.Name(), component.StatelessReject, "malformed define_validator body", err)
	}
	if len(body.PubKey) == 0 {
		return component.Reject(c.Name(), component.StatelessReject, "validator pub_key must not be empty")
	}
	if body.Power < 0 {
		return component.Reject(c.Name(), component.StatelessReject, "validator power must not be negative")
	}
	return nil
}

func (c *Component) CheckStateful(tx *component.Tx, snapshot *store.Snapshot) error {
	// Validator redefinition is always permitted in this implementation;
	// there is no stake-bonding precondition to check against state.
	return nil
}

func (c *Component) Execute(tx *component.Tx, buf *store.TxBuffer) error {
	if tx.Kind != txKindDefineValidator {
		return nil
	}
	var body DefineValidator
	if err := json.Unmarshal(tx.Body, &body); err != nil {
		return component.RejectWrap(c.Name(), component.ExecuteReject, "malformed define_validator body", err)
	}
	v := Validator{PubKey: body.PubKey, Power: body.Power}
	raw, err := json.Marshal(v)
	if err != nil {
		return component.RejectWrap(c.Name(), component.ExecuteReject, "encoding validator record", err)
	}
	buf.Put(validatorKey(body.PubKey), raw)
	buf.Record(store.Event{
		Kind: "staking.validator_defined",
		Attributes: map[string]string{
			"pub_key": hex.EncodeToString(body.PubKey),
			"power":   fmt.Sprintf("%d", body.Power),
		},
	})
	return nil
}

func (c *Component) InitChain(buf *store.TxBuffer, genesis *component.Genesis) error {
	raw, err := component.AppStateFor(genesis, c.Name())
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	var validators []Validator
	if err := json.Unmarshal(raw, &validators); err != nil {
		return component.RejectWrap(c.Name(), component.ExecuteReject, "malformed genesis validator set", err)
	}
	for _, v := range validators {
		encoded, err := json.Marshal(v)
		if err != nil {
			return component.RejectWrap(c.Name(), component.ExecuteReject, "encoding genesis validator", err)
		}
		buf.Put(validatorKey(v.PubKey), encoded)
	}
	return nil
}

func (c *Component) BeginBlock(buf *store.TxBuffer, header component.BlockHeader) error {
	return nil
}

// EndBlock scans the full validator set and reports it as the block's
// power updates. A production implementation would diff against the set
// reported last block and only emit changed entries; this implementation
// keeps the simpler "report everything every block" behavior since
// CometBFT tolerates redundant updates that don't change a power value.
func (c *Component) EndBlock(buf *store.TxBuffer, header component.BlockHeader) ([]component.ValidatorPower, error) {
	cur, err := buf.PrefixScan(keyPrefixValidators)
	if err != nil {
		return nil, component.RejectWrap(c.Name(), component.ExecuteReject, "scanning validator set", err)
	}
	defer cur.Close()

	var updates []component.ValidatorPower
	for cur.Next() {
		var v Validator
		if err := json.Unmarshal(cur.Value(), &v); err != nil {
			return nil, component.RejectWrap(c.Name(), component.ExecuteReject, "decoding validator record", err)
		}
		updates = append(updates, component.ValidatorPower{PubKey: v.PubKey, Power: v.Power})
	}
	if err := cur.Err(); err != nil {
		return nil, component.RejectWrap(c.Name(), component.ExecuteReject, "validator scan cursor", err)
	}
	return updates, nil
}
