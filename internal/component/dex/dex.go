// Package dex implements a minimal constant-product trading-pair
// component: it opens positions; swaps are not implemented. Order-book
// matching, batch auctions, and routing through multiple hops are out of
// scope (spec.md §1's Non-goals exclude full trading-engine semantics);
// what remains exercises the dispatcher's third execution slot.
package dex

import (
	"encoding/json"
	"fmt"

	"github.com/penumbra-zone/penumbra-core/internal/component"
	"github.com/penumbra-zone/penumbra-core/internal/store"
)

const txKindOpenPosition = "dex.open_position"

const keyPrefixPositions = "dex/positions/"

// Position is a single liquidity position in a trading pair.
type Position struct {
	PositionID string `json:"position_id"`
	AssetA     string `json:"asset_a"`
	AssetB     string `json:"asset_b"`
	ReserveA   uint64 `json:"reserve_a"`
	ReserveB   uint64 `json:"reserve_b"`
}

// OpenPosition is the body of a dex.open_position transaction.
type OpenPosition struct {
	PositionID string `json:"position_id"`
	AssetA     string `json:"asset_a"`
	AssetB     string `json:"asset_b"`
	ReserveA   uint64 `json:"reserve_a"`
	ReserveB   uint64 `json:"reserve_b"`
}

// Component implements component.Component for the trading-pair DEX.
type Component struct{}

// New returns the DEX component.
func New() *Component { return &Component{} }

func (c *Component) Name() string { return "dex" }

func positionKey(id string) string { return keyPrefixPositions + id }

func (c *Component) CheckStateless(tx *component.Tx) error {
	if tx.Kind != txKindOpenPosition {
		return nil
	}
	var body OpenPosition
	if err := json.Unmarshal(tx.Body, &body); err != nil {
		return component.RejectWrap(c.Name(), component.StatelessReject, "malformed open_position body", err)
	}
	if body.PositionID == "" {
		return component.Reject(c.Name(), component.StatelessReject, "position_id must not be empty")
	}
	if body.ReserveA == 0 || body.ReserveB == 0 {
		return component.Reject(c.Name(), component.StatelessReject, "both reserves must be nonzero")
	}
	return nil
}

func (c *Component) CheckStateful(tx *component.Tx, snapshot *store.Snapshot) error {
	if tx.Kind != txKindOpenPosition {
		return nil
	}
	var body OpenPosition
	if err := json.Unmarshal(tx.Body, &body); err != nil {
		return component.RejectWrap(c.Name(), component.StatefulReject, "malformed open_position body", err)
	}
	if _, ok, err := snapshot.Get(positionKey(body.PositionID)); err != nil {
		return component.RejectWrap(c.Name(), component.StatefulReject, "reading position", err)
	} else if ok {
		return component.Reject(c.Name(), component.StatefulReject, "position_id already in use")
	}
	return nil
}

func (c *Component) Execute(tx *component.Tx, buf *store.TxBuffer) error {
	if tx.Kind != txKindOpenPosition {
		return nil
	}
	var body OpenPosition
	if err := json.Unmarshal(tx.Body, &body); err != nil {
		return component.RejectWrap(c.Name(), component.ExecuteReject, "malformed open_position body", err)
	}
	p := Position{PositionID: body.PositionID, AssetA: body.AssetA, AssetB: body.AssetB, ReserveA: body.ReserveA, ReserveB: body.ReserveB}
	raw, err := json.Marshal(p)
	if err != nil {
		return component.RejectWrap(c.Name(), component.ExecuteReject, "encoding position", err)
	}
	buf.Put(positionKey(body.PositionID), raw)
	buf.Record(store.Event{
		Kind: "dex.position_opened",
		Attributes: map[string]string{
			"position_id": body.PositionID,
			"reserve_a":   fmt.Sprintf("%d", body.ReserveA),
			"reserve_b":   fmt.Sprintf("%d", body.ReserveB),
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
	var positions []Position
	if err := json.Unmarshal(raw, &positions); err != nil {
		return component.RejectWrap(c.Name(), component.ExecuteReject, "malformed genesis position set", err)
	}
	for _, p := range positions {
		encoded, err := json.Marshal(p)
		if err != nil {
			return component.RejectWrap(c.Name(), component.ExecuteReject, "encoding genesis position", err)
		}
		buf.Put(positionKey(p.PositionID), encoded)
	}
	return nil
}

func (c *Component) BeginBlock(buf *store.TxBuffer, header component.BlockHeader) error {
	return nil
}

func (c *Component) EndBlock(buf *store.TxBuffer, header component.BlockHeader) ([]component.ValidatorPower, error) {
	return nil, nil
}
