// Package ibc implements a minimal IBC light-client component: it tracks
// per-channel client state updates. Full IBC packet relaying, connection
// handshakes, and light-client verification are out of scope (spec.md
// §1's Non-goals exclude transport-layer protocol logic); what remains is
// the state-transition shape needed to exercise the dispatcher's second
// execution slot and substore isolation.
package ibc

import (
	"encoding/json"

	"github.com/penumbra-zone/penumbra-core/internal/component"
	"github.com/penumbra-zone/penumbra-core/internal/store"
)

const txKindUpdateClient = "ibc.update_client"

const keyPrefixClients = "ibc/clients/"

// ClientState is the persisted state for one light client, identified by
// its client ID.
type ClientState struct {
	ClientID           string `json:"client_id"`
	LatestHeight       uint64 `json:"latest_height"`
	ConsensusStateRoot []byte `json:"consensus_state_root"`
}

// UpdateClient is the body of an ibc.update_client transaction.
type UpdateClient struct {
	ClientID           string `json:"client_id"`
	Height             uint64 `json:"height"`
	ConsensusStateRoot []byte `json:"consensus_state_root"`
}

// Component implements component.Component for IBC light-client tracking.
type Component struct{}

// New returns the IBC component.
func New() *Component { return &Component{} }

func (c *Component) Name() string { return "ibc" }

func clientKey(id string) string { return keyPrefixClients + id }

func (c *Component) CheckStateless(tx *component.Tx) error {
	if tx.Kind != txKindUpdateClient {
		return nil
	}
	var body UpdateClient
	if err := json.Unmarshal(tx.Body, &body); err != nil {
		return component.RejectWrap(c.Name(), component.StatelessReject, "malformed update_client body", err)
	}
	if body.ClientID == "" {
		return component.Reject(c.Name(), component.StatelessReject, "client_id must not be empty")
	}
	return nil
}

func (c *Component) CheckStateful(tx *component.Tx, snapshot *store.Snapshot) error {
	if tx.Kind != txKindUpdateClient {
		return nil
	}
	var body UpdateClient
	if err := json.Unmarshal(tx.Body, &body); err != nil {
		return component.RejectWrap(c.Name(), component.StatefulReject, "malformed update_client body", err)
	}
	raw, ok, err := snapshot.Get(clientKey(body.ClientID))
	if err != nil {
		return component.RejectWrap(c.Name(), component.StatefulReject, "reading client state", err)
	}
	if !ok {
		return nil // first update for this client is always accepted
	}
	var existing ClientState
	if err := json.Unmarshal(raw, &existing); err != nil {
		return component.RejectWrap(c.Name(), component.StatefulReject, "decoding client state", err)
	}
	if body.Height <= existing.LatestHeight {
		return component.Reject(c.Name(), component.StatefulReject, "client update height must advance monotonically")
	}
	return nil
}

func (c *Component) Execute(tx *component.Tx, buf *store.TxBuffer) error {
	if tx.Kind != txKindUpdateClient {
		return nil
	}
	var body UpdateClient
	if err := json.Unmarshal(tx.Body, &body); err != nil {
		return component.RejectWrap(c.Name(), component.ExecuteReject, "malformed update_client body", err)
	}
	state := ClientState{ClientID: body.ClientID, LatestHeight: body.Height, ConsensusStateRoot: body.ConsensusStateRoot}
	raw, err := json.Marshal(state)
	if err != nil {
		return component.RejectWrap(c.Name(), component.ExecuteReject, "encoding client state", err)
	}
	buf.Put(clientKey(body.ClientID), raw)
	buf.Record(store.Event{
		Kind:       "ibc.client_updated",
		Attributes: map[string]string{"client_id": body.ClientID},
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
	var clients []ClientState
	if err := json.Unmarshal(raw, &clients); err != nil {
		return component.RejectWrap(c.Name(), component.ExecuteReject, "malformed genesis client set", err)
	}
	for _, cs := range clients {
		encoded, err := json.Marshal(cs)
		if err != nil {
			return component.RejectWrap(c.Name(), component.ExecuteReject, "encoding genesis client", err)
		}
		buf.Put(clientKey(cs.ClientID), encoded)
	}
	return nil
}

func (c *Component) BeginBlock(buf *store.TxBuffer, header component.BlockHeader) error {
	return nil
}

func (c *Component) EndBlock(buf *store.TxBuffer, header component.BlockHeader) ([]component.ValidatorPower, error) {
	return nil, nil
}
