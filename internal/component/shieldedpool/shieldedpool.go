// Package shieldedpool implements the shielded-pool component: note
// commitments and the nullifier set that prevents double-spending. It
// always runs last in the fixed execution order (spec.md §4.7) so that
// every other component's effects on an asset balance are final before a
// note is spent or minted.
package shieldedpool

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/penumbra-zone/penumbra-core/internal/component"
	"github.com/penumbra-zone/penumbra-core/internal/store"
)

const (
	txKindMintNote = "shieldedpool.mint_note"
	txKindSpend    = "shieldedpool.spend_note"
)

const (
	keyPrefixNotes      = "shielded_pool/notes/"
	keyPrefixNullifiers = "shielded_pool/nullifiers/"
)

// Note is a shielded note commitment record. Amount and Asset are kept
// plaintext here; the actual protocol would store a commitment opaque to
// anyone but the recipient, but the Merkleization/encryption scheme is
// out of scope for this layer (spec.md §1).
type Note struct {
	Commitment []byte `json:"commitment"`
	Asset      string `json:"asset"`
	Amount     uint64 `json:"amount"`
	Address    string `json:"address"`
}

// MintNote is the body of a shieldedpool.mint_note transaction.
type MintNote struct {
	Commitment []byte `json:"commitment"`
	Asset      string `json:"asset"`
	Amount     uint64 `json:"amount"`
	Address    string `json:"address"`
}

// SpendNote is the body of a shieldedpool.spend_note transaction.
type SpendNote struct {
	Nullifier      []byte `json:"nullifier"`
	NoteCommitment []byte `json:"note_commitment"`
}

// Component implements component.Component for the shielded pool.
type Component struct{}

// New returns the shielded-pool component.
func New() *Component { return &Component{} }

func (c *Component) Name() string { return "shielded_pool" }

func noteKey(commitment []byte) string {
	return keyPrefixNotes + hex.EncodeToString(commitment)
}

func nullifierKey(nullifier []byte) string {
	return keyPrefixNullifiers + hex.EncodeToString(nullifier)
}

// HasNullifier reports whether nullifier has already been recorded as
// spent as of snapshot, used by CheckStateful and exposed for query
// paths (e.g. the ABCI Query handler answering "is this nullifier
// spent").
func HasNullifier(snapshot *store.Snapshot, nullifier []byte) (bool, error) {
	_, ok, err := snapshot.Get(nullifierKey(nullifier))
	return ok, err
}

func (c *Component) CheckStateless(tx *component.Tx) error {
	switch tx.Kind {
	case txKindMintNote:
		var body MintNote
		if err := json.Unmarshal(tx.Body, &body); err != nil {
			return component.RejectWrap(c.Name(), component.StatelessReject, "malformed mint_note body", err)
		}
		if len(body.Commitment) == 0 {
			return component.Reject(c.Name(), component.StatelessReject, "note commitment must not be empty")
		}
		if body.Amount == 0 {
			return component.Reject(c.Name(), component.StatelessReject, "note amount must be nonzero")
		}
	case txKindSpend:
		var body SpendNote
		if err := json.Unmarshal(tx.Body, &body); err != nil {
			return component.RejectWrap(c.Name(), component.StatelessReject, "malformed spend_note body", err)
		}
		if len(body.Nullifier) == 0 || len(body.NoteCommitment) == 0 {
			return component.Reject(c.Name(), component.StatelessReject, "spend requires a nullifier and a note commitment")
		}
	}
	return nil
}

func (c *Component) CheckStateful(tx *component.Tx, snapshot *store.Snapshot) error {
	if tx.Kind != txKindSpend {
		return nil
	}
	var body SpendNote
	if err := json.Unmarshal(tx.Body, &body); err != nil {
		return component.RejectWrap(c.Name(), component.StatefulReject, "malformed spend_note body", err)
	}
	if _, ok, err := snapshot.Get(noteKey(body.NoteCommitment)); err != nil {
		return component.RejectWrap(c.Name(), component.StatefulReject, "reading note commitment", err)
	} else if !ok {
		return component.Reject(c.Name(), component.StatefulReject, "spend references a note commitment that does not exist")
	}
	spent, err := HasNullifier(snapshot, body.Nullifier)
	if err != nil {
		return component.RejectWrap(c.Name(), component.StatefulReject, "reading nullifier set", err)
	}
	if spent {
		return component.Reject(c.Name(), component.StatefulReject, "nullifier already spent")
	}
	return nil
}

func (c *Component) Execute(tx *component.Tx, buf *store.TxBuffer) error {
	switch tx.Kind {
	case txKindMintNote:
		var body MintNote
		if err := json.Unmarshal(tx.Body, &body); err != nil {
			return component.RejectWrap(c.Name(), component.ExecuteReject, "malformed mint_note body", err)
		}
		n := Note{Commitment: body.Commitment, Asset: body.Asset, Amount: body.Amount, Address: body.Address}
		raw, err := json.Marshal(n)
		if err != nil {
			return component.RejectWrap(c.Name(), component.ExecuteReject, "encoding note record", err)
		}
		buf.Put(noteKey(body.Commitment), raw)
		buf.Record(store.Event{
			Kind: "shieldedpool.note_minted",
			Attributes: map[string]string{
				"commitment": hex.EncodeToString(body.Commitment),
				"asset":      body.Asset,
				"amount":     fmt.Sprintf("%d", body.Amount),
			},
		})
	case txKindSpend:
		var body SpendNote
		if err := json.Unmarshal(tx.Body, &body); err != nil {
			return component.RejectWrap(c.Name(), component.ExecuteReject, "malformed spend_note body", err)
		}
		buf.Put(nullifierKey(body.Nullifier), []byte{1})
		buf.Record(store.Event{
			Kind: "shieldedpool.note_spent",
			Attributes: map[string]string{
				"nullifier": hex.EncodeToString(body.Nullifier),
			},
		})
	}
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
	var notes []Note
	if err := json.Unmarshal(raw, &notes); err != nil {
		return component.RejectWrap(c.Name(), component.ExecuteReject, "malformed genesis note set", err)
	}
	for _, n := range notes {
		encoded, err := json.Marshal(n)
		if err != nil {
			return component.RejectWrap(c.Name(), component.ExecuteReject, "encoding genesis note", err)
		}
		buf.Put(noteKey(n.Commitment), encoded)
	}
	return nil
}

func (c *Component) BeginBlock(buf *store.TxBuffer, header component.BlockHeader) error {
	return nil
}

func (c *Component) EndBlock(buf *store.TxBuffer, header component.BlockHeader) ([]component.ValidatorPower, error) {
	return nil, nil
}
