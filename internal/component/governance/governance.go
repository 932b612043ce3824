// Package governance implements a minimal proposal/vote-tally component.
// Delegated voting weight, proposal payload execution, and withdrawal
// logic are out of scope (spec.md §1's Non-goals exclude full governance
// semantics); what remains exercises the dispatcher's fourth execution
// slot, immediately before the shielded pool.
package governance

import (
	"encoding/json"

	"github.com/penumbra-zone/penumbra-core/internal/component"
	"github.com/penumbra-zone/penumbra-core/internal/store"
)

const (
	txKindSubmitProposal = "governance.submit_proposal"
	txKindCastVote       = "governance.cast_vote"
)

const keyPrefixProposals = "governance/proposals/"

// Proposal is a persisted governance proposal and its running tally.
type Proposal struct {
	ProposalID uint64 `json:"proposal_id"`
	Title      string `json:"title"`
	VotesYes   uint64 `json:"votes_yes"`
	VotesNo    uint64 `json:"votes_no"`
}

// SubmitProposal is the body of a governance.submit_proposal transaction.
type SubmitProposal struct {
	ProposalID uint64 `json:"proposal_id"`
	Title      string `json:"title"`
}

// CastVote is the body of a governance.cast_vote transaction.
type CastVote struct {
	ProposalID uint64 `json:"proposal_id"`
	VoteYes    bool   `json:"vote_yes"`
	Power      uint64 `json:"power"`
}

// Component implements component.Component for governance.
type Component struct{}

// New returns the governance component.
func New() *Component { return &Component{} }

func (c *Component) Name() string { return "governance" }

func proposalKey(id uint64) string {
	return keyPrefixProposals + formatUint(id)
}

func formatUint(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func (c *Component) CheckStateless(tx *component.Tx) error {
	switch tx.Kind {
	case txKindSubmitProposal:
		var body SubmitProposal
		if err := json.Unmarshal(tx.Body, &body); err != nil {
			return component.RejectWrap(c.Name(), component.StatelessReject, "malformed submit_proposal body", err)
		}
		if body.Title == "" {
			return component.Reject(c.Name(), component.StatelessReject, "proposal title must not be empty")
		}
	case txKindCastVote:
		var body CastVote
		if err := json.Unmarshal(tx.Body, &body); err != nil {
			return component.RejectWrap(c.Name(), component.StatelessReject, "malformed cast_vote body", err)
		}
		if body.Power == 0 {
			return component.Reject(c.Name(), component.StatelessReject, "vote power must be nonzero")
		}
	}
	return nil
}

func (c *Component) CheckStateful(tx *component.Tx, snapshot *store.Snapshot) error {
	if tx.Kind != txKindCastVote {
		return nil
	}
	var body CastVote
	if err := json.Unmarshal(tx.Body, &body); err != nil {
		return component.RejectWrap(c.Name(), component.StatefulReject, "malformed cast_vote body", err)
	}
	if _, ok, err := snapshot.Get(proposalKey(body.ProposalID)); err != nil {
		return component.RejectWrap(c.Name(), component.StatefulReject, "reading proposal", err)
	} else if !ok {
		return component.Reject(c.Name(), component.StatefulReject, "vote references a proposal that does not exist")
	}
	return nil
}

func (c *Component) Execute(tx *component.Tx, buf *store.TxBuffer) error {
	switch tx.Kind {
	case txKindSubmitProposal:
		var body SubmitProposal
		if err := json.Unmarshal(tx.Body, &body); err != nil {
			return component.RejectWrap(c.Name(), component.ExecuteReject, "malformed submit_proposal body", err)
		}
		p := Proposal{ProposalID: body.ProposalID, Title: body.Title}
		raw, err := json.Marshal(p)
		if err != nil {
			return component.RejectWrap(c.Name(), component.ExecuteReject, "encoding proposal", err)
		}
		buf.Put(proposalKey(body.ProposalID), raw)
		buf.Record(store.Event{Kind: "governance.proposal_submitted", Attributes: map[string]string{"title": body.Title}})
	case txKindCastVote:
		var body CastVote
		if err := json.Unmarshal(tx.Body, &body); err != nil {
			return component.RejectWrap(c.Name(), component.ExecuteReject, "malformed cast_vote body", err)
		}
		raw, ok, err := buf.Get(proposalKey(body.ProposalID))
		if err != nil {
			return component.RejectWrap(c.Name(), component.ExecuteReject, "reading proposal", err)
		}
		if !ok {
			return component.Reject(c.Name(), component.ExecuteReject, "vote references a proposal that does not exist")
		}
		var p Proposal
		if err := json.Unmarshal(raw, &p); err != nil {
			return component.RejectWrap(c.Name(), component.ExecuteReject, "decoding proposal", err)
		}
		if body.VoteYes {
			p.VotesYes += body.Power
		} else {
			p.VotesNo += body.Power
		}
		encoded, err := json.Marshal(p)
		if err != nil {
			return component.RejectWrap(c.Name(), component.ExecuteReject, "encoding proposal", err)
		}
		buf.Put(proposalKey(body.ProposalID), encoded)
		buf.Record(store.Event{Kind: "governance.vote_cast", Attributes: map[string]string{"proposal_id": formatUint(body.ProposalID)}})
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
	var proposals []Proposal
	if err := json.Unmarshal(raw, &proposals); err != nil {
		return component.RejectWrap(c.Name(), component.ExecuteReject, "malformed genesis proposal set", err)
	}
	for _, p := range proposals {
		encoded, err := json.Marshal(p)
		if err != nil {
			return component.RejectWrap(c.Name(), component.ExecuteReject, "encoding genesis proposal", err)
		}
		buf.Put(proposalKey(p.ProposalID), encoded)
	}
	return nil
}

func (c *Component) BeginBlock(buf *store.TxBuffer, header component.BlockHeader) error {
	return nil
}

func (c *Component) EndBlock(buf *store.TxBuffer, header component.BlockHeader) ([]component.ValidatorPower, error) {
	return nil, nil
}
