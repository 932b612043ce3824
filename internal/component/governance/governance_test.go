package governance

import (
	"encoding/json"
	"testing"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/stretchr/testify/require"

	"github.com/penumbra-zone/penumbra-core/internal/component"
	"github.com/penumbra-zone/penumbra-core/internal/store"
	"github.com/penumbra-zone/penumbra-core/internal/store/kvdb"
)

func newTestStorage(t *testing.T) *store.Storage {
	t.Helper()
	backing, err := kvdb.Open(dbm.NewMemDB())
	require.NoError(t, err)
	st, err := store.Open(backing, store.DefaultRouterConfig())
	require.NoError(t, err)
	return st
}

func mustTx(t *testing.T, kind string, body any) *component.Tx {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return &component.Tx{ID: "t1", Kind: kind, Body: raw}
}

func TestSubmitProposalThenVoteTallies(t *testing.T) {
	st := newTestStorage(t)
	c := New()
	state := st.NewState()
	buf := state.BeginTransaction()

	require.NoError(t, c.Execute(mustTx(t, txKindSubmitProposal, SubmitProposal{ProposalID: 1, Title: "raise epoch length"}), buf))
	require.NoError(t, c.Execute(mustTx(t, txKindCastVote, CastVote{ProposalID: 1, VoteYes: true, Power: 50}), buf))
	require.NoError(t, c.Execute(mustTx(t, txKindCastVote, CastVote{ProposalID: 1, VoteYes: false, Power: 20}), buf))
	buf.Apply()

	raw, ok, err := state.Get(proposalKey(1))
	require.NoError(t, err)
	require.True(t, ok)

	var p Proposal
	require.NoError(t, json.Unmarshal(raw, &p))
	require.Equal(t, uint64(50), p.VotesYes)
	require.Equal(t, uint64(20), p.VotesNo)
}

func TestVoteOnUnknownProposalRejectedStateful(t *testing.T) {
	st := newTestStorage(t)
	c := New()
	snap, err := st.Commit(st.NewState())
	require.NoError(t, err)

	tx := mustTx(t, txKindCastVote, CastVote{ProposalID: 99, VoteYes: true, Power: 1})
	err = c.CheckStateful(tx, snap)
	require.Error(t, err)

	var cerr *component.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, component.StatefulReject, cerr.Kind)
}

func TestSubmitProposalRejectsEmptyTitle(t *testing.T) {
	c := New()
	tx := mustTx(t, txKindSubmitProposal, SubmitProposal{ProposalID: 1, Title: ""})
	require.Error(t, c.CheckStateless(tx))
}

func TestCastVoteRejectsZeroPower(t *testing.T) {
	c := New()
	tx := mustTx(t, txKindCastVote, CastVote{ProposalID: 1, VoteYes: true, Power: 0})
	require.Error(t, c.CheckStateless(tx))
}
