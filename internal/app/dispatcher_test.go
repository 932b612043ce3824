package app

import (
	"encoding/json"
	"testing"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/stretchr/testify/require"

	"github.com/penumbra-zone/penumbra-core/internal/component"
	"github.com/penumbra-zone/penumbra-core/internal/component/shieldedpool"
	"github.com/penumbra-zone/penumbra-core/internal/store"
	"github.com/penumbra-zone/penumbra-core/internal/store/kvdb"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	backing, err := kvdb.Open(dbm.NewMemDB())
	require.NoError(t, err)
	st, err := store.Open(backing, store.DefaultRouterConfig())
	require.NoError(t, err)
	return New(st)
}

func mustTx(t *testing.T, kind string, body any) *component.Tx {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return &component.Tx{ID: "tx-1", Kind: kind, Body: raw}
}

// TestScenarioASingleTxHappyPath mirrors the end-to-end scenario: init
// genesis, begin a block, mint a shielded note, end the block, commit,
// and check the resulting snapshot and app hash.
func TestScenarioASingleTxHappyPath(t *testing.T) {
	d := newTestDispatcher(t)

	genesisRoot, err := d.InitChain(&component.Genesis{ChainID: "test-1", GenesisTime: 0})
	require.NoError(t, err)
	_ = genesisRoot

	_, err = d.BeginBlock(component.BlockHeader{Height: 1, TimeUnix: 1000, ChainID: "test-1"})
	require.NoError(t, err)

	mint := mustTx(t, "shieldedpool.mint_note", shieldedpool.MintNote{
		Commitment: []byte("note-A"), Asset: "upenumbra", Amount: 100, Address: "addrA",
	})
	result, err := d.DeliverTx(mint)
	require.NoError(t, err)
	require.NotEmpty(t, result.Events)

	_, err = d.EndBlock(component.BlockHeader{Height: 1, TimeUnix: 1000, ChainID: "test-1"})
	require.NoError(t, err)

	appHash, err := d.Commit()
	require.NoError(t, err)

	snap := d.LatestSnapshot()
	require.Equal(t, uint64(2), snap.Version()) // version 1 from init_chain, version 2 from this block

	chainID, ok, err := snap.Get("chain_id")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "test-1", string(chainID))

	spent, err := shieldedpool.HasNullifier(snap, []byte("does-not-exist"))
	require.NoError(t, err)
	require.False(t, spent)

	_, ok, err = snap.Get("shielded_pool/notes/" + hexEncode([]byte("note-A")))
	require.NoError(t, err)
	require.True(t, ok)

	root, err := snap.Root()
	require.NoError(t, err)
	require.Equal(t, root, appHash)
}

// TestScenarioBTransactionRollback mirrors a failed stateful check:
// state must be unaffected and a later successful tx sees no residue.
func TestScenarioBTransactionRollback(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.InitChain(&component.Genesis{ChainID: "test-1"})
	require.NoError(t, err)
	_, err = d.BeginBlock(component.BlockHeader{Height: 1})
	require.NoError(t, err)

	badSpend := mustTx(t, "shieldedpool.spend_note", shieldedpool.SpendNote{
		Nullifier: []byte("null-x"), NoteCommitment: []byte("never-minted"),
	})
	_, err = d.DeliverTx(badSpend)
	require.Error(t, err)

	mint := mustTx(t, "shieldedpool.mint_note", shieldedpool.MintNote{
		Commitment: []byte("note-B"), Asset: "upenumbra", Amount: 50, Address: "addrB",
	})
	_, err = d.DeliverTx(mint)
	require.NoError(t, err)

	_, err = d.EndBlock(component.BlockHeader{Height: 1})
	require.NoError(t, err)
	_, err = d.Commit()
	require.NoError(t, err)

	snap := d.LatestSnapshot()
	_, ok, err := snap.Get("shielded_pool/nullifiers/" + hexEncode([]byte("null-x")))
	require.NoError(t, err)
	require.False(t, ok, "failed transaction must leave no residue")

	_, ok, err = snap.Get("shielded_pool/notes/" + hexEncode([]byte("note-B")))
	require.NoError(t, err)
	require.True(t, ok, "the later successful tx in the same block must still apply")
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}
