package abci

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	dbm "github.com/cometbft/cometbft-db"
	"github.com/stretchr/testify/require"

	penumbraapp "github.com/penumbra-zone/penumbra-core/internal/app"
	"github.com/penumbra-zone/penumbra-core/internal/component/shieldedpool"
	"github.com/penumbra-zone/penumbra-core/internal/store"
	"github.com/penumbra-zone/penumbra-core/internal/store/kvdb"
)

func newTestApplication(t *testing.T) *Application {
	t.Helper()
	backing, err := kvdb.Open(dbm.NewMemDB())
	require.NoError(t, err)
	st, err := store.Open(backing, store.DefaultRouterConfig())
	require.NoError(t, err)
	return New(penumbraapp.New(st))
}

func mustMarshalTx(t *testing.T, kind string, body any) []byte {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	envelope := struct {
		ID   string          `json:"id"`
		Kind string          `json:"kind"`
		Body json.RawMessage `json:"body"`
	}{ID: "tx-1", Kind: kind, Body: payload}
	raw, err := json.Marshal(envelope)
	require.NoError(t, err)
	return raw
}

func TestInitChainReturnsNonzeroAppHash(t *testing.T) {
	a := newTestApplication(t)
	resp, err := a.InitChain(context.Background(), &abcitypes.RequestInitChain{
		ChainId: "test-1",
		Time:    time.Unix(0, 0),
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AppHash)
}

func TestCheckTxRejectsMalformedPayload(t *testing.T) {
	a := newTestApplication(t)
	resp, err := a.CheckTx(context.Background(), &abcitypes.RequestCheckTx{Tx: []byte("not json")})
	require.NoError(t, err)
	require.NotEqual(t, uint32(0), resp.Code)
}

func TestFinalizeBlockThenCommitAdvancesHeight(t *testing.T) {
	a := newTestApplication(t)
	_, err := a.InitChain(context.Background(), &abcitypes.RequestInitChain{ChainId: "test-1", Time: time.Unix(0, 0)})
	require.NoError(t, err)

	mintTx := mustMarshalTx(t, "shieldedpool.mint_note", shieldedpool.MintNote{
		Commitment: []byte("note-A"), Asset: "upenumbra", Amount: 10, Address: "addrA",
	})

	finalizeResp, err := a.FinalizeBlock(context.Background(), &abcitypes.RequestFinalizeBlock{
		Height: 1,
		Time:   time.Unix(1000, 0),
		Txs:    [][]byte{mintTx},
	})
	require.NoError(t, err)
	require.Len(t, finalizeResp.TxResults, 1)
	require.Equal(t, uint32(0), finalizeResp.TxResults[0].Code)

	commitResp, err := a.Commit(context.Background(), &abcitypes.RequestCommit{})
	require.NoError(t, err)
	require.GreaterOrEqual(t, commitResp.RetainHeight, int64(0))

	infoResp, err := a.Info(context.Background(), &abcitypes.RequestInfo{})
	require.NoError(t, err)
	require.Equal(t, int64(2), infoResp.LastBlockHeight)
}

func TestFinalizeBlockRejectsMalformedTxWithoutFailingTheBlock(t *testing.T) {
	a := newTestApplication(t)
	_, err := a.InitChain(context.Background(), &abcitypes.RequestInitChain{ChainId: "test-1", Time: time.Unix(0, 0)})
	require.NoError(t, err)

	resp, err := a.FinalizeBlock(context.Background(), &abcitypes.RequestFinalizeBlock{
		Height: 1,
		Time:   time.Unix(1000, 0),
		Txs:    [][]byte{[]byte("garbage")},
	})
	require.NoError(t, err)
	require.Len(t, resp.TxResults, 1)
	require.NotEqual(t, uint32(0), resp.TxResults[0].Code)
}

func TestQueryUnknownPathReturnsCodeTwo(t *testing.T) {
	a := newTestApplication(t)
	_, err := a.InitChain(context.Background(), &abcitypes.RequestInitChain{ChainId: "test-1", Time: time.Unix(0, 0)})
	require.NoError(t, err)

	resp, err := a.Query(context.Background(), &abcitypes.RequestQuery{Path: "/nonsense"})
	require.NoError(t, err)
	require.Equal(t, uint32(2), resp.Code)
}

func TestQueryKVReturnsStoredValue(t *testing.T) {
	a := newTestApplication(t)
	_, err := a.InitChain(context.Background(), &abcitypes.RequestInitChain{ChainId: "test-1", Time: time.Unix(0, 0)})
	require.NoError(t, err)

	resp, err := a.Query(context.Background(), &abcitypes.RequestQuery{Path: "/kv/chain_id"})
	require.NoError(t, err)
	require.Equal(t, uint32(0), resp.Code)
	require.Equal(t, "test-1", string(resp.Value))
}

func TestProcessProposalRejectsUndecodableTx(t *testing.T) {
	a := newTestApplication(t)
	resp, err := a.ProcessProposal(context.Background(), &abcitypes.RequestProcessProposal{
		Txs: [][]byte{[]byte("not json")},
	})
	require.NoError(t, err)
	require.Equal(t, abcitypes.ResponseProcessProposal_REJECT, resp.Status)
}

func TestOfferSnapshotAborts(t *testing.T) {
	a := newTestApplication(t)
	resp, err := a.OfferSnapshot(context.Background(), &abcitypes.RequestOfferSnapshot{})
	require.NoError(t, err)
	require.Equal(t, abcitypes.ResponseOfferSnapshot_ABORT, resp.Result)
}
