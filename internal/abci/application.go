// Package abci adapts the application dispatcher to CometBFT's ABCI
// interface (spec.md §6), grounded on the teacher's
// pkg/consensus/abci_validator.go: the same FinalizeBlock/Commit shape,
// the same mutex-guarded callback serialization, and the same split
// between a logged-and-continued reject and a fatal abort.
package abci

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmted25519 "github.com/cometbft/cometbft/crypto/ed25519"
	cryptoproto "github.com/cometbft/cometbft/proto/tendermint/crypto"
	"github.com/google/uuid"

	"github.com/penumbra-zone/penumbra-core/internal/app"
	"github.com/penumbra-zone/penumbra-core/internal/component"
	"github.com/penumbra-zone/penumbra-core/internal/component/shieldedpool"
	"github.com/penumbra-zone/penumbra-core/internal/index"
	"github.com/penumbra-zone/penumbra-core/internal/metrics"
	"github.com/penumbra-zone/penumbra-core/internal/store"
)

const (
	queryPathNullifier = "/nullifier"
	queryPathKV        = "/kv"
)

// Application implements abcitypes.Application over an app.Dispatcher.
// All mutating ABCI callbacks are serialized by mu, matching the
// teacher's app.mu.Lock()-for-the-duration discipline around
// FinalizeBlock/Commit.
type Application struct {
	mu sync.Mutex

	logger     *log.Logger
	dispatcher *app.Dispatcher
	indexer    *index.Indexer
	chainID    string

	pendingHeight  uint64
	pendingBlockID string
	pendingEvents  []store.Event
}

// Option configures an Application at construction time.
type Option func(*Application)

// WithIndexer attaches a best-effort Postgres event indexer; every
// Commit mirrors the block's events to it after the commit itself has
// already succeeded, so an indexer outage can never affect consensus.
func WithIndexer(idx *index.Indexer) Option {
	return func(a *Application) {
		a.indexer = idx
	}
}

// New builds an Application driving dispatcher.
func New(dispatcher *app.Dispatcher, opts ...Option) *Application {
	a := &Application{
		logger:     log.New(log.Writer(), "[abci] ", log.LstdFlags),
		dispatcher: dispatcher,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Info returns the application's current height and app hash so
// CometBFT can determine whether a handshake replay is needed.
func (a *Application) Info(ctx context.Context, req *abcitypes.RequestInfo) (*abcitypes.ResponseInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := a.dispatcher.LatestSnapshot()
	root, err := snap.Root()
	if err != nil {
		a.fatal("info: reading latest root", err)
	}
	return &abcitypes.ResponseInfo{
		Version:          req.Version,
		AppVersion:       1,
		LastBlockHeight:  int64(snap.Version()),
		LastBlockAppHash: root[:],
	}, nil
}

// InitChain decodes req.AppStateBytes into a component.Genesis and runs
// the dispatcher's init_chain.
func (a *Application) InitChain(ctx context.Context, req *abcitypes.RequestInitChain) (*abcitypes.ResponseInitChain, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.chainID = req.ChainId
	genesis := &component.Genesis{
		ChainID:     req.ChainId,
		GenesisTime: req.Time.Unix(),
		AppState:    req.AppStateBytes,
	}

	root, err := a.dispatcher.InitChain(genesis)
	if err != nil {
		a.fatal("init_chain", err)
	}
	a.logger.Printf("init_chain: chain_id=%s app_hash=%x", req.ChainId, root[:8])
	return &abcitypes.ResponseInitChain{AppHash: root[:]}, nil
}

// CheckTx runs the dispatcher's mempool-only admission check: stateless
// then stateful, never mutating state.
func (a *Application) CheckTx(ctx context.Context, req *abcitypes.RequestCheckTx) (*abcitypes.ResponseCheckTx, error) {
	tx, err := decodeTx(req.Tx)
	if err != nil {
		return &abcitypes.ResponseCheckTx{Code: 1, Log: "malformed transaction: " + err.Error()}, nil
	}

	if err := a.dispatcher.CheckTx(tx); err != nil {
		return rejectCheckTx(err), nil
	}
	return &abcitypes.ResponseCheckTx{Code: 0, Log: "accepted"}, nil
}

// FinalizeBlock runs begin_block, then deliver_tx for every transaction
// in order, then end_block, matching CometBFT v0.38's combined shape and
// the teacher's FinalizeBlock.
func (a *Application) FinalizeBlock(ctx context.Context, req *abcitypes.RequestFinalizeBlock) (*abcitypes.ResponseFinalizeBlock, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	header := component.BlockHeader{
		Height:   uint64(req.Height),
		TimeUnix: req.Time.Unix(),
		ChainID:  a.chainID,
	}

	metrics.BlockHeight.Set(float64(header.Height))

	beginEvents, err := a.dispatcher.BeginBlock(header)
	if err != nil {
		a.fatal("begin_block", err)
	}

	blockEvents := append([]store.Event{}, beginEvents...)
	txResults := make([]*abcitypes.ExecTxResult, len(req.Txs))
	for i, raw := range req.Txs {
		tx, err := decodeTx(raw)
		if err != nil {
			metrics.TxsDelivered.WithLabelValues("malformed").Inc()
			txResults[i] = &abcitypes.ExecTxResult{Code: 1, Log: "malformed transaction: " + err.Error()}
			continue
		}
		result, err := a.dispatcher.DeliverTx(tx)
		if err != nil {
			metrics.TxsDelivered.WithLabelValues("rejected").Inc()
			txResults[i] = rejectExecTx(err)
			continue
		}
		metrics.TxsDelivered.WithLabelValues("accepted").Inc()
		txResults[i] = &abcitypes.ExecTxResult{Code: 0, Events: toABCIEvents(result.Events)}
		blockEvents = append(blockEvents, result.Events...)
	}

	endResult, err := a.dispatcher.EndBlock(header)
	if err != nil {
		a.fatal("end_block", err)
	}
	blockEvents = append(blockEvents, endResult.Events...)

	if a.indexer != nil {
		a.pendingHeight = header.Height
		a.pendingBlockID = uuid.NewString()
		a.pendingEvents = blockEvents
	}

	return &abcitypes.ResponseFinalizeBlock{
		TxResults:        txResults,
		ValidatorUpdates: toValidatorUpdates(endResult.ValidatorUpdates),
		Events:           toABCIEvents(append(beginEvents, endResult.Events...)),
	}, nil
}

// Commit instructs the dispatcher to commit the accumulated writes and
// logs the resulting app hash; the response carries only the retain
// height.
func (a *Application) Commit(ctx context.Context, req *abcitypes.RequestCommit) (*abcitypes.ResponseCommit, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	root, err := a.dispatcher.Commit()
	metrics.CommitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		a.fatal("commit", err)
	}

	if a.indexer != nil && len(a.pendingEvents) > 0 {
		a.indexer.IndexBlockBestEffort(ctx, a.pendingHeight, a.pendingBlockID, a.pendingEvents)
		a.pendingEvents = nil
	}

	snap := a.dispatcher.LatestSnapshot()
	retainHeight := int64(snap.Version()) - 100
	if retainHeight < 0 {
		retainHeight = 0
	}
	a.logger.Printf("committed version=%d app_hash=%x", snap.Version(), root[:8])
	return &abcitypes.ResponseCommit{RetainHeight: retainHeight}, nil
}

// Query answers a read-only query against the latest committed
// Snapshot. Two paths are answered: "/nullifier" reports whether the
// nullifier in req.Data is spent, and "/kv/<key>" reads <key>, which is
// routed via the Store's substore rules (spec.md §6). Any other path gets
// code 2.
func (a *Application) Query(ctx context.Context, req *abcitypes.RequestQuery) (*abcitypes.ResponseQuery, error) {
	a.mu.Lock()
	snap := a.dispatcher.LatestSnapshot()
	a.mu.Unlock()

	switch {
	case req.Path == queryPathNullifier:
		spent, err := shieldedpool.HasNullifier(snap, req.Data)
		if err != nil {
			return &abcitypes.ResponseQuery{Code: 1, Log: err.Error()}, nil
		}
		value := []byte("false")
		if spent {
			value = []byte("true")
		}
		return &abcitypes.ResponseQuery{Code: 0, Key: req.Data, Value: value, Height: int64(snap.Version())}, nil

	case strings.HasPrefix(req.Path, queryPathKV+"/"):
		key := strings.TrimPrefix(req.Path, queryPathKV+"/")
		v, ok, err := snap.Get(key)
		if err != nil {
			return &abcitypes.ResponseQuery{Code: 1, Log: err.Error()}, nil
		}
		if !ok {
			return &abcitypes.ResponseQuery{Code: 1, Log: "key not found", Key: []byte(key), Height: int64(snap.Version())}, nil
		}
		return &abcitypes.ResponseQuery{Code: 0, Key: []byte(key), Value: v, Height: int64(snap.Version())}, nil

	default:
		return &abcitypes.ResponseQuery{Code: 2, Log: "unknown query path: " + req.Path}, nil
	}
}

// PrepareProposal accepts the mempool's transaction ordering unchanged;
// this implementation does not reorder or filter proposed transactions.
func (a *Application) PrepareProposal(ctx context.Context, req *abcitypes.RequestPrepareProposal) (*abcitypes.ResponsePrepareProposal, error) {
	return &abcitypes.ResponsePrepareProposal{Txs: req.Txs}, nil
}

// ProcessProposal rejects a proposal only if it contains a transaction
// that does not even decode; full stateful re-validation happens in
// FinalizeBlock as usual for ABCI applications of this shape.
func (a *Application) ProcessProposal(ctx context.Context, req *abcitypes.RequestProcessProposal) (*abcitypes.ResponseProcessProposal, error) {
	for _, raw := range req.Txs {
		if _, err := decodeTx(raw); err != nil {
			return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_REJECT}, nil
		}
	}
	return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_ACCEPT}, nil
}

// ExtendVote, VerifyVoteExtension: vote extensions are not used.
func (a *Application) ExtendVote(ctx context.Context, req *abcitypes.RequestExtendVote) (*abcitypes.ResponseExtendVote, error) {
	return &abcitypes.ResponseExtendVote{}, nil
}

func (a *Application) VerifyVoteExtension(ctx context.Context, req *abcitypes.RequestVerifyVoteExtension) (*abcitypes.ResponseVerifyVoteExtension, error) {
	return &abcitypes.ResponseVerifyVoteExtension{Status: abcitypes.ResponseVerifyVoteExtension_ACCEPT}, nil
}

// State-sync snapshotting is not implemented; a node bootstraps by
// replaying from genesis.
func (a *Application) ListSnapshots(ctx context.Context, req *abcitypes.RequestListSnapshots) (*abcitypes.ResponseListSnapshots, error) {
	return &abcitypes.ResponseListSnapshots{}, nil
}

func (a *Application) OfferSnapshot(ctx context.Context, req *abcitypes.RequestOfferSnapshot) (*abcitypes.ResponseOfferSnapshot, error) {
	return &abcitypes.ResponseOfferSnapshot{Result: abcitypes.ResponseOfferSnapshot_ABORT}, nil
}

func (a *Application) LoadSnapshotChunk(ctx context.Context, req *abcitypes.RequestLoadSnapshotChunk) (*abcitypes.ResponseLoadSnapshotChunk, error) {
	return &abcitypes.ResponseLoadSnapshotChunk{}, nil
}

func (a *Application) ApplySnapshotChunk(ctx context.Context, req *abcitypes.RequestApplySnapshotChunk) (*abcitypes.ResponseApplySnapshotChunk, error) {
	return &abcitypes.ResponseApplySnapshotChunk{Result: abcitypes.ResponseApplySnapshotChunk_ABORT}, nil
}

func decodeTx(raw []byte) (*component.Tx, error) {
	var tx component.Tx
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// fatal logs and aborts the process, matching spec.md §7's rule that
// protocol-fatal errors (store.FatalError, and any error surfacing from a
// lifecycle hook that must not fail) cannot be recovered from in place.
func (a *Application) fatal(op string, err error) {
	a.logger.Fatalf("fatal error during %s: %v", op, err)
}

func rejectCheckTx(err error) *abcitypes.ResponseCheckTx {
	var cerr *component.Error
	if ok := asComponentError(err, &cerr); ok {
		metrics.RejectsByKind.WithLabelValues(kindLabel(cerr.Kind)).Inc()
		return &abcitypes.ResponseCheckTx{Code: codeFor(cerr.Kind), Log: cerr.Error()}
	}
	return &abcitypes.ResponseCheckTx{Code: 1, Log: err.Error()}
}

func rejectExecTx(err error) *abcitypes.ExecTxResult {
	var cerr *component.Error
	if ok := asComponentError(err, &cerr); ok {
		metrics.RejectsByKind.WithLabelValues(kindLabel(cerr.Kind)).Inc()
		return &abcitypes.ExecTxResult{Code: codeFor(cerr.Kind), Log: cerr.Error()}
	}
	return &abcitypes.ExecTxResult{Code: 1, Log: err.Error()}
}

func kindLabel(kind component.Kind) string {
	switch kind {
	case component.StatelessReject:
		return "stateless"
	case component.StatefulReject:
		return "stateful"
	case component.ExecuteReject:
		return "execute"
	default:
		return "unknown"
	}
}

func asComponentError(err error, target **component.Error) bool {
	for err != nil {
		if cerr, ok := err.(*component.Error); ok {
			*target = cerr
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func codeFor(kind component.Kind) uint32 {
	switch kind {
	case component.StatelessReject:
		return 10
	case component.StatefulReject:
		return 11
	case component.ExecuteReject:
		return 12
	default:
		return 1
	}
}

func toABCIEvents(events []store.Event) []abcitypes.Event {
	out := make([]abcitypes.Event, 0, len(events))
	for _, e := range events {
		attrs := make([]abcitypes.EventAttribute, 0, len(e.Attributes))
		for k, v := range e.Attributes {
			attrs = append(attrs, abcitypes.EventAttribute{Key: k, Value: v})
		}
		out = append(out, abcitypes.Event{Type: e.Kind, Attributes: attrs})
	}
	return out
}

func toValidatorUpdates(updates []component.ValidatorPower) []abcitypes.ValidatorUpdate {
	out := make([]abcitypes.ValidatorUpdate, 0, len(updates))
	for _, u := range updates {
		out = append(out, abcitypes.ValidatorUpdate{
			PubKey: cryptoproto.PublicKey{
				Sum: &cryptoproto.PublicKey_Ed25519{
					Ed25519: cmted25519.PubKey(u.PubKey),
				},
			},
			Power: u.Power,
		})
	}
	return out
}
