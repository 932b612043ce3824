// Command pd runs a single Penumbra consensus node: it wires the
// versioned authenticated Store, the component dispatcher, and the
// ABCI adapter into an in-process CometBFT node, grounded on the
// teacher's root main.go (flag parsing, config load, signal-driven
// shutdown) and pkg/consensus/bft_integration.go's NewRealCometBFTEngine
// (in-process node.NewNode wiring rather than a socket/gRPC ABCI server).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cmtcfg "github.com/cometbft/cometbft/config"
	dbm "github.com/cometbft/cometbft-db"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/cometbft/cometbft/node"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/privval"
	"github.com/cometbft/cometbft/proxy"

	"github.com/penumbra-zone/penumbra-core/internal/abci"
	"github.com/penumbra-zone/penumbra-core/internal/app"
	"github.com/penumbra-zone/penumbra-core/internal/config"
	"github.com/penumbra-zone/penumbra-core/internal/index"
	"github.com/penumbra-zone/penumbra-core/internal/metrics"
	"github.com/penumbra-zone/penumbra-core/internal/store"
	"github.com/penumbra-zone/penumbra-core/internal/store/kvdb"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	configPath := flag.String("config", "config.yaml", "path to the node's YAML configuration file")
	homeDir := flag.String("home", "", "CometBFT home directory (overrides config.yaml's data_dir when set)")
	metricsAddr := flag.String("metrics-listen-address", "127.0.0.1:9090", "address the Prometheus /metrics endpoint listens on")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *homeDir != "" {
		cfg.DataDir = *homeDir
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	dispatcher, err := buildDispatcher(cfg)
	if err != nil {
		log.Fatalf("building dispatcher: %v", err)
	}

	var abciOpts []abci.Option
	if cfg.Index.Enabled {
		idx, err := index.Open(index.Config{
			DSN:          cfg.Index.DSN,
			MaxConns:     cfg.Index.MaxConns,
			MaxIdleConns: cfg.Index.MaxIdleConns,
		})
		if err != nil {
			// The event indexer is a queryable mirror, not part of the
			// Store's correctness; a node still runs consensus without it.
			log.Printf("event indexer disabled: %v", err)
		} else {
			defer idx.Close()
			abciOpts = append(abciOpts, abci.WithIndexer(idx))
		}
	}
	abciApp := abci.New(dispatcher, abciOpts...)

	metricsServer := &http.Server{Addr: *metricsAddr, Handler: metrics.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	n, err := buildCometNode(cfg, abciApp)
	if err != nil {
		log.Fatalf("building cometbft node: %v", err)
	}

	if err := n.Start(); err != nil {
		log.Fatalf("starting cometbft node: %v", err)
	}
	log.Printf("node started: chain_id=%s home=%s", cfg.ChainID, cfg.DataDir)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down")
	if err := n.Stop(); err != nil {
		log.Printf("stopping cometbft node: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
}

// buildDispatcher opens the backing KV under cfg.DataDir, wraps it in
// the Store's substore router, and returns a Dispatcher ready to drive
// from ABCI callbacks.
func buildDispatcher(cfg *config.Config) (*app.Dispatcher, error) {
	backend := dbm.BackendType(cfg.Store.Backend)
	dataDir := filepath.Join(cfg.DataDir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := dbm.NewDB(cfg.Store.DBName, backend, dataDir)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", backend, err)
	}

	backing, err := kvdb.Open(db)
	if err != nil {
		return nil, fmt.Errorf("opening backing kv: %w", err)
	}

	storage, err := store.Open(backing, store.DefaultRouterConfig())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	return app.New(storage), nil
}

// buildCometNode constructs an in-process CometBFT node over abciApp,
// following NewRealCometBFTEngine's dbProvider/privval/node-key wiring
// but using proxy.NewLocalClientCreator directly rather than dialing
// out over a socket, since the ABCI application and the node share a
// process.
func buildCometNode(cfg *config.Config, abciApp *abci.Application) (*node.Node, error) {
	cometCfg := cmtcfg.DefaultConfig()
	cometCfg.RootDir = cfg.DataDir
	cometCfg.DBBackend = cfg.Store.Backend
	cometCfg.Moniker = cfg.ChainID

	dbProvider := cmtcfg.DBProvider(func(ctx *cmtcfg.DBContext) (dbm.DB, error) {
		return dbm.NewDB(ctx.ID, dbm.BackendType(cometCfg.DBBackend), filepath.Join(cometCfg.RootDir, "data"))
	})

	pv := privval.LoadFilePV(cometCfg.PrivValidatorKeyFile(), cometCfg.PrivValidatorStateFile())
	nodeKey, err := p2p.LoadNodeKey(cometCfg.NodeKeyFile())
	if err != nil {
		return nil, fmt.Errorf("loading node key: %w", err)
	}

	tmLogger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout)).With("module", "cometbft")

	n, err := node.NewNode(
		cometCfg,
		pv,
		nodeKey,
		proxy.NewLocalClientCreator(abciApp),
		node.DefaultGenesisDocProviderFunc(cometCfg),
		dbProvider,
		node.DefaultMetricsProvider(cometCfg.Instrumentation),
		tmLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("creating cometbft node: %w", err)
	}
	return n, nil
}
