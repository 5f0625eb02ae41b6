// Package node assembles a running header sync node from its config.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OCAX-labs/headersync/api"
	"github.com/OCAX-labs/headersync/config"
	"github.com/OCAX-labs/headersync/consensus"
	"github.com/OCAX-labs/headersync/core"
	"github.com/OCAX-labs/headersync/core/rawdb"
	"github.com/OCAX-labs/headersync/downloader"
	"github.com/OCAX-labs/headersync/keystore"
	"github.com/OCAX-labs/headersync/kvdb"
	"github.com/OCAX-labs/headersync/network"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 5 * time.Second

type Node struct {
	config *config.Config
	logger log.Logger

	keys       *keystore.KeyStore
	db         kvdb.Database
	chain      *core.HeaderChain
	forkchoice *consensus.ForkchoiceWatch
	server     *network.Server
	downloader *downloader.LinearDownloader
	syncer     *downloader.Syncer
	api        *api.Server
	registry   *prometheus.Registry

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New opens the database and builds every component. Nothing runs until
// Start.
func New(cfg *config.Config, logger log.Logger, passphrase string) (*Node, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &Node{
		config:     cfg,
		logger:     logger,
		keys:       keystore.NewKeyStore(),
		forkchoice: consensus.NewForkchoiceWatch(consensus.ForkchoiceState{}),
		registry:   prometheus.NewRegistry(),
	}
	n.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	keyFile, err := cfg.NodeKeyFile()
	if err != nil {
		return nil, err
	}
	if err := n.keys.LoadOrGenerate(passphrase, keyFile); err != nil {
		return nil, fmt.Errorf("node key: %w", err)
	}
	id := n.keys.Address().Hex()
	n.logger = log.With(logger, "node", id[:10])
	rawdb.SetLogger(n.logger)

	dir, err := cfg.ChainDataDir()
	if err != nil {
		return nil, err
	}
	n.db, err = rawdb.NewPebbleDBDatabase(dir, cfg.Database.Cache, cfg.Database.Handles, "headersync/db/chaindata/", false)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	chainConfig := cfg.ChainConfig()
	engine := consensus.NewEthereum(chainConfig, n.forkchoice)
	n.chain, err = core.NewHeaderChain(n.logger, n.db, core.GenesisHeader(chainConfig), core.NewHeaderValidator(engine))
	if err != nil {
		n.db.Close()
		return nil, err
	}

	n.server, err = network.NewServer(network.ServerOptions{
		ID:             id,
		ListenAddr:     cfg.P2P.ListenAddr,
		SeedNodes:      cfg.P2P.Seeds,
		NetworkID:      cfg.NetworkID,
		Chain:          n.chain,
		TxPool:         network.NewTxPool(cfg.P2P.TxPoolSize),
		Logger:         n.logger,
		Registerer:     n.registry,
		MaxBadMessages: cfg.P2P.MaxBadMessages,
		DialTimeout:    cfg.P2P.DialTimeout,
	})
	if err != nil {
		n.chain.Stop()
		n.db.Close()
		return nil, err
	}

	dlConfig := cfg.DownloaderConfig()
	dlConfig.Logger = n.logger
	dlConfig.Registerer = n.registry
	dlConfig.Chain = n.chain
	n.downloader = downloader.NewLinearDownloader(engine, n.server, dlConfig)
	n.syncer = downloader.NewSyncer(n.downloader, n.chain, downloader.SyncerOptions{
		Logger:        n.logger,
		RetryInterval: cfg.Downloader.RetryInterval,
	})

	n.api = api.NewServer(api.ServerConfig{
		Logger:             n.logger,
		ListenAddr:         cfg.API.ListenAddr,
		MaxTracingRequests: cfg.API.MaxTracingRequests,
		Gatherer:           n.registry,
	}, n.chain, n.syncer, n.forkchoice, rawdb.NewDbTool(n.db, n.logger))
	return n, nil
}

// Start runs the p2p server, the sync loop and, when configured, the API.
func (n *Node) Start() error {
	if err := n.server.Start(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.syncer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			level.Error(n.logger).Log("msg", "sync loop stopped", "err", err)
		}
	}()

	if n.config.API.ListenAddr != "" {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.api.Start(); err != nil {
				level.Error(n.logger).Log("msg", "api server stopped", "err", err)
			}
		}()
	}
	level.Info(n.logger).Log("msg", "node started", "p2p", n.server.Addr(), "head", n.chain.CurrentHeader().Number())
	return nil
}

// Stop shuts every component down and closes the database.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		if n.cancel != nil {
			n.cancel()
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := n.api.Shutdown(ctx); err != nil {
			level.Warn(n.logger).Log("msg", "api shutdown", "err", err)
		}
		n.server.Stop()
		n.wg.Wait()
		n.chain.Stop()
		if err := n.db.Close(); err != nil {
			level.Error(n.logger).Log("msg", "failed to close database", "err", err)
		}
		level.Info(n.logger).Log("msg", "node stopped")
	})
}

func (n *Node) ID() string                             { return n.server.ID }
func (n *Node) Chain() *core.HeaderChain               { return n.chain }
func (n *Node) Forkchoice() *consensus.ForkchoiceWatch { return n.forkchoice }
func (n *Node) Server() *network.Server                { return n.server }
func (n *Node) Syncer() *downloader.Syncer             { return n.syncer }
func (n *Node) API() *api.Server                       { return n.api }
func (n *Node) Registry() *prometheus.Registry         { return n.registry }
