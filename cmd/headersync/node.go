package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OCAX-labs/headersync/node"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"
)

var (
	p2pAddr string
	apiAddr string
	seeds   []string
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run the sync node until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runNode,
}

func init() {
	nodeCmd.Flags().StringVar(&p2pAddr, "p2p.addr", "", "P2P listen address, overrides the config file")
	nodeCmd.Flags().StringVar(&apiAddr, "api.addr", "", "HTTP API listen address, overrides the config file")
	nodeCmd.Flags().StringSliceVar(&seeds, "seed", nil, "Seed node address (repeatable), replaces the configured seeds")
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if p2pAddr != "" {
		cfg.P2P.ListenAddr = p2pAddr
	}
	if apiAddr != "" {
		cfg.API.ListenAddr = apiAddr
	}
	if len(seeds) > 0 {
		cfg.P2P.Seeds = seeds
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	n, err := node.New(cfg, logger, os.Getenv(passphraseEnv))
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		n.Stop()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	level.Info(logger).Log("msg", "shutting down")
	n.Stop()
	return nil
}
