package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OCAX-labs/headersync/config"
	"github.com/OCAX-labs/headersync/core"
	"github.com/OCAX-labs/headersync/core/rawdb"
	"github.com/OCAX-labs/headersync/core/types"
	"github.com/OCAX-labs/headersync/downloader"
	"github.com/OCAX-labs/headersync/network"
	"github.com/OCAX-labs/headersync/p2p"
	"github.com/go-kit/log"
	"github.com/spf13/cobra"
)

const defaultFetchTimeout = 10 * time.Second

var fetchTimeout time.Duration

var fetchHeaderCmd = &cobra.Command{
	Use:   "fetch-header [peer-addr] [hash-or-number]",
	Short: "Download and validate a single header from a peer",
	Args:  cobra.ExactArgs(2),
	RunE:  fetchHeader,
}

func init() {
	fetchHeaderCmd.Flags().DurationVar(&fetchTimeout, "timeout", defaultFetchTimeout, "Time allowed for connecting and fetching")
}

func fetchHeader(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	id, err := types.ParseBlockHashOrNumber(args[1])
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), fetchTimeout)
	defer cancel()

	header, err := fetchFromPeer(ctx, cfg, args[0], id)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(header.Header(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", header.Hash(), out)
	return nil
}

// fetchFromPeer runs a throwaway server on an empty in-memory chain, just
// enough to pass the status handshake with addr.
func fetchFromPeer(ctx context.Context, cfg *config.Config, addr string, id types.BlockHashOrNumber) (*types.SealedHeader, error) {
	server, _, closeServer, err := dialPeer(ctx, cfg, addr)
	if err != nil {
		return nil, err
	}
	defer closeServer()
	return downloader.GetSingleHeader(ctx, server, id)
}

// dialPeer starts a throwaway server and waits until addr completed the
// status handshake. The returned func stops the server.
func dialPeer(ctx context.Context, cfg *config.Config, addr string) (*network.Server, p2p.PeerID, func(), error) {
	chain, err := core.NewHeaderChain(nil, rawdb.NewMemoryDatabase(), core.GenesisHeader(cfg.ChainConfig()), nil)
	if err != nil {
		return nil, "", nil, err
	}
	server, err := network.NewServer(network.ServerOptions{
		ID:         "headersync-cli",
		ListenAddr: "127.0.0.1:0",
		NetworkID:  cfg.NetworkID,
		Chain:      chain,
		Logger:     log.NewNopLogger(),
	})
	if err != nil {
		chain.Stop()
		return nil, "", nil, err
	}
	if err := server.Start(); err != nil {
		chain.Stop()
		return nil, "", nil, err
	}
	closeServer := func() {
		server.Stop()
		chain.Stop()
	}

	if err := server.Connect(addr); err != nil {
		closeServer()
		return nil, "", nil, err
	}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if peers := server.Peers(); len(peers) > 0 {
			return server, peers[0].ID(), closeServer, nil
		}
		select {
		case <-ctx.Done():
			closeServer()
			return nil, "", nil, errors.New("peer did not complete the handshake")
		case <-ticker.C:
		}
	}
}
