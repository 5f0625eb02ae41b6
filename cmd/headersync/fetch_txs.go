package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OCAX-labs/headersync/config"
	"github.com/OCAX-labs/headersync/core/types"
	"github.com/OCAX-labs/headersync/network"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

var fetchTxsCmd = &cobra.Command{
	Use:   "fetch-txs [peer-addr] [tx-hash...]",
	Short: "Download pooled transactions by hash from a peer",
	Long: `fetch-txs asks a peer for the bodies of the given transaction hashes.
Hashes the peer does not deliver are asked for again and finally listed as
missing. A peer answering with unrequested or unsigned transactions is
reported and the command fails.`,
	Args: cobra.MinimumNArgs(2),
	RunE: fetchTxs,
}

func init() {
	fetchTxsCmd.Flags().DurationVar(&fetchTimeout, "timeout", defaultFetchTimeout, "Time allowed for connecting and fetching")
}

// txsResult is what fetch-txs prints.
type txsResult struct {
	Transactions []*types.Transaction `json:"transactions"`
	Missing      []common.Hash        `json:"missing"`
}

func fetchTxs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	hashes := make([]common.Hash, 0, len(args)-1)
	for _, arg := range args[1:] {
		raw, err := hexutil.Decode(arg)
		if err != nil || len(raw) != common.HashLength {
			return fmt.Errorf("invalid transaction hash %q", arg)
		}
		hashes = append(hashes, common.BytesToHash(raw))
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), fetchTimeout)
	defer cancel()

	res, err := fetchTxsFromPeer(ctx, cfg, args[0], hashes)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", out)
	return nil
}

func fetchTxsFromPeer(ctx context.Context, cfg *config.Config, addr string, hashes []common.Hash) (*txsResult, error) {
	server, peer, closeServer, err := dialPeer(ctx, cfg, addr)
	if err != nil {
		return nil, err
	}
	defer closeServer()

	chainID := cfg.ChainConfig().ChainID
	fetcher := network.NewTxFetcher(server, server.TxPool, network.TxFetcherConfig{
		Signer:  types.NewLondonSigner(chainID),
		Timeout: cfg.Downloader.Timeout,
	})
	txs, missing, err := fetcher.Fetch(ctx, peer, hashes)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []*types.Transaction{}
	}
	if missing == nil {
		missing = []common.Hash{}
	}
	return &txsResult{Transactions: txs, Missing: missing}, nil
}
