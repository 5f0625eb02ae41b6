package main

import (
	"fmt"
	"os"

	"github.com/OCAX-labs/headersync/config"
	"github.com/go-kit/log"
	"github.com/spf13/cobra"
)

const passphraseEnv = "HEADERSYNC_PASSPHRASE"

var (
	configFile string
	dataDir    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "datadir", "", "Data directory, overrides the config file")

	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(fetchHeaderCmd)
	rootCmd.AddCommand(fetchTxsCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "headersync",
	Short: "Header-only Ethereum sync node",
	Long: `headersync follows the fork-choice head published to it by downloading,
validating and storing block headers from its peers.

The node is configured from a YAML file (--config) on top of built-in dev
defaults. The node key is sealed with the passphrase in $HEADERSYNC_PASSPHRASE.`,
	SilenceUsage: true,
}

// loadConfig reads --config, or the defaults without it, and applies the
// global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) (log.Logger, error) {
	return cfg.Log.NewLogger(os.Stderr)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}
