// Package config loads the node configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/OCAX-labs/headersync/consensus"
	"github.com/OCAX-labs/headersync/downloader"
	"github.com/OCAX-labs/headersync/utils"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDataDir   = "~/.headersync"
	DefaultNetworkID = 1337
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	DataDir   string `yaml:"datadir"`
	NetworkID uint64 `yaml:"networkId"`

	Chain      ChainConfig      `yaml:"chain"`
	P2P        P2PConfig        `yaml:"p2p"`
	API        APIConfig        `yaml:"api"`
	Downloader DownloaderConfig `yaml:"downloader"`
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
}

// ChainConfig selects the fork rules. Nil fork fields mean never active.
type ChainConfig struct {
	ChainID      uint64  `yaml:"chainId"`
	LondonBlock  *uint64 `yaml:"londonBlock"`
	ShanghaiTime *uint64 `yaml:"shanghaiTime"`
	Merged       bool    `yaml:"merged"`
}

type P2PConfig struct {
	ListenAddr     string        `yaml:"listenAddr"`
	Seeds          []string      `yaml:"seeds"`
	MaxBadMessages int           `yaml:"maxBadMessages"`
	DialTimeout    time.Duration `yaml:"dialTimeout"`
	TxPoolSize     int           `yaml:"txPoolSize"`
}

type APIConfig struct {
	// ListenAddr is empty to disable the HTTP API.
	ListenAddr         string `yaml:"listenAddr"`
	MaxTracingRequests uint32 `yaml:"maxTracingRequests"`
}

type DownloaderConfig struct {
	BatchSize     uint64        `yaml:"batchSize"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    uint64        `yaml:"maxRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	RetryInterval time.Duration `yaml:"retryInterval"`
}

type DatabaseConfig struct {
	Cache   int `yaml:"cache"`
	Handles int `yaml:"handles"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default is a single dev node with every fork active from genesis.
func Default() *Config {
	dev := consensus.DevChainConfig()
	return &Config{
		DataDir:   DefaultDataDir,
		NetworkID: DefaultNetworkID,
		Chain: ChainConfig{
			ChainID:      dev.ChainID.Uint64(),
			LondonBlock:  dev.LondonBlock,
			ShanghaiTime: dev.ShanghaiTime,
			Merged:       dev.Merged,
		},
		P2P: P2PConfig{
			ListenAddr:     ":30303",
			MaxBadMessages: 3,
			DialTimeout:    5 * time.Second,
			TxPoolSize:     4096,
		},
		API: APIConfig{
			ListenAddr:         "127.0.0.1:8545",
			MaxTracingRequests: 8,
		},
		Downloader: DownloaderConfig{
			BatchSize:     downloader.DefaultBatchSize,
			Timeout:       downloader.DefaultTimeout,
			MaxRetries:    downloader.DefaultMaxRetries,
			RetryDelay:    downloader.DefaultRetryDelay,
			RetryInterval: time.Second,
		},
		Database: DatabaseConfig{
			Cache:   16,
			Handles: 16,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "logfmt",
		},
	}
}

// Load reads the file at path over the defaults. Unknown keys are an error.
func Load(path string) (*Config, error) {
	path, err := utils.ParsePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return fmt.Errorf("%w: datadir is empty", ErrInvalidConfig)
	case c.Chain.ChainID == 0:
		return fmt.Errorf("%w: chain id is zero", ErrInvalidConfig)
	case c.P2P.ListenAddr == "":
		return fmt.Errorf("%w: p2p listen address is empty", ErrInvalidConfig)
	case c.Downloader.BatchSize == 0:
		return fmt.Errorf("%w: downloader batch size is zero", ErrInvalidConfig)
	case c.Downloader.Timeout <= 0:
		return fmt.Errorf("%w: downloader timeout must be positive", ErrInvalidConfig)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "logfmt" && c.Log.Format != "json" {
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ResolvedDataDir is DataDir with ~ and environment variables expanded.
func (c *Config) ResolvedDataDir() (string, error) {
	return utils.ParsePath(c.DataDir)
}

// ChainDataDir is where the header database lives.
func (c *Config) ChainDataDir() (string, error) {
	dir, err := c.ResolvedDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "chaindata"), nil
}

// NodeKeyFile is where the node key is kept.
func (c *Config) NodeKeyFile() (string, error) {
	dir, err := c.ResolvedDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "nodekey.json"), nil
}

// ChainConfig converts the chain section into consensus rules.
func (c *Config) ChainConfig() *consensus.ChainConfig {
	return &consensus.ChainConfig{
		ChainID:      new(big.Int).SetUint64(c.Chain.ChainID),
		LondonBlock:  c.Chain.LondonBlock,
		ShanghaiTime: c.Chain.ShanghaiTime,
		Merged:       c.Chain.Merged,
	}
}

// DownloaderConfig converts the downloader section. Logger and registerer
// are left for the caller.
func (c *Config) DownloaderConfig() downloader.Config {
	return downloader.Config{
		BatchSize:  c.Downloader.BatchSize,
		Timeout:    c.Downloader.Timeout,
		MaxRetries: c.Downloader.MaxRetries,
		RetryDelay: c.Downloader.RetryDelay,
	}
}
