package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log/level"
	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullConfig = `
datadir: $TESTROOT/node
networkId: 5
chain:
  chainId: 5
  londonBlock: 10
  merged: false
p2p:
  listenAddr: 127.0.0.1:4000
  seeds:
    - 127.0.0.1:4001
    - 127.0.0.1:4002
  maxBadMessages: 5
  dialTimeout: 2s
api:
  listenAddr: ""
downloader:
  batchSize: 64
  timeout: 1500ms
  maxRetries: 2
log:
  level: debug
  format: json
`

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.ChainConfig().IsLondon(0))
	assert.True(t, cfg.ChainConfig().Merged)
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	t.Setenv("TESTROOT", root)
	path := filepath.Join(root, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), cfg.NetworkID)
	assert.Equal(t, "127.0.0.1:4000", cfg.P2P.ListenAddr)
	assert.Equal(t, []string{"127.0.0.1:4001", "127.0.0.1:4002"}, cfg.P2P.Seeds)
	assert.Equal(t, 5, cfg.P2P.MaxBadMessages)
	assert.Equal(t, 2*time.Second, cfg.P2P.DialTimeout)
	assert.Equal(t, "", cfg.API.ListenAddr)

	// Keys missing from the file keep their defaults.
	assert.Equal(t, 4096, cfg.P2P.TxPoolSize)
	assert.Equal(t, uint32(8), cfg.API.MaxTracingRequests)

	dl := cfg.DownloaderConfig()
	assert.Equal(t, uint64(64), dl.BatchSize)
	assert.Equal(t, 1500*time.Millisecond, dl.Timeout)
	assert.Equal(t, uint64(2), dl.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, dl.RetryDelay)

	chain := cfg.ChainConfig()
	assert.Equal(t, int64(5), chain.ChainID.Int64())
	assert.False(t, chain.IsLondon(9))
	assert.True(t, chain.IsLondon(10))
	assert.False(t, chain.IsShanghai(0))
	assert.False(t, chain.Merged)

	dir, err := cfg.ChainDataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "node", "chaindata"), dir)
	key, err := cfg.NodeKeyFile()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "node", "nodekey.json"), key)
}

func TestLoadExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	defer func() { homedir.DisableCache = false }()
	path := filepath.Join(home, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("networkId: 7\n"), 0o600))

	cfg, err := Load("~/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), cfg.NetworkID)

	dir, err := cfg.ResolvedDataDir()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dir, home), dir)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"unknown key":      "bogus: 1\n",
		"bad duration":     "downloader:\n  timeout: soon\n",
		"zero batch":       "downloader:\n  batchSize: 0\n",
		"zero chain id":    "chain:\n  chainId: 0\n",
		"bad level":        "log:\n  level: loud\n",
		"bad format":       "log:\n  format: xml\n",
		"empty datadir":    "datadir: \"\"\n",
		"empty listenAddr": "p2p:\n  listenAddr: \"\"\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.P2P.Seeds = []string{"10.0.0.1:30303"}

	data, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "timeout: 5s")

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "warn", Format: "logfmt"}.NewLogger(&buf)
	require.NoError(t, err)

	level.Info(logger).Log("msg", "hidden")
	level.Warn(logger).Log("msg", "shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
	assert.Contains(t, buf.String(), "level=warn")

	_, err = LogConfig{Level: "loud"}.NewLogger(&buf)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
