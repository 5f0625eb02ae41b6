package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/OCAX-labs/headersync/consensus"
	"github.com/OCAX-labs/headersync/core"
	"github.com/OCAX-labs/headersync/core/rawdb"
	"github.com/OCAX-labs/headersync/core/types"
	"github.com/OCAX-labs/headersync/downloader"
	"github.com/OCAX-labs/headersync/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStatus downloader.SyncStatus

func (s staticStatus) Status() downloader.SyncStatus { return downloader.SyncStatus(s) }

type testEnv struct {
	server *Server
	chain  *core.HeaderChain
	watch  *consensus.ForkchoiceWatch
	status staticStatus
}

func newTestEnv(t *testing.T, cfg ServerConfig) *testEnv {
	t.Helper()
	config := consensus.DevChainConfig()
	db := rawdb.NewMemoryDatabase()
	chain, err := core.NewHeaderChain(nil, db, core.GenesisHeader(config), nil)
	require.NoError(t, err)
	t.Cleanup(chain.Stop)
	_, err = chain.InsertHeaders(utils.MakeSealedHeaderChain(config, chain.Genesis().Header(), 5, 1))
	require.NoError(t, err)

	status := staticStatus{
		Head:     chain.CurrentHeader().NumHash(),
		Target:   chain.CurrentHeader().Hash(),
		Imported: 5,
	}
	watch := consensus.NewForkchoiceWatch(consensus.ForkchoiceState{})
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.NewRegistry()
	}
	return &testEnv{
		server: NewServer(cfg, chain, status, watch, rawdb.NewDbTool(db, nil)),
		chain:  chain,
		watch:  watch,
		status: status,
	}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	return e.do(t, httptest.NewRequest(http.MethodGet, target, nil))
}

func (e *testEnv) postJSON(t *testing.T, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return e.do(t, req)
}

func TestHandleGetHeader(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	third := env.chain.GetSealedHeader(types.NumberID(3))

	tests := []struct {
		name   string
		target string
		code   int
	}{
		{"by number", "/headers/3", http.StatusOK},
		{"by hash", "/headers/" + third.Hash().Hex(), http.StatusOK},
		{"unknown number", "/headers/99", http.StatusNotFound},
		{"unknown hash", "/headers/" + common.Hash{1}.Hex(), http.StatusNotFound},
		{"garbage", "/headers/xyz", http.StatusBadRequest},
		{"short hash", "/headers/0x1234", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.get(t, tt.target)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.code != http.StatusOK {
				var apiErr APIError
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
				assert.NotEmpty(t, apiErr.Error)
				return
			}
			var header Header
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &header))
			assert.Equal(t, third.Hash(), header.Hash)
			assert.Equal(t, hexutil.Uint64(3), header.Number)
			assert.Equal(t, third.ParentHash(), header.ParentHash)
		})
	}
}

func TestHandleSyncStatus(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	rec := env.get(t, "/sync/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var status downloader.SyncStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, downloader.SyncStatus(env.status), status)
}

func TestHandleForkchoice(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	head := env.chain.CurrentHeader().Hash()

	rec := env.postJSON(t, "/forkchoice", `{"headBlockHash":"`+head.Hex()+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, head, env.watch.Load().HeadBlockHash)

	rec = env.get(t, "/forkchoice")
	require.Equal(t, http.StatusOK, rec.Code)
	var state consensus.ForkchoiceState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, head, state.HeadBlockHash)

	rec = env.postJSON(t, "/forkchoice", `{"safeBlockHash":"`+head.Hex()+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.postJSON(t, "/forkchoice", `{"headBlockHash":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, version := env.watch.LoadVersion()
	assert.Equal(t, uint64(1), version)
}

type listedEntry struct {
	Key   hexutil.Bytes   `json:"key"`
	Value json.RawMessage `json:"value"`
}

func TestHandleListTable(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	rec := env.get(t, "/debug/db/headers?limit=2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var entries []listedEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	var header Header
	require.NoError(t, json.Unmarshal(entries[0].Value, &header))
	assert.Equal(t, env.chain.Genesis().Hash(), header.Hash)

	rec = env.get(t, "/debug/db/canonicalhashes?reverse=true&limit=1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	var hash common.Hash
	require.NoError(t, json.Unmarshal(entries[0].Value, &hash))
	assert.Equal(t, env.chain.CurrentHeader().Hash(), hash)

	rec = env.get(t, "/debug/db/nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.get(t, "/debug/db/headers?skip=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTableIsGuarded(t *testing.T) {
	env := newTestEnv(t, ServerConfig{MaxTracingRequests: 1})

	release, err := env.server.Guard().Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/debug/db/headers", nil).WithContext(ctx)
	rec := env.do(t, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	release()
	rec = env.get(t, "/debug/db/headers")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "headersync_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)
	env := newTestEnv(t, ServerConfig{Gatherer: reg})

	rec := env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "headersync_test_total 3")
}

func TestWsForkchoiceStreamsUpdates(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/forkchoice"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var state consensus.ForkchoiceState
	require.NoError(t, conn.ReadJSON(&state))
	assert.Equal(t, consensus.ForkchoiceState{}, state)

	for i := uint64(1); i <= 3; i++ {
		next := consensus.ForkchoiceState{HeadBlockHash: env.chain.GetSealedHeader(types.NumberID(i)).Hash()}
		env.watch.Store(next)
		require.NoError(t, conn.ReadJSON(&state))
		assert.Equal(t, next, state)
	}
}
