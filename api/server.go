// Package api serves the node's HTTP interface: header lookups, sync
// progress, the fork-choice target and database inspection.
package api

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"sync"

	"github.com/OCAX-labs/headersync/consensus"
	"github.com/OCAX-labs/headersync/core/rawdb"
	"github.com/OCAX-labs/headersync/core/types"
	"github.com/OCAX-labs/headersync/downloader"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxListLimit = 1024

var (
	errHeaderNotFound  = errors.New("header not found")
	errEmptyForkchoice = errors.New("head block hash is required")
	errNoDatabase      = errors.New("database inspection is disabled")

	// Secure this for production in terms of allowed origins
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
)

type APIError struct {
	Error string `json:"error"`
}

type Header struct {
	Hash            common.Hash    `json:"hash"`
	ParentHash      common.Hash    `json:"parentHash"`
	Number          hexutil.Uint64 `json:"number"`
	Coinbase        common.Address `json:"miner"`
	Root            common.Hash    `json:"stateRoot"`
	TxHash          common.Hash    `json:"transactionsRoot"`
	ReceiptHash     common.Hash    `json:"receiptsRoot"`
	Difficulty      *hexutil.Big   `json:"difficulty"`
	GasLimit        hexutil.Uint64 `json:"gasLimit"`
	GasUsed         hexutil.Uint64 `json:"gasUsed"`
	Time            hexutil.Uint64 `json:"timestamp"`
	Extra           hexutil.Bytes  `json:"extraData"`
	BaseFee         *hexutil.Big   `json:"baseFeePerGas,omitempty"`
	WithdrawalsHash *common.Hash   `json:"withdrawalsRoot,omitempty"`
}

// DBEntry is a decoded database entry.
type DBEntry struct {
	Key   hexutil.Bytes `json:"key"`
	Value interface{}   `json:"value"`
}

// ChainReader is the local header chain the API reads from.
type ChainReader interface {
	CurrentHeader() *types.SealedHeader
	GetSealedHeader(id types.BlockHashOrNumber) *types.SealedHeader
}

// StatusReader reports sync progress.
type StatusReader interface {
	Status() downloader.SyncStatus
}

type ServerConfig struct {
	Logger     log.Logger
	ListenAddr string
	// MaxTracingRequests caps concurrent database inspection calls.
	MaxTracingRequests uint32
	// Gatherer backs /metrics. Defaults to the prometheus default registry.
	Gatherer prometheus.Gatherer
}

type Server struct {
	ServerConfig

	echo       *echo.Echo
	chain      ChainReader
	syncer     StatusReader
	forkchoice *consensus.ForkchoiceWatch
	dbTool     *rawdb.DbTool
	guard      *TracingCallGuard

	// fcMu makes POST /forkchoice the single writer of the watch.
	fcMu sync.Mutex
}

// NewServer builds the API. dbTool may be nil, which disables /debug/db.
func NewServer(cfg ServerConfig, chain ChainReader, syncer StatusReader, forkchoice *consensus.ForkchoiceWatch, dbTool *rawdb.DbTool) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		ServerConfig: cfg,
		echo:         echo.New(),
		chain:        chain,
		syncer:       syncer,
		forkchoice:   forkchoice,
		dbTool:       dbTool,
		guard:        NewTracingCallGuard(cfg.MaxTracingRequests),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.GET("/headers/:hashornumber", s.handleGetHeader)
	s.echo.GET("/sync/status", s.handleSyncStatus)
	s.echo.GET("/forkchoice", s.handleGetForkchoice)
	s.echo.POST("/forkchoice", s.handlePostForkchoice)

	// websockets for fork-choice updates
	s.echo.GET("/ws/forkchoice", s.handleWsForkchoice)

	s.echo.GET("/debug/db/:table", s.handleListTable, s.guard.Middleware())
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	level.Info(s.Logger).Log("msg", "api listening", "addr", s.ListenAddr)
	err := s.echo.Start(s.ListenAddr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routes without a listener.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Guard is the call guard protecting the inspection routes.
func (s *Server) Guard() *TracingCallGuard {
	return s.guard
}

func (s *Server) handleGetHeader(c echo.Context) error {
	id, err := types.ParseBlockHashOrNumber(c.Param("hashornumber"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Error: err.Error()})
	}
	header := s.chain.GetSealedHeader(id)
	if header == nil {
		return c.JSON(http.StatusNotFound, APIError{Error: errHeaderNotFound.Error()})
	}
	return c.JSON(http.StatusOK, intoJSONHeader(header))
}

func (s *Server) handleSyncStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.syncer.Status())
}

func (s *Server) handleGetForkchoice(c echo.Context) error {
	return c.JSON(http.StatusOK, s.forkchoice.Load())
}

func (s *Server) handlePostForkchoice(c echo.Context) error {
	state := new(consensus.ForkchoiceState)
	if err := c.Bind(state); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Error: err.Error()})
	}
	if state.HeadBlockHash == (common.Hash{}) {
		return c.JSON(http.StatusBadRequest, APIError{Error: errEmptyForkchoice.Error()})
	}

	s.fcMu.Lock()
	s.forkchoice.Store(*state)
	s.fcMu.Unlock()

	level.Info(s.Logger).Log("msg", "fork-choice updated", "head", state.HeadBlockHash)
	return c.JSON(http.StatusOK, state)
}

func (s *Server) handleListTable(c echo.Context) error {
	if s.dbTool == nil {
		return c.JSON(http.StatusNotFound, APIError{Error: errNoDatabase.Error()})
	}
	table, err := rawdb.ParseTable(c.Param("table"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Error: err.Error()})
	}
	skip, err := queryInt(c, "skip", 0)
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Error: err.Error()})
	}
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Error: err.Error()})
	}
	if limit == 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	reverse := c.QueryParam("reverse") == "true"

	entries, err := s.dbTool.List(table, skip, limit, reverse)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, APIError{Error: err.Error()})
	}
	out := make([]DBEntry, len(entries))
	for i, entry := range entries {
		value, err := rawdb.DecodeValue(table, entry.Value)
		if err != nil {
			value = hexutil.Bytes(entry.Value)
		}
		if header, ok := value.(*types.Header); ok {
			value = intoJSONHeader(header.Seal())
		}
		out[i] = DBEntry{Key: entry.Key, Value: value}
	}
	return c.JSON(http.StatusOK, out)
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

// handleWsForkchoice streams the fork-choice state: the current value right
// away, then every update until the client goes away.
func (s *Server) handleWsForkchoice(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	// The client never sends anything; a read error means it is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	state, version := s.forkchoice.LoadVersion()
	for {
		if err := ws.WriteJSON(state); err != nil {
			level.Debug(s.Logger).Log("msg", "websocket write failed", "err", err)
			return nil
		}
		state, version, err = s.forkchoice.WaitForChange(ctx, version)
		if err != nil {
			return nil
		}
	}
}

func intoJSONHeader(header *types.SealedHeader) Header {
	h := header.Header()
	out := Header{
		Hash:            header.Hash(),
		ParentHash:      h.ParentHash,
		Number:          hexutil.Uint64(h.Number),
		Coinbase:        h.Coinbase,
		Root:            h.Root,
		TxHash:          h.TxHash,
		ReceiptHash:     h.ReceiptHash,
		Difficulty:      (*hexutil.Big)(new(big.Int)),
		GasLimit:        hexutil.Uint64(h.GasLimit),
		GasUsed:         hexutil.Uint64(h.GasUsed),
		Time:            hexutil.Uint64(h.Time),
		Extra:           h.Extra,
		WithdrawalsHash: h.WithdrawalsHash,
	}
	if h.Difficulty != nil {
		out.Difficulty = (*hexutil.Big)(h.Difficulty)
	}
	if h.BaseFee != nil {
		out.BaseFee = (*hexutil.Big)(h.BaseFee)
	}
	return out
}
