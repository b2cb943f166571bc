package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/terminal-bench/poolledger/internal/audit"
	"github.com/terminal-bench/poolledger/internal/auth"
	"github.com/terminal-bench/poolledger/internal/election"
	"github.com/terminal-bench/poolledger/internal/ledger"
	"github.com/terminal-bench/poolledger/internal/logging"
	"github.com/terminal-bench/poolledger/pkg/circuit"
	"github.com/terminal-bench/poolledger/pkg/units"
)

// EventSource lists committed records, newest first
type EventSource interface {
	Events(ctx context.Context, account ledger.Account, limit int) ([]ledger.Event, error)
}

// Limiter decides whether a client may make another request
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Gateway is the HTTP front of the ledger
type Gateway struct {
	router *gin.Engine
	server *http.Server
	cfg    Config

	ledger  *ledger.Ledger
	auth    *auth.Service
	units   units.Converter
	events  EventSource
	hub     *audit.Hub
	limiter Limiter
	leader  election.Guard
	breaker *circuit.Breaker
	persist func(ctx context.Context) error
	logger  *zap.Logger
}

// Config holds gateway configuration
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IssueTokens  bool
}

// Deps are the collaborators the gateway serves. Ledger, Auth and Events
// are required; the rest may be nil.
type Deps struct {
	Ledger  *ledger.Ledger
	Auth    *auth.Service
	Units   units.Converter
	Events  EventSource
	Hub     *audit.Hub
	Limiter Limiter
	Leader  election.Guard
	Breaker *circuit.Breaker
	// Persist runs after every committed deposit or withdrawal
	Persist func(ctx context.Context) error
	Logger  *zap.Logger
}

// New creates a gateway
func New(cfg Config, deps Deps) (*Gateway, error) {
	if deps.Ledger == nil || deps.Auth == nil || deps.Events == nil {
		return nil, errors.New("gateway needs a ledger, an auth service and an event source")
	}
	if deps.Leader == nil {
		deps.Leader = election.Static(true)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}

	g := &Gateway{
		router:  gin.New(),
		cfg:     cfg,
		ledger:  deps.Ledger,
		auth:    deps.Auth,
		units:   deps.Units,
		events:  deps.Events,
		hub:     deps.Hub,
		limiter: deps.Limiter,
		leader:  deps.Leader,
		breaker: deps.Breaker,
		persist: deps.Persist,
		logger:  deps.Logger,
	}
	g.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      g.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	g.setupRoutes()
	return g, nil
}

func (g *Gateway) setupRoutes() {
	g.router.Use(g.tracingMiddleware())
	g.router.Use(logging.Gin(g.logger))
	g.router.Use(g.rateLimitMiddleware())

	g.router.GET("/health", g.healthCheck)

	v1 := g.router.Group("/api/v1")
	{
		if g.cfg.IssueTokens {
			v1.POST("/token", g.issueToken)
		}

		// Mutations
		v1.POST("/deposit", g.authMiddleware(), g.leaderOnly(), g.deposit)
		v1.POST("/withdraw", g.authMiddleware(), g.leaderOnly(), g.withdraw)

		// Reads
		v1.GET("/balance/:account", g.getBalance)
		v1.GET("/pool", g.getPool)
		v1.GET("/events", g.listEvents)

		// WebSocket
		if g.hub != nil {
			v1.GET("/events/ws", g.handleWebSocket)
		}
	}
}

// Handler exposes the router for tests and embedding
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Start serves until Shutdown
func (g *Gateway) Start() error {
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.hub != nil {
		g.hub.Close()
	}
	return g.server.Shutdown(ctx)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (g *Gateway) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	g.hub.Serve(conn, ledger.Account(c.Query("account")))
}
