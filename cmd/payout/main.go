package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/terminal-bench/poolledger/internal/ledger"
	"github.com/terminal-bench/poolledger/internal/logging"
	"github.com/terminal-bench/poolledger/internal/payout"
	"github.com/terminal-bench/poolledger/pkg/messaging"
)

// Config holds payout worker settings
type Config struct {
	Port           string        `env:"PORT" envDefault:"8081"`
	NATSURL        string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	PayoutSubject  string        `env:"PAYOUT_SUBJECT" envDefault:"payout.request"`
	PayoutTimeout  time.Duration `env:"PAYOUT_TIMEOUT" envDefault:"5s"`
	RejectAccounts []string      `env:"PAYOUT_REJECT_ACCOUNTS" envSeparator:","`
	LogLevel       string        `env:"LOG_LEVEL"`
	Debug          bool          `env:"DEBUG" envDefault:"false"`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse env: %v\n", err)
		os.Exit(1)
	}

	logger, _, err := logging.New(cfg.LogLevel, cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("payout worker stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	msgClient, err := messaging.NewClient(messaging.Config{
		URL:            cfg.NATSURL,
		Name:           "payout-worker",
		ReconnectWait:  time.Second,
		MaxReconnects:  60,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer msgClient.Close()

	rejected := make(map[ledger.Account]bool, len(cfg.RejectAccounts))
	for _, a := range cfg.RejectAccounts {
		rejected[ledger.Account(a)] = true
	}
	wallet := payout.NewWallet(payout.WithFailure(func(to ledger.Account, _ uint64) error {
		if rejected[to] {
			return errors.New("recipient does not accept value")
		}
		return nil
	}))

	responder := payout.NewResponder(wallet, cfg.PayoutTimeout, logger)
	if err := msgClient.QueueSubscribe(cfg.PayoutSubject, messaging.QueuePayout, responder.ServeMsg); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(logging.Gin(logger))
	r.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		if !msgClient.IsConnected() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"nats_connected":  msgClient.IsConnected(),
			"nats_reconnects": msgClient.Reconnects(),
		})
	})
	r.GET("/api/v1/holdings/:account", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"holdings": wallet.Holdings(ledger.Account(c.Param("account")))})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("payout worker listening",
			zap.String("addr", srv.Addr),
			zap.String("subject", cfg.PayoutSubject),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := msgClient.Drain(); err != nil {
			logger.Warn("failed to drain NATS", zap.Error(err))
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
