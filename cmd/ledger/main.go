package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/terminal-bench/poolledger/internal/audit"
	"github.com/terminal-bench/poolledger/internal/auth"
	"github.com/terminal-bench/poolledger/internal/config"
	"github.com/terminal-bench/poolledger/internal/election"
	"github.com/terminal-bench/poolledger/internal/gateway"
	"github.com/terminal-bench/poolledger/internal/ledger"
	"github.com/terminal-bench/poolledger/internal/logging"
	"github.com/terminal-bench/poolledger/internal/payout"
	"github.com/terminal-bench/poolledger/internal/store"
	"github.com/terminal-bench/poolledger/pkg/circuit"
	"github.com/terminal-bench/poolledger/pkg/messaging"
	"github.com/terminal-bench/poolledger/pkg/units"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
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
		logger.Error("ledger service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("ledger service stopped")
	_ = logger.Sync()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	conv, err := units.NewConverter(cfg.UnitDecimals)
	if err != nil {
		return err
	}

	auditLog := audit.NewLog()
	hub := audit.NewHub(logger.Named("hub"))
	recorders := audit.Fanout{auditLog, hub}
	var events gateway.EventSource = auditLog

	// Persistence
	var st *store.Store
	if cfg.DatabaseURL != "" {
		st, err = store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		recorders = append(recorders, audit.Store(st))
		events = st
	}

	// Payouts
	var transferer ledger.Transferer = payout.NewWallet()
	if cfg.NATSURL != "" {
		natsClient, err := messaging.NewClient(messaging.Config{
			URL:            cfg.NATSURL,
			Name:           "ledger-" + cfg.Node,
			ReconnectWait:  time.Second,
			MaxReconnects:  60,
			ConnectTimeout: 10 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer natsClient.Close()

		if cfg.SimulatePayouts {
			responder := payout.NewResponder(payout.NewWallet(), cfg.PayoutTimeout, logger.Named("payout-sim"))
			if err := natsClient.QueueSubscribe(cfg.PayoutSubject, messaging.QueuePayout, responder.ServeMsg); err != nil {
				return err
			}
		}

		transferer = payout.NewRemote(natsClient, cfg.PayoutSubject, cfg.PayoutTimeout, logger.Named("payout"))
		recorders = append(recorders, audit.NewPublisher(natsClient, cfg.PoolID, "ledger-"+cfg.Node, conv))
	}

	breaker := circuit.NewBreaker(circuit.Config{
		Name:        "payout",
		MaxFailures: cfg.BreakerMaxFailures,
		Timeout:     cfg.BreakerTimeout,
		HalfOpenMax: 1,
		OnStateChange: func(name string, from, to circuit.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	transferer = payout.NewGuarded(transferer, breaker)

	// Time series
	if cfg.InfluxURL != "" {
		influx := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
		defer influx.Close()
		recorders = append(recorders, audit.NewInflux(influx.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket)))
	}

	l, err := ledger.New(cfg.WithdrawalThreshold, cfg.BankCap,
		ledger.WithTransferer(transferer),
		ledger.WithRecorder(recorders),
		ledger.WithLogger(logger.Named("ledger")),
	)
	if err != nil {
		return err
	}

	snapshots := &snapshotter{ledger: l, store: st}

	authService, err := auth.NewService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}

	var limiter gateway.Limiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		limiter = gateway.NewRateLimiter(rdb, cfg.RateLimitMax, cfg.RateLimitWindow)
	}

	g, ctx := errgroup.WithContext(ctx)

	// Leadership
	var guard election.Guard = election.Static(true)
	if len(cfg.EtcdEndpoints) > 0 {
		etcd, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.EtcdEndpoints,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("connect to etcd: %w", err)
		}
		defer etcd.Close()

		e := election.NewEtcd(etcd, cfg.ElectionPrefix, cfg.Node, 10, logger.Named("election"))
		guard = e
		g.Go(func() error { return e.Run(ctx, snapshots.restore) })
	} else if err := snapshots.restore(ctx); err != nil {
		return err
	}

	gw, err := gateway.New(gateway.Config{
		Addr:        cfg.Addr(),
		IssueTokens: cfg.IssueTokens,
	}, gateway.Deps{
		Ledger:  l,
		Auth:    authService,
		Units:   conv,
		Events:  events,
		Hub:     hub,
		Limiter: limiter,
		Leader:  guard,
		Breaker: breaker,
		Persist: snapshots.save,
		Logger:  logger.Named("gateway"),
	})
	if err != nil {
		return err
	}

	g.Go(func() error {
		logger.Info("ledger service listening",
			zap.String("addr", cfg.Addr()),
			zap.Uint64("withdrawal_threshold", cfg.WithdrawalThreshold),
			zap.Uint64("bank_cap", cfg.BankCap),
		)
		return gw.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return gw.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// snapshotter moves ledger state to and from the store. Saves are
// serialized so an older snapshot never overwrites a newer one.
type snapshotter struct {
	mu     sync.Mutex
	ledger *ledger.Ledger
	store  *store.Store
}

func (s *snapshotter) save(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.SaveState(ctx, s.ledger.Snapshot(ctx))
}

func (s *snapshotter) restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok, err := s.store.LoadState(ctx)
	if err != nil {
		return err
	}
	if !ok {
		// no snapshot yet, but records may already be stored
		state = s.ledger.Snapshot(ctx)
		last, err := s.store.LastSequence(ctx)
		if err != nil {
			return err
		}
		if last > state.Sequence {
			state.Sequence = last
		}
	}
	return s.ledger.Restore(ctx, state)
}
