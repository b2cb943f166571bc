// Package election keeps a single ledger node accepting writes.
package election

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

// Guard reports whether this node may mutate the ledger
type Guard interface {
	IsLeader() bool
}

// Static is a Guard with a fixed answer, for single-node deployments
type Static bool

func (s Static) IsLeader() bool { return bool(s) }

// term is one leadership attempt bound to a lease
type term interface {
	Campaign(ctx context.Context, node string) error
	Resign(ctx context.Context) error
	Done() <-chan struct{}
	Close() error
}

// Etcd campaigns for leadership under a key prefix. The node is leader from
// a won campaign until its lease is lost or ctx ends.
type Etcd struct {
	node    string
	newTerm func(ctx context.Context) (term, error)
	retry   time.Duration
	logger  *zap.Logger
	leader  atomic.Bool
}

// NewEtcd creates an etcd-backed guard. ttl is the lease TTL in seconds.
func NewEtcd(client *clientv3.Client, prefix, node string, ttl int, logger *zap.Logger) *Etcd {
	return newElection(node, func(ctx context.Context) (term, error) {
		session, err := concurrency.NewSession(client, concurrency.WithTTL(ttl), concurrency.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		return &etcdTerm{session: session, election: concurrency.NewElection(session, prefix)}, nil
	}, logger)
}

func newElection(node string, newTerm func(ctx context.Context) (term, error), logger *zap.Logger) *Etcd {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Etcd{
		node:    node,
		newTerm: newTerm,
		retry:   time.Second,
		logger:  logger,
	}
}

// IsLeader implements Guard
func (e *Etcd) IsLeader() bool {
	return e.leader.Load()
}

// Run campaigns until ctx ends. onElected runs after each won campaign and
// before writes are accepted; if it fails the node resigns and tries again.
func (e *Etcd) Run(ctx context.Context, onElected func(ctx context.Context) error) error {
	for {
		err := e.serveTerm(ctx, onElected)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			e.logger.Warn("leadership term ended", zap.String("node", e.node), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.retry):
		}
	}
}

func (e *Etcd) serveTerm(ctx context.Context, onElected func(ctx context.Context) error) error {
	t, err := e.newTerm(ctx)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer t.Close()

	if err := t.Campaign(ctx, e.node); err != nil {
		return fmt.Errorf("campaign: %w", err)
	}

	defer func() {
		e.leader.Store(false)
		resignCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.Resign(resignCtx); err != nil {
			e.logger.Warn("failed to resign", zap.String("node", e.node), zap.Error(err))
		}
	}()

	if onElected != nil {
		if err := onElected(ctx); err != nil {
			return fmt.Errorf("elected hook: %w", err)
		}
	}
	e.leader.Store(true)
	e.logger.Info("elected leader", zap.String("node", e.node))

	select {
	case <-ctx.Done():
		return nil
	case <-t.Done():
		return errors.New("session lost")
	}
}

type etcdTerm struct {
	session  *concurrency.Session
	election *concurrency.Election
}

func (t *etcdTerm) Campaign(ctx context.Context, node string) error {
	return t.election.Campaign(ctx, node)
}

func (t *etcdTerm) Resign(ctx context.Context) error {
	return t.election.Resign(ctx)
}

func (t *etcdTerm) Done() <-chan struct{} {
	return t.session.Done()
}

func (t *etcdTerm) Close() error {
	return t.session.Close()
}
