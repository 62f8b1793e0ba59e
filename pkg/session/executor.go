package session

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/graphbolt/pkg/graphbolterr"
	"github.com/cuemby/graphbolt/pkg/log"
	"github.com/cuemby/graphbolt/pkg/metrics"
)

// ExecutorConfig controls the managed transaction executor's retry policy.
type ExecutorConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	Jitter       float64
	MaxRetryTime time.Duration
}

// DefaultExecutorConfig returns the documented defaults: 1s initial delay,
// 2x multiplier, ±20% jitter, 30s maximum cumulative retry time.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		InitialDelay: time.Second,
		Multiplier:   2,
		Jitter:       0.2,
		MaxRetryTime: 30 * time.Second,
	}
}

// TransactionWork is the caller-supplied unit of work for a managed
// transaction: it receives an open Transaction and returns whatever the
// caller wants to keep, or an error to trigger rollback and retry.
type TransactionWork func(tx *Transaction) (any, error)

// Executor runs a TransactionWork against transactions begun on a Session,
// retrying with exponential backoff on retryable errors until the work
// succeeds or the maximum cumulative retry time elapses.
type Executor struct {
	session *Session
	cfg     ExecutorConfig
	log     zerolog.Logger
}

// NewExecutor builds an Executor bound to session with cfg's retry policy.
func NewExecutor(session *Session, cfg ExecutorConfig) *Executor {
	return &Executor{session: session, cfg: cfg, log: log.WithComponent("executor")}
}

// Execute begins a transaction, runs work, and commits; on a retryable
// failure it rolls back (best-effort) and tries again after a backoff
// delay, until work succeeds or MaxRetryTime elapses.
func (e *Executor) Execute(ctx context.Context, work TransactionWork) (any, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ManagedTransactionDuration)

	deadline := time.Now().Add(e.cfg.MaxRetryTime)
	delay := e.cfg.InitialDelay
	var lastErr error

	for attempt := 0; ; attempt++ {
		result, err := e.attempt(ctx, work)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !graphbolterr.IsRetryable(err) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, lastErr
		}

		kind := "unknown"
		if ge, ok := err.(*graphbolterr.Error); ok {
			kind = string(ge.Kind)
		}
		metrics.ManagedTransactionRetriesTotal.WithLabelValues(kind).Inc()
		e.log.Warn().Err(err).Int("attempt", attempt+1).Msg("managed transaction failed, retrying")

		wait := e.backoff(delay)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, graphbolterr.Wrap(ctx.Err(), "managed transaction")
		}
		delay = time.Duration(float64(delay) * e.cfg.Multiplier)
	}
}

func (e *Executor) attempt(ctx context.Context, work TransactionWork) (any, error) {
	tx, err := e.session.BeginTransaction(ctx)
	if err != nil {
		return nil, err
	}

	result, workErr := work(tx)
	if workErr != nil {
		if tx.IsOpen() {
			_ = tx.Rollback(ctx)
		}
		return nil, workErr
	}

	if !tx.IsOpen() {
		// work already drove the transaction to a terminal state (e.g. it
		// called Commit/Rollback itself); nothing left to do here.
		return result, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Executor) backoff(base time.Duration) time.Duration {
	if e.cfg.Jitter == 0 {
		return base
	}
	spread := float64(base) * e.cfg.Jitter
	offset := (rand.Float64()*2 - 1) * spread
	return base + time.Duration(offset)
}
