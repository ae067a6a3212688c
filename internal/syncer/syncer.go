// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syncer replicates documents between the local and network
// storage roots.
//
// The service:
// 1. Accepts path pairs through a bounded work queue
// 2. Copies whichever side is newer over the other, preserving mtimes
// 3. Records every attempt in the sync registry
// 4. Sweeps pending entries on a ticker, retrying with backoff
//
// Network absence is an expected state, not an error path. An
// unreachable network root parks the request as pending; the sweep
// picks it up once the probe reports the root back.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"timeclerk/internal/state"
	"timeclerk/internal/transaction"
)

// Probe reports reachability of the network root. Implemented by
// the storage prober; swapped for a stub in tests.
type Probe interface {
	NetworkAvailable() bool
}

// Config controls the sync service.
type Config struct {
	// QueueSize is the capacity of the dispatch queue. A full queue
	// defers requests to the sweep instead of blocking writers.
	QueueSize int

	// Workers is the number of goroutines consuming the queue.
	Workers int

	// SweepInterval is how often pending entries are re-examined.
	SweepInterval time.Duration

	// BackoffBase is the delay before the first retry. Each failed
	// retry doubles it, up to BackoffBase << BackoffCap.
	BackoffBase time.Duration

	// BackoffCap bounds the exponential backoff shift.
	BackoffCap int

	// JitterFactor is the maximum jitter as a fraction of the backoff
	// delay (0-1). Prevents retry bursts after a network outage.
	JitterFactor float64

	// RatePerSecond caps network copies per second. Zero disables
	// the limiter.
	RatePerSecond float64

	// RateBurst is the limiter burst size.
	RateBurst int

	// MetricsEnabled controls metric recording.
	MetricsEnabled bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:      256,
		Workers:        2,
		SweepInterval:  30 * time.Second,
		BackoffBase:    5 * time.Second,
		BackoffCap:     6,
		JitterFactor:   0.2,
		RatePerSecond:  20,
		RateBurst:      5,
		MetricsEnabled: true,
	}
}

// Service owns local-to-network replication and its bookkeeping.
//
// # Description
//
// Requests enter through Dispatch (fire-and-forget, used by the
// transaction manager), Sync (async with an outcome channel), or
// SyncNow (blocking). Workers drain the queue; the Run supervisor
// re-enqueues pending entries whose backoff window has elapsed.
// All sync state lives in the registry and survives restarts.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
type Service struct {
	config  Config
	states  *state.Store
	probe   Probe
	limiter *rate.Limiter
	logger  *slog.Logger

	queue  chan request
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed    atomic.Bool
	closeOnce sync.Once
}

// The transaction manager hands committed pairs straight to the service.
var _ transaction.Dispatcher = (*Service)(nil)

// New creates a sync service and starts its workers.
//
// # Inputs
//
//   - cfg: Service configuration. Use DefaultConfig() for defaults.
//   - states: Registry holding per-pair sync state. Required.
//   - probe: Network reachability probe. Required.
//   - logger: Structured logger. Uses slog.Default() if nil.
//
// # Outputs
//
//   - *Service: Running service. Call Run for the retry sweep and
//     Close to stop the workers.
//   - error: Non-nil if a required dependency is missing.
func New(cfg Config, states *state.Store, probe Probe, logger *slog.Logger) (*Service, error) {
	if states == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if probe == nil {
		return nil, fmt.Errorf("probe is required")
	}

	// Apply defaults
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 6
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "syncer")

	SetMetricsEnabled(cfg.MetricsEnabled)

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		config:  cfg,
		states:  states,
		probe:   probe,
		limiter: limiter,
		logger:  logger,
		queue:   make(chan request, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	// A crash mid-copy leaves InProgress markers behind. Turn them
	// back into pending entries so the sweep retries them.
	if n, err := s.resetInFlight(ctx); err != nil {
		logger.Warn("failed to reset in-flight sync markers", "error", err)
	} else if n > 0 {
		logger.Info("reset in-flight sync markers from previous session", "count", n)
	}

	s.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go s.worker(i)
	}

	return s, nil
}

// Dispatch queues a pair for background replication.
//
// # Description
//
// Implements transaction.Dispatcher. The pair is recorded as pending
// in the registry before it is queued, so a full queue defers the
// work to the sweep instead of losing it. Dispatch never blocks on
// network I/O.
//
// # Outputs
//
//   - error: ErrClosed after Close, or a registry write failure.
//     A full queue is not an error.
func (s *Service) Dispatch(ctx context.Context, localPath, networkPath string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	if _, err := s.states.UpdateSyncState(ctx, localPath, networkPath, func(st *state.SyncState) {
		st.Pending = true
	}); err != nil {
		return fmt.Errorf("recording sync intent: %w", err)
	}

	select {
	case s.queue <- request{localPath: localPath, networkPath: networkPath}:
	default:
		recordFailure(ctx, "queue_full")
		s.logger.Warn("sync queue full, deferring to sweep",
			"local_path", localPath,
			"queue_size", cap(s.queue))
	}

	return nil
}

// Sync queues a pair and returns a channel carrying the outcome.
//
// The channel is buffered; the caller may drop it without reading.
// If the queue is full the outcome is ErrQueueFull and the pair stays
// pending for the sweep.
func (s *Service) Sync(ctx context.Context, localPath, networkPath string) <-chan Outcome {
	reply := make(chan Outcome, 1)

	if s.closed.Load() {
		reply <- Outcome{Direction: DirectionError, Err: ErrClosed}
		return reply
	}

	if _, err := s.states.UpdateSyncState(ctx, localPath, networkPath, func(st *state.SyncState) {
		st.Pending = true
	}); err != nil {
		reply <- Outcome{Direction: DirectionError, Err: fmt.Errorf("recording sync intent: %w", err)}
		return reply
	}

	select {
	case s.queue <- request{localPath: localPath, networkPath: networkPath, reply: reply}:
	default:
		recordFailure(ctx, "queue_full")
		reply <- Outcome{Direction: DirectionError, Err: ErrQueueFull}
	}

	return reply
}

// SyncNow replicates a pair on the calling goroutine.
//
// Used by operations that must confirm propagation before returning,
// such as the administrative "sync now" action. Still gated by the
// probe and the rate limiter.
func (s *Service) SyncNow(ctx context.Context, localPath, networkPath string) Outcome {
	if s.closed.Load() {
		return Outcome{Direction: DirectionError, Err: ErrClosed}
	}
	return s.perform(ctx, request{localPath: localPath, networkPath: networkPath})
}

// Run is the retry supervisor. It sweeps the registry once at start
// and then on every tick, re-enqueueing pending entries whose backoff
// window has elapsed. Blocks until ctx is cancelled or the service is
// closed; returns nil on either.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("sync sweep started",
		"interval", s.config.SweepInterval.String(),
		"workers", s.config.Workers)

	if n, err := s.sweep(ctx, false); err != nil {
		s.logger.Warn("sync sweep failed", "error", err)
	} else if n > 0 {
		s.logger.Info("sync sweep requeued entries", "count", n)
	}

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync sweep stopped")
			return nil
		case <-s.ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := s.sweep(ctx, false); err != nil {
				s.logger.Warn("sync sweep failed", "error", err)
			} else if n > 0 {
				s.logger.Debug("sync sweep requeued entries", "count", n)
			}
		}
	}
}

// Pending lists registry entries still awaiting replication.
func (s *Service) Pending(ctx context.Context) ([]state.SyncState, error) {
	return s.states.PendingSyncStates(ctx)
}

// RetryNow forces one sweep pass, ignoring backoff windows.
//
// Returns the number of entries requeued.
func (s *Service) RetryNow(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	n, err := s.sweep(ctx, true)
	if err != nil {
		return 0, err
	}

	s.logger.Info("sync retry pass requeued entries", "count", n)
	return n, nil
}

// Clear drops every record from the sync registry.
//
// This is the operator escape hatch for confirmed-stuck entries. The
// documents themselves are untouched; only the replication bookkeeping
// is lost, so anything not yet copied will stay unreplicated until it
// is written again.
func (s *Service) Clear(ctx context.Context) (int, error) {
	n, err := s.states.ClearSyncStates(ctx)
	if err != nil {
		return 0, fmt.Errorf("clearing sync registry: %w", err)
	}

	recordPendingCount(ctx, 0)
	s.logger.Warn("sync registry cleared by operator", "records_dropped", n)
	return n, nil
}

// Close stops the workers and rejects further requests. Queued
// requests that never ran stay pending in the registry.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		s.wg.Wait()

		// Callers waiting on abandoned replies must not hang.
	drain:
		for {
			select {
			case req := <-s.queue:
				if req.reply != nil {
					req.reply <- Outcome{Direction: DirectionError, Err: ErrClosed}
				}
			default:
				break drain
			}
		}

		s.logger.Info("sync service stopped")
	})
	return nil
}

// =============================================================================
// Workers and Sweep
// =============================================================================

// worker drains the dispatch queue until the service closes.
func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("sync worker started", "worker", id)

	for {
		select {
		case <-s.ctx.Done():
			return
		case req := <-s.queue:
			outcome := s.perform(s.ctx, req)
			if req.reply != nil {
				req.reply <- outcome
			}
		}
	}
}

// perform executes one sync attempt and rolls the registry forward.
func (s *Service) perform(ctx context.Context, req request) Outcome {
	start := time.Now()

	if _, err := s.states.UpdateSyncState(ctx, req.localPath, req.networkPath, func(st *state.SyncState) {
		st.InProgress = true
		st.LastAttempt = start
	}); err != nil {
		recordFailure(ctx, "state_store")
		return Outcome{Direction: DirectionError, Err: fmt.Errorf("updating sync state: %w", err)}
	}

	outcome := s.replicate(ctx, req.localPath, req.networkPath)

	if _, err := s.states.UpdateSyncState(ctx, req.localPath, req.networkPath, func(st *state.SyncState) {
		st.InProgress = false
		st.LastAttempt = time.Now()
		if outcome.Err == nil {
			st.Pending = false
			st.RetryCount = 0
			st.LastError = ""
			st.LastSuccessfulSync = time.Now()
		} else {
			st.Pending = true
			st.LastError = outcome.Err.Error()
			if req.retry {
				st.RetryCount++
			}
		}
	}); err != nil {
		s.logger.Warn("failed to record sync outcome",
			"local_path", req.localPath,
			"error", err)
	}

	recordAttempt(ctx, outcome.Direction, time.Since(start))

	switch {
	case outcome.Err == nil:
		s.logger.Debug("sync completed",
			"local_path", req.localPath,
			"direction", string(outcome.Direction))
	case errors.Is(outcome.Err, ErrNetworkUnavailable):
		recordFailure(ctx, "network_unavailable")
		s.logger.Debug("network unreachable, sync deferred",
			"local_path", req.localPath)
	default:
		recordFailure(ctx, failureReason(outcome.Err))
		s.logger.Warn("sync attempt failed",
			"local_path", req.localPath,
			"network_path", req.networkPath,
			"error", outcome.Err)
	}

	return outcome
}

// replicate decides the direction and copies one side over the other.
func (s *Service) replicate(ctx context.Context, localPath, networkPath string) Outcome {
	if !s.probe.NetworkAvailable() {
		return Outcome{Direction: DirectionError, Err: ErrNetworkUnavailable}
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return Outcome{Direction: DirectionError, Err: err}
		}
	}

	dir, err := detectDirection(localPath, networkPath)
	if err != nil {
		return Outcome{Direction: DirectionError, Err: err}
	}

	switch dir {
	case LocalToNetwork:
		if err := copyPreservingMtime(localPath, networkPath); err != nil {
			return Outcome{Direction: DirectionError, Err: err}
		}
		return Outcome{Direction: LocalToNetwork}
	case NetworkToLocal:
		if err := copyPreservingMtime(networkPath, localPath); err != nil {
			return Outcome{Direction: DirectionError, Err: err}
		}
		return Outcome{Direction: NetworkToLocal}
	default:
		return Outcome{Direction: DirectionNone}
	}
}

// sweep re-enqueues pending entries. With force set, backoff windows
// are ignored. Returns the number of entries requeued.
func (s *Service) sweep(ctx context.Context, force bool) (int, error) {
	pending, err := s.states.PendingSyncStates(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing pending syncs: %w", err)
	}

	recordPendingCount(ctx, len(pending))

	requeued := 0
	now := time.Now()
	for _, st := range pending {
		if st.InProgress {
			continue
		}
		if !force && now.Sub(st.LastAttempt) < s.backoffDelay(st.RetryCount) {
			continue
		}
		select {
		case s.queue <- request{localPath: st.LocalPath, networkPath: st.NetworkPath, retry: true}:
			requeued++
		default:
			// Queue full; the rest waits for the next pass.
			return requeued, nil
		}
	}

	return requeued, nil
}

// backoffDelay returns the jittered wait before retry number
// retryCount may run again.
func (s *Service) backoffDelay(retryCount int) time.Duration {
	shift := retryCount
	if shift > s.config.BackoffCap {
		shift = s.config.BackoffCap
	}
	return calculateBackoff(s.config.BackoffBase<<shift, s.config.JitterFactor)
}

// calculateBackoff applies jitter to a base delay.
func calculateBackoff(base time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return base
	}

	// Random jitter in [base * (1-jitter), base * (1+jitter)]
	jitter := (rand.Float64()*2 - 1) * jitterFactor
	multiplier := 1.0 + jitter

	return time.Duration(float64(base) * multiplier)
}

// resetInFlight clears InProgress markers left by a crash, turning
// them back into pending entries.
func (s *Service) resetInFlight(ctx context.Context) (int, error) {
	all, err := s.states.AllSyncStates(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, st := range all {
		if !st.InProgress {
			continue
		}
		if _, err := s.states.UpdateSyncState(ctx, st.LocalPath, st.NetworkPath, func(cur *state.SyncState) {
			cur.InProgress = false
			cur.Pending = true
		}); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

// failureReason buckets an error for the failure counter.
func failureReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrNetworkUnavailable):
		return "network_unavailable"
	default:
		return "io"
	}
}
