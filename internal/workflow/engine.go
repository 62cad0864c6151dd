// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/framepipe/framedb"
	"github.com/cardinalhq/framepipe/internal/logctx"
)

// Config bounds one engine's claim loop.
type Config struct {
	WorkerID          int64
	Concurrency       int           `mapstructure:"concurrency"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// MaxAttempts bounds retryable failures per activity; 0 means retry
	// forever on the backoff schedule.
	MaxAttempts int32         `mapstructure:"max_attempts"`
	Backoff     BackoffPolicy `mapstructure:"backoff"`
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = c.LockTTL / 3
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff = DefaultBackoff()
	}
}

// Engine claims runnable executions and drives each through the state
// machine. Executions are independent: many run in parallel, each one's
// steps are strictly sequential.
type Engine struct {
	store    ExecutionStore
	jobs     JobStore
	analyzer Analyzer
	persist  Persister
	notifier Notifier
	cfg      Config
	tracer   trace.Tracer

	mu     sync.Mutex
	active map[int64]struct{} // claimed execution ids, for heartbeats
}

// NewEngine wires the engine. The notifier may be nil when no completion
// fan-out is configured.
func NewEngine(store ExecutionStore, jobs JobStore, analyzer Analyzer, persist Persister, notifier Notifier, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		store:    store,
		jobs:     jobs,
		analyzer: analyzer,
		persist:  persist,
		notifier: notifier,
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/cardinalhq/framepipe/internal/workflow"),
		active:   map[int64]struct{}{},
	}
}

// Run claims and processes executions until ctx is cancelled. In-flight
// executions are released on shutdown so another worker picks them up
// without waiting out the lock TTL.
func (e *Engine) Run(ctx context.Context) error {
	ll := logctx.FromContext(ctx)
	ll.Info("starting workflow engine",
		slog.Int64("workerID", e.cfg.WorkerID),
		slog.Int("concurrency", e.cfg.Concurrency))

	go e.heartbeatLoop(ctx)

	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			ll.Info("workflow engine stopped")
			return nil
		default:
		}

		free := e.cfg.Concurrency - len(sem)
		if free <= 0 {
			time.Sleep(e.cfg.PollInterval)
			continue
		}

		claimed, err := e.store.ClaimExecutions(ctx, framedb.ClaimExecutionsParams{
			WorkerID: e.cfg.WorkerID,
			LockTTL:  e.cfg.LockTTL,
			Limit:    int32(free),
		})
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			ll.Error("failed to claim executions", slog.Any("error", err))
			time.Sleep(e.cfg.PollInterval)
			continue
		}
		if len(claimed) == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.cfg.PollInterval):
			}
			continue
		}

		for _, exec := range claimed {
			sem <- struct{}{}
			e.trackClaim(exec.ID)
			wg.Add(1)
			go func(exec framedb.FrameExecution) {
				defer wg.Done()
				defer func() { <-sem }()
				defer e.untrackClaim(exec.ID)
				e.runExecution(ctx, exec)
			}(exec)
		}
	}
}

func (e *Engine) trackClaim(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[id] = struct{}{}
}

func (e *Engine) untrackClaim(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, id)
}

func (e *Engine) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			ids := make([]int64, 0, len(e.active))
			for id := range e.active {
				ids = append(ids, id)
			}
			e.mu.Unlock()
			if len(ids) == 0 {
				continue
			}
			if err := e.store.HeartbeatExecutions(ctx, e.cfg.WorkerID, ids); err != nil {
				logctx.FromContext(ctx).Warn("heartbeat failed", slog.Any("error", err))
			}
		}
	}
}

// runExecution advances one claimed execution as far as it can: to the next
// terminal state, or to a recorded retry time when an activity fails
// transiently.
func (e *Engine) runExecution(ctx context.Context, exec framedb.FrameExecution) {
	ctx, span := e.tracer.Start(ctx, "workflow.runExecution")
	defer span.End()

	ctx = logctx.WithAttrs(ctx,
		slog.String("frameJobID", exec.FrameJobID.String()),
		slog.Int64("executionID", exec.ID))
	ll := logctx.FromContext(ctx)

	job, err := e.jobs.GetFrameJob(ctx, exec.FrameJobID)
	if err != nil {
		// A frame job row is inserted before its execution can exist, so
		// a missing job is data corruption, not a race.
		e.failExecution(ctx, exec, fmt.Errorf("resolve frame job: %w", err))
		return
	}

	if exec.State == framedb.ExecStateQueued {
		if err := e.store.AdvanceExecution(ctx, exec.ID, e.cfg.WorkerID, framedb.ExecStateQueued, framedb.ExecStateAnalyzing, nil); err != nil {
			e.logTransitionErr(ll, err)
			return
		}
		exec.State = framedb.ExecStateAnalyzing
		exec.Attempts = 0
	}

	if exec.State == framedb.ExecStateAnalyzing {
		items, err := e.analyzer.Analyze(ctx, job.FrameURI)
		if err != nil {
			e.handleActivityError(ctx, exec, "analyze", err)
			return
		}

		payload, err := json.Marshal(items)
		if err != nil {
			e.failExecution(ctx, exec, fmt.Errorf("encode analysis result: %w", err))
			return
		}
		if err := e.store.AdvanceExecution(ctx, exec.ID, e.cfg.WorkerID, framedb.ExecStateAnalyzing, framedb.ExecStateStoring, payload); err != nil {
			e.logTransitionErr(ll, err)
			return
		}
		exec.State = framedb.ExecStateStoring
		exec.Attempts = 0
		exec.ResultPayload = payload
	}

	if exec.State == framedb.ExecStateStoring {
		var items []ItemCandidate
		if err := json.Unmarshal(exec.ResultPayload, &items); err != nil {
			e.failExecution(ctx, exec, fmt.Errorf("decode recorded analysis result: %w", err))
			return
		}

		ids, err := e.persist.StoreAll(ctx, exec.FrameJobID, items)
		if err != nil {
			e.handleActivityError(ctx, exec, "store", err)
			return
		}

		if err := e.store.CompleteExecution(ctx, exec.ID, e.cfg.WorkerID); err != nil {
			e.logTransitionErr(ll, err)
			return
		}

		ll.Info("frame analysis completed",
			slog.String("sessionID", job.SessionID.String()),
			slog.Int("items", len(ids)))

		if e.notifier != nil {
			e.notifier.NotifyCompleted(ctx, job.SessionID, exec.FrameJobID, time.Now().UTC())
		}
	}
}

// handleActivityError applies the retry policy for one failed activity
// invocation. Retryable failures schedule a durable wake-up; terminal ones
// and exhausted retry budgets end the execution.
func (e *Engine) handleActivityError(ctx context.Context, exec framedb.FrameExecution, activity string, err error) {
	ll := logctx.FromContext(ctx)

	if ctx.Err() != nil {
		// Worker shutdown mid-activity. Hand the claim back untouched.
		if relErr := e.store.ReleaseExecution(context.WithoutCancel(ctx), exec.ID, e.cfg.WorkerID); relErr != nil {
			ll.Warn("failed to release execution on shutdown", slog.Any("error", relErr))
		}
		return
	}

	if !IsRetryable(err) {
		ll.Warn("activity failed terminally",
			slog.String("activity", activity),
			slog.Any("error", err))
		e.failExecution(ctx, exec, err)
		return
	}

	failures := exec.Attempts + 1
	if e.cfg.MaxAttempts > 0 && failures >= e.cfg.MaxAttempts {
		ll.Warn("activity exhausted retries",
			slog.String("activity", activity),
			slog.Int("attempts", int(failures)),
			slog.Any("error", err))
		e.failExecution(ctx, exec, fmt.Errorf("retries exhausted after %d attempts: %w", failures, err))
		return
	}

	delay := e.cfg.Backoff.Delay(failures)
	ll.Info("activity failed, scheduling retry",
		slog.String("activity", activity),
		slog.Int("attempt", int(failures)),
		slog.Duration("delay", delay),
		slog.Any("error", err))

	if rErr := e.store.RetryExecution(ctx, exec.ID, e.cfg.WorkerID, err.Error(), time.Now().UTC().Add(delay)); rErr != nil {
		e.logTransitionErr(ll, rErr)
	}
}

func (e *Engine) failExecution(ctx context.Context, exec framedb.FrameExecution, cause error) {
	if err := e.store.FailExecution(ctx, exec.ID, e.cfg.WorkerID, cause.Error()); err != nil {
		e.logTransitionErr(logctx.FromContext(ctx), err)
	}
}

func (e *Engine) logTransitionErr(ll *slog.Logger, err error) {
	if errors.Is(err, framedb.ErrClaimLost) {
		// Another worker reclaimed this execution after our heartbeat
		// lapsed; it owns the frame now.
		ll.Warn("execution claim lost")
		return
	}
	ll.Error("execution state transition failed", slog.Any("error", err))
}
