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

// Package workflow drives each frame job through analyze, store, and notify
// as a durable execution: state lives in the database, retries follow an
// exponential backoff schedule recorded as a wake-up time rather than a
// sleeping goroutine, and every step is safe under at-least-once delivery.
package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cardinalhq/framepipe/framedb"
)

// ItemCandidate is one entity the analyzer believes it saw in a frame.
type ItemCandidate struct {
	Caption        string          `json:"caption"`
	Description    string          `json:"description,omitempty"`
	Category       string          `json:"category,omitempty"`
	EstimatedValue *float64        `json:"estimatedValue,omitempty"`
	Confidence     float64         `json:"confidence"`
	Bounds         json.RawMessage `json:"bounds,omitempty"`
}

// Analyzer produces item candidates from a stored frame. Implementations
// classify failures with Terminal before returning; anything else is
// treated as retryable.
type Analyzer interface {
	Analyze(ctx context.Context, frameURI string) ([]ItemCandidate, error)
}

// Persister writes all candidates for one frame durably and idempotently.
type Persister interface {
	StoreAll(ctx context.Context, frameJobID uuid.UUID, items []ItemCandidate) ([]uuid.UUID, error)
}

// Notifier fans out the completion signal. It never returns an error:
// notification failures are logged inside and must not fail the execution.
type Notifier interface {
	NotifyCompleted(ctx context.Context, sessionID, frameJobID uuid.UUID, completedAt time.Time)
}

// ExecutionStore is the durable execution record storage the engine runs
// against. *framedb.Store implements it; tests use in-memory fakes.
type ExecutionStore interface {
	StartExecution(ctx context.Context, frameJobID uuid.UUID) (bool, error)
	ClaimExecutions(ctx context.Context, params framedb.ClaimExecutionsParams) ([]framedb.FrameExecution, error)
	HeartbeatExecutions(ctx context.Context, workerID int64, ids []int64) error
	AdvanceExecution(ctx context.Context, id, workerID int64, fromState, toState string, resultPayload []byte) error
	RetryExecution(ctx context.Context, id, workerID int64, lastError string, nextAttemptAt time.Time) error
	CompleteExecution(ctx context.Context, id, workerID int64) error
	FailExecution(ctx context.Context, id, workerID int64, lastError string) error
	ReleaseExecution(ctx context.Context, id, workerID int64) error
}

// JobStore resolves frame jobs for executions and queue deliveries.
type JobStore interface {
	GetFrameJob(ctx context.Context, id uuid.UUID) (framedb.FrameJob, error)
	FrameJobByURI(ctx context.Context, sessionID uuid.UUID, frameURI string) (framedb.FrameJob, error)
}
