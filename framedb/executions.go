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

package framedb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrClaimLost is returned when a guarded execution update matches no row,
// meaning another worker reclaimed the execution after our heartbeat lapsed.
var ErrClaimLost = errors.New("framedb: execution claim lost")

const executionColumns = `id, frame_job_id, state, attempts, last_error,
	claimed_by, result_payload, heartbeated_at, next_attempt_at, created_at, updated_at`

func scanExecution(row pgx.Row) (FrameExecution, error) {
	var e FrameExecution
	err := row.Scan(&e.ID, &e.FrameJobID, &e.State, &e.Attempts, &e.LastError,
		&e.ClaimedBy, &e.ResultPayload, &e.HeartbeatedAt, &e.NextAttemptAt,
		&e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// StartExecution creates the execution record for a frame job if none exists.
// The unique frame_job_id constraint makes duplicate queue deliveries no-ops;
// the bool reports whether this call created the record.
func (s *Store) StartExecution(ctx context.Context, frameJobID uuid.UUID) (bool, error) {
	tag, err := s.connPool.Exec(ctx, `
		INSERT INTO frame_executions (frame_job_id, state, attempts, claimed_by, heartbeated_at, next_attempt_at)
		VALUES ($1, $2, 0, $3, now(), now())
		ON CONFLICT (frame_job_id) DO NOTHING`,
		frameJobID, ExecStateQueued, UnclaimedWorker)
	if err != nil {
		return false, fmt.Errorf("start execution: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetExecution returns the execution record for a frame job, or ErrNotFound.
func (s *Store) GetExecution(ctx context.Context, frameJobID uuid.UUID) (FrameExecution, error) {
	row := s.connPool.QueryRow(ctx, `
		SELECT `+executionColumns+`
		FROM frame_executions
		WHERE frame_job_id = $1`, frameJobID)
	e, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FrameExecution{}, ErrNotFound
		}
		return FrameExecution{}, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

// ClaimExecutionsParams bounds one claim sweep.
type ClaimExecutionsParams struct {
	WorkerID int64
	LockTTL  time.Duration
	Limit    int32
}

// ClaimExecutions atomically claims up to Limit runnable executions: not in
// a terminal state, past their next_attempt_at, and either unclaimed or held
// by a worker whose heartbeat lapsed beyond LockTTL. SKIP LOCKED keeps
// concurrent claim sweeps from blocking each other.
func (s *Store) ClaimExecutions(ctx context.Context, params ClaimExecutionsParams) ([]FrameExecution, error) {
	rows, err := s.connPool.Query(ctx, `
		UPDATE frame_executions
		SET claimed_by = $1, heartbeated_at = now(), updated_at = now()
		WHERE id IN (
			SELECT id FROM frame_executions
			WHERE state IN ($2, $3, $4)
			  AND next_attempt_at <= now()
			  AND (claimed_by = $5 OR heartbeated_at < now() - make_interval(secs => $6::float8))
			ORDER BY next_attempt_at
			LIMIT $7
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+executionColumns,
		params.WorkerID, ExecStateQueued, ExecStateAnalyzing, ExecStateStoring,
		UnclaimedWorker, params.LockTTL.Seconds(), params.Limit)
	if err != nil {
		return nil, fmt.Errorf("claim executions: %w", err)
	}
	defer rows.Close()

	var claimed []FrameExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed execution: %w", err)
		}
		claimed = append(claimed, e)
	}
	return claimed, rows.Err()
}

// HeartbeatExecutions refreshes the claim on the given executions.
func (s *Store) HeartbeatExecutions(ctx context.Context, workerID int64, ids []int64) error {
	_, err := s.connPool.Exec(ctx, `
		UPDATE frame_executions
		SET heartbeated_at = now(), updated_at = now()
		WHERE claimed_by = $1 AND id = ANY($2)`, workerID, ids)
	if err != nil {
		return fmt.Errorf("heartbeat executions: %w", err)
	}
	return nil
}

// AdvanceExecution moves a claimed execution from one non-terminal state to
// the next, resets the per-activity attempt counter, and records the
// finished activity's output. The transition is durable before the next
// activity runs, which is what keeps a crash from re-running a finished
// activity.
func (s *Store) AdvanceExecution(ctx context.Context, id, workerID int64, fromState, toState string, resultPayload []byte) error {
	tag, err := s.connPool.Exec(ctx, `
		UPDATE frame_executions
		SET state = $1, attempts = 0, last_error = NULL,
		    result_payload = COALESCE($2, result_payload),
		    next_attempt_at = now(), updated_at = now()
		WHERE id = $3 AND claimed_by = $4 AND state = $5`,
		toState, resultPayload, id, workerID, fromState)
	if err != nil {
		return fmt.Errorf("advance execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}
	return nil
}

// RetryExecution records a failed attempt and schedules the next one. The
// claim is released so any worker can pick the execution up once
// next_attempt_at arrives; no goroutine waits out the backoff.
func (s *Store) RetryExecution(ctx context.Context, id, workerID int64, lastError string, nextAttemptAt time.Time) error {
	tag, err := s.connPool.Exec(ctx, `
		UPDATE frame_executions
		SET attempts = attempts + 1, last_error = $1, claimed_by = $2,
		    next_attempt_at = $3, updated_at = now()
		WHERE id = $4 AND claimed_by = $5`,
		lastError, UnclaimedWorker, nextAttemptAt, id, workerID)
	if err != nil {
		return fmt.Errorf("retry execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}
	return nil
}

// CompleteExecution moves a claimed execution to its terminal success state.
func (s *Store) CompleteExecution(ctx context.Context, id, workerID int64) error {
	tag, err := s.connPool.Exec(ctx, `
		UPDATE frame_executions
		SET state = $1, claimed_by = $2, last_error = NULL, updated_at = now()
		WHERE id = $3 AND claimed_by = $4`,
		ExecStateCompleted, UnclaimedWorker, id, workerID)
	if err != nil {
		return fmt.Errorf("complete execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}
	return nil
}

// FailExecution moves a claimed execution to its terminal failure state,
// recording one final attempt and the error that ended it.
func (s *Store) FailExecution(ctx context.Context, id, workerID int64, lastError string) error {
	tag, err := s.connPool.Exec(ctx, `
		UPDATE frame_executions
		SET state = $1, attempts = attempts + 1, last_error = $2, claimed_by = $3, updated_at = now()
		WHERE id = $4 AND claimed_by = $5`,
		ExecStateFailed, lastError, UnclaimedWorker, id, workerID)
	if err != nil {
		return fmt.Errorf("fail execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}
	return nil
}

// ReleaseExecution hands a claimed execution back untouched, used during
// worker shutdown so the next claim sweep does not wait out the lock TTL.
func (s *Store) ReleaseExecution(ctx context.Context, id, workerID int64) error {
	_, err := s.connPool.Exec(ctx, `
		UPDATE frame_executions
		SET claimed_by = $1, updated_at = now()
		WHERE id = $2 AND claimed_by = $3`,
		UnclaimedWorker, id, workerID)
	if err != nil {
		return fmt.Errorf("release execution: %w", err)
	}
	return nil
}
