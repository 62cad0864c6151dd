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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateSession inserts a new, incomplete session and returns it.
func (s *Store) CreateSession(ctx context.Context, name string) (Session, error) {
	var out Session
	row := s.connPool.QueryRow(ctx, `
		INSERT INTO sessions (id, name)
		VALUES ($1, $2)
		RETURNING id, name, completed, created_at`,
		uuid.New(), name)
	if err := row.Scan(&out.ID, &out.Name, &out.Completed, &out.CreatedAt); err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return out, nil
}

// GetSession returns the session with the given id, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (Session, error) {
	var out Session
	row := s.connPool.QueryRow(ctx, `
		SELECT id, name, completed, created_at
		FROM sessions
		WHERE id = $1`, id)
	if err := row.Scan(&out.ID, &out.Name, &out.Completed, &out.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return out, nil
}

// MarkSessionDone sets the completion flag. Idempotent; returns ErrNotFound
// if the session does not exist.
func (s *Store) MarkSessionDone(ctx context.Context, id uuid.UUID) error {
	tag, err := s.connPool.Exec(ctx, `
		UPDATE sessions SET completed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark session done: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SessionStats counts frame executions per state for one session. Frames
// whose execution has not started yet count as pending alongside queued ones.
func (s *Store) SessionStats(ctx context.Context, id uuid.UUID) (SessionStats, error) {
	rows, err := s.connPool.Query(ctx, `
		SELECT COALESCE(fe.state, 'queued') AS state, COUNT(*)
		FROM frame_jobs fj
		LEFT JOIN frame_executions fe ON fe.frame_job_id = fj.id
		WHERE fj.session_id = $1
		GROUP BY 1`, id)
	if err != nil {
		return SessionStats{}, fmt.Errorf("session stats: %w", err)
	}
	defer rows.Close()

	var stats SessionStats
	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return SessionStats{}, fmt.Errorf("scan session stats: %w", err)
		}
		switch state {
		case ExecStateQueued:
			stats.Pending += count
		case ExecStateAnalyzing:
			stats.Analyzing += count
		case ExecStateStoring:
			stats.Storing += count
		case ExecStateCompleted:
			stats.Completed += count
		case ExecStateFailed:
			stats.Failed += count
		}
	}
	return stats, rows.Err()
}
