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
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OutboxEntry is one durable completion signal.
type OutboxEntry struct {
	ID         int64
	SessionID  uuid.UUID
	FrameJobID uuid.UUID
	Payload    []byte
	CreatedAt  time.Time
}

// InsertOutbox appends a durable completion signal. One row per completed
// frame; consumers poll by session and id cursor.
func (s *Store) InsertOutbox(ctx context.Context, sessionID, frameJobID uuid.UUID, payload []byte) error {
	_, err := s.connPool.Exec(ctx, `
		INSERT INTO notify_outbox (session_id, frame_job_id, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (frame_job_id) DO NOTHING`,
		sessionID, frameJobID, payload)
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}

// ListOutbox returns outbox entries for a session with id greater than the
// cursor, oldest first.
func (s *Store) ListOutbox(ctx context.Context, sessionID uuid.UUID, afterID int64) ([]OutboxEntry, error) {
	rows, err := s.connPool.Query(ctx, `
		SELECT id, session_id, frame_job_id, payload, created_at
		FROM notify_outbox
		WHERE session_id = $1 AND id > $2
		ORDER BY id`, sessionID, afterID)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.FrameJobID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// NotifyChannel emits a transient payload on a Postgres NOTIFY channel.
func (s *Store) NotifyChannel(ctx context.Context, channel, payload string) error {
	_, err := s.connPool.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, payload)
	if err != nil {
		return fmt.Errorf("pg_notify %s: %w", channel, err)
	}
	return nil
}
