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

// InsertFrameJobParams describes one accepted frame.
type InsertFrameJobParams struct {
	ID                uuid.UUID
	SessionID         uuid.UUID
	FrameURI          string
	CapturedAtSeconds float64
	CorrelationID     *string
}

// InsertFrameJob records one accepted frame. The row never changes after
// this insert.
func (s *Store) InsertFrameJob(ctx context.Context, params InsertFrameJobParams) error {
	_, err := s.connPool.Exec(ctx, `
		INSERT INTO frame_jobs (id, session_id, frame_uri, captured_at_seconds, correlation_id)
		VALUES ($1, $2, $3, $4, $5)`,
		params.ID, params.SessionID, params.FrameURI, params.CapturedAtSeconds, params.CorrelationID)
	if err != nil {
		return fmt.Errorf("insert frame job: %w", err)
	}
	return nil
}

// GetFrameJob returns the frame job with the given id, or ErrNotFound.
func (s *Store) GetFrameJob(ctx context.Context, id uuid.UUID) (FrameJob, error) {
	var out FrameJob
	row := s.connPool.QueryRow(ctx, `
		SELECT id, session_id, frame_uri, captured_at_seconds, correlation_id, created_at
		FROM frame_jobs
		WHERE id = $1`, id)
	err := row.Scan(&out.ID, &out.SessionID, &out.FrameURI,
		&out.CapturedAtSeconds, &out.CorrelationID, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FrameJob{}, ErrNotFound
		}
		return FrameJob{}, fmt.Errorf("get frame job: %w", err)
	}
	return out, nil
}

// FrameJobByURI resolves a frame job from its object storage location. Queue
// descriptors carry the URI, and redelivered descriptors must map back to
// the same job row.
func (s *Store) FrameJobByURI(ctx context.Context, sessionID uuid.UUID, frameURI string) (FrameJob, error) {
	var out FrameJob
	row := s.connPool.QueryRow(ctx, `
		SELECT id, session_id, frame_uri, captured_at_seconds, correlation_id, created_at
		FROM frame_jobs
		WHERE session_id = $1 AND frame_uri = $2`, sessionID, frameURI)
	err := row.Scan(&out.ID, &out.SessionID, &out.FrameURI,
		&out.CapturedAtSeconds, &out.CorrelationID, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FrameJob{}, ErrNotFound
		}
		return FrameJob{}, fmt.Errorf("frame job by uri: %w", err)
	}
	return out, nil
}
