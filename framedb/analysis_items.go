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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UpsertAnalysisItems writes all candidate items for one frame in a single
// transaction. Item identity is (frame_job_id, seq): a retried write after a
// partial failure updates the existing rows and returns their original ids,
// never duplicates.
func (s *Store) UpsertAnalysisItems(ctx context.Context, frameJobID uuid.UUID, items []AnalysisItemParams) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(items))
	err := s.execTx(ctx, func(tx pgx.Tx) error {
		for _, item := range items {
			var id uuid.UUID
			row := tx.QueryRow(ctx, `
				INSERT INTO analysis_items
					(id, frame_job_id, seq, caption, description, category, estimated_value, confidence, bounds)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (frame_job_id, seq) DO UPDATE SET
					caption = EXCLUDED.caption,
					description = EXCLUDED.description,
					category = EXCLUDED.category,
					estimated_value = EXCLUDED.estimated_value,
					confidence = EXCLUDED.confidence,
					bounds = EXCLUDED.bounds
				RETURNING id`,
				uuid.New(), frameJobID, item.Seq, item.Caption, item.Description,
				item.Category, item.EstimatedValue, item.Confidence, item.Bounds)
			if err := row.Scan(&id); err != nil {
				return fmt.Errorf("upsert analysis item seq %d: %w", item.Seq, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListAnalysisItems returns all items for a frame ordered by sequence.
func (s *Store) ListAnalysisItems(ctx context.Context, frameJobID uuid.UUID) ([]AnalysisItem, error) {
	rows, err := s.connPool.Query(ctx, `
		SELECT id, frame_job_id, seq, caption, description, category,
		       estimated_value, confidence, bounds, created_at
		FROM analysis_items
		WHERE frame_job_id = $1
		ORDER BY seq`, frameJobID)
	if err != nil {
		return nil, fmt.Errorf("list analysis items: %w", err)
	}
	defer rows.Close()

	var items []AnalysisItem
	for rows.Next() {
		var item AnalysisItem
		err := rows.Scan(&item.ID, &item.FrameJobID, &item.Seq, &item.Caption,
			&item.Description, &item.Category, &item.EstimatedValue,
			&item.Confidence, &item.Bounds, &item.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan analysis item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
