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
	"fmt"

	"github.com/google/uuid"

	"github.com/cardinalhq/framepipe/framedb"
)

// ItemStore is the slice of framedb the persister needs.
type ItemStore interface {
	UpsertAnalysisItems(ctx context.Context, frameJobID uuid.UUID, items []framedb.AnalysisItemParams) ([]uuid.UUID, error)
}

// DBPersister stores candidates keyed by (frame job, position), so replaying
// the store activity rewrites the same rows instead of duplicating them.
type DBPersister struct {
	store ItemStore
}

func NewDBPersister(store ItemStore) *DBPersister {
	return &DBPersister{store: store}
}

func (p *DBPersister) StoreAll(ctx context.Context, frameJobID uuid.UUID, items []ItemCandidate) ([]uuid.UUID, error) {
	params := make([]framedb.AnalysisItemParams, 0, len(items))
	for i, item := range items {
		params = append(params, framedb.AnalysisItemParams{
			Seq:            int32(i),
			Caption:        item.Caption,
			Description:    nilIfEmpty(item.Description),
			Category:       nilIfEmpty(item.Category),
			EstimatedValue: item.EstimatedValue,
			Confidence:     clampConfidence(item.Confidence),
			Bounds:         item.Bounds,
		})
	}

	ids, err := p.store.UpsertAnalysisItems(ctx, frameJobID, params)
	if err != nil {
		return nil, fmt.Errorf("upsert analysis items: %w", err)
	}
	return ids, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// clampConfidence pins model output into [0, 1]; the column has a CHECK
// constraint and models occasionally emit 1.2 or -0.1.
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
