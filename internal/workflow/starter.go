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
	"errors"
	"log/slog"
	"time"

	"github.com/cardinalhq/framepipe/framedb"
	"github.com/cardinalhq/framepipe/internal/framequeue"
	"github.com/cardinalhq/framepipe/internal/logctx"
)

// Starter consumes frame descriptors off the queue and creates execution
// records for them. Duplicate deliveries land on the execution's unique
// frame job constraint and ack as no-ops.
type Starter struct {
	queue framequeue.Queue
	execs ExecutionStore
	jobs  JobStore
	batch int32
}

func NewStarter(queue framequeue.Queue, execs ExecutionStore, jobs JobStore) *Starter {
	return &Starter{
		queue: queue,
		execs: execs,
		jobs:  jobs,
		batch: 10,
	}
}

// Run polls the queue until ctx is cancelled.
func (s *Starter) Run(ctx context.Context) error {
	ll := logctx.FromContext(ctx)
	ll.Info("starting queue listener")

	for {
		if ctx.Err() != nil {
			ll.Info("queue listener stopped")
			return nil
		}

		deliveries, err := s.queue.Receive(ctx, s.batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			ll.Error("queue receive failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, d := range deliveries {
			if err := s.handleDelivery(ctx, d); err != nil {
				// Leave the delivery unacked; it reappears after the
				// visibility timeout and the unique constraint absorbs
				// whatever we already did.
				ll.Error("failed to start execution",
					slog.String("messageID", d.ID()),
					slog.Any("error", err))
				continue
			}
			if err := s.queue.Delete(ctx, d); err != nil {
				ll.Warn("failed to ack delivery",
					slog.String("messageID", d.ID()),
					slog.Any("error", err))
			}
		}
	}
}

func (s *Starter) handleDelivery(ctx context.Context, d framequeue.Delivery) error {
	ll := logctx.FromContext(ctx)

	job, err := s.jobs.FrameJobByURI(ctx, d.Message.SessionID, d.Message.FrameURI)
	if err != nil {
		if errors.Is(err, framedb.ErrNotFound) {
			// The descriptor references a frame this database has never
			// seen. Ack it; redelivery cannot fix a phantom frame.
			ll.Warn("dropping descriptor for unknown frame",
				slog.String("sessionID", d.Message.SessionID.String()),
				slog.String("frameURI", d.Message.FrameURI))
			return nil
		}
		return err
	}

	created, err := s.execs.StartExecution(ctx, job.ID)
	if err != nil {
		return err
	}
	if created {
		ll.Info("execution started",
			slog.String("frameJobID", job.ID.String()),
			slog.String("sessionID", job.SessionID.String()))
	}
	return nil
}
