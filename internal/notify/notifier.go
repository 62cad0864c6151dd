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

// Package notify fans out frame completion signals. Notification is strictly
// best-effort: the execution is already durably completed when sinks run, so
// a sink failure is logged and dropped, never retried against the execution.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cardinalhq/framepipe/internal/logctx"
)

// Event is the completion payload delivered to every sink.
type Event struct {
	SessionID   uuid.UUID `json:"sessionId"`
	FrameJobID  uuid.UUID `json:"frameRef"`
	CompletedAt time.Time `json:"completedAt"`
}

// Sink delivers one completion event to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

// Notifier fans a completion event out to all configured sinks.
type Notifier struct {
	sinks []Sink
}

func NewNotifier(sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks}
}

// NotifyCompleted delivers to every sink, logging failures. It never returns
// an error; workflow completion does not depend on notification delivery.
func (n *Notifier) NotifyCompleted(ctx context.Context, sessionID, frameJobID uuid.UUID, completedAt time.Time) {
	event := Event{
		SessionID:   sessionID,
		FrameJobID:  frameJobID,
		CompletedAt: completedAt.UTC(),
	}

	ll := logctx.FromContext(ctx)
	for _, sink := range n.sinks {
		if err := sink.Deliver(ctx, event); err != nil {
			ll.Warn("notification sink failed",
				slog.String("sink", sink.Name()),
				slog.String("frameJobID", frameJobID.String()),
				slog.Any("error", err))
		}
	}
}

// encodeEvent is the JSON wire form shared by sinks.
func encodeEvent(event Event) ([]byte, error) {
	return json.Marshal(event)
}
