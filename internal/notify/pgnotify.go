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

package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Channel is the Postgres NOTIFY channel carrying completion events.
const Channel = "frame_completed"

// ChannelStore is the slice of framedb the Postgres sinks need.
type ChannelStore interface {
	NotifyChannel(ctx context.Context, channel, payload string) error
	InsertOutbox(ctx context.Context, sessionID, frameJobID uuid.UUID, payload []byte) error
}

// PGNotifySink pushes transient completion events over Postgres NOTIFY for
// live listeners such as session CLIs.
type PGNotifySink struct {
	store ChannelStore
}

func NewPGNotifySink(store ChannelStore) *PGNotifySink {
	return &PGNotifySink{store: store}
}

func (s *PGNotifySink) Name() string { return "pg_notify" }

func (s *PGNotifySink) Deliver(ctx context.Context, event Event) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.store.NotifyChannel(ctx, Channel, string(payload))
}

// OutboxSink records completion events durably so consumers that were not
// listening can catch up by polling.
type OutboxSink struct {
	store ChannelStore
}

func NewOutboxSink(store ChannelStore) *OutboxSink {
	return &OutboxSink{store: store}
}

func (s *OutboxSink) Name() string { return "outbox" }

func (s *OutboxSink) Deliver(ctx context.Context, event Event) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.store.InsertOutbox(ctx, event.SessionID, event.FrameJobID, payload)
}
