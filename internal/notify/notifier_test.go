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
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name   string
	events []Event
	err    error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(_ context.Context, event Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func TestNotifierFansOutToAllSinks(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	n := NewNotifier(a, b)

	sessionID := uuid.New()
	frameJobID := uuid.New()
	completedAt := time.Now()
	n.NotifyCompleted(context.Background(), sessionID, frameJobID, completedAt)

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.Equal(t, sessionID, a.events[0].SessionID)
	assert.Equal(t, frameJobID, a.events[0].FrameJobID)
	assert.Equal(t, completedAt.UTC(), a.events[0].CompletedAt)
}

func TestNotifierOneSinkFailingDoesNotStopOthers(t *testing.T) {
	failing := &recordingSink{name: "broken", err: errors.New("broker down")}
	working := &recordingSink{name: "ok"}
	n := NewNotifier(failing, working)

	n.NotifyCompleted(context.Background(), uuid.New(), uuid.New(), time.Now())
	assert.Len(t, working.events, 1)
}

type fakeChannelStore struct {
	channel  string
	payloads []string
	outbox   []Event
}

func (f *fakeChannelStore) NotifyChannel(_ context.Context, channel, payload string) error {
	f.channel = channel
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeChannelStore) InsertOutbox(_ context.Context, sessionID, frameJobID uuid.UUID, payload []byte) error {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return err
	}
	f.outbox = append(f.outbox, e)
	return nil
}

func TestPGNotifySinkPayload(t *testing.T) {
	store := &fakeChannelStore{}
	sink := NewPGNotifySink(store)

	event := Event{SessionID: uuid.New(), FrameJobID: uuid.New(), CompletedAt: time.Now().UTC()}
	require.NoError(t, sink.Deliver(context.Background(), event))

	assert.Equal(t, Channel, store.channel)
	require.Len(t, store.payloads, 1)

	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(store.payloads[0]), &decoded))
	assert.Equal(t, event.SessionID, decoded.SessionID)
	assert.Equal(t, event.FrameJobID, decoded.FrameJobID)
}

func TestOutboxSinkRecordsEvent(t *testing.T) {
	store := &fakeChannelStore{}
	sink := NewOutboxSink(store)

	event := Event{SessionID: uuid.New(), FrameJobID: uuid.New(), CompletedAt: time.Now().UTC()}
	require.NoError(t, sink.Deliver(context.Background(), event))

	require.Len(t, store.outbox, 1)
	assert.Equal(t, event.FrameJobID, store.outbox[0].FrameJobID)
}
