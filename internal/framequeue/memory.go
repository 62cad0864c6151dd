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

package framequeue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue for development and tests. It keeps
// the at-least-once contract: deliveries not deleted before the visibility
// timeout become receivable again.
type MemoryQueue struct {
	mu         sync.Mutex
	nextID     int64
	messages   []*memoryMessage
	visibility time.Duration
}

type memoryMessage struct {
	id          int64
	msg         Message
	invisibleTo time.Time
	deleted     bool
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a queue with the given visibility timeout; zero
// means 30 seconds.
func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &MemoryQueue{visibility: visibility}
}

func (q *MemoryQueue) Send(_ context.Context, msg Message) error {
	if _, err := EncodeMessage(msg); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	q.messages = append(q.messages, &memoryMessage{id: q.nextID, msg: msg})
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, max int32) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var deliveries []Delivery
	for _, m := range q.messages {
		if m.deleted || now.Before(m.invisibleTo) {
			continue
		}
		m.invisibleTo = now.Add(q.visibility)
		deliveries = append(deliveries, Delivery{
			Message:   m.msg,
			messageID: strconv.FormatInt(m.id, 10),
			receipt:   strconv.FormatInt(m.id, 10),
		})
		if int32(len(deliveries)) >= max {
			break
		}
	}
	return deliveries, nil
}

func (q *MemoryQueue) Delete(_ context.Context, d Delivery) error {
	id, err := strconv.ParseInt(d.receipt, 10, 64)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.messages {
		if m.id == id {
			m.deleted = true
			break
		}
	}
	return nil
}

// Depth reports undeleted messages, visible or not. Test helper.
func (q *MemoryQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, m := range q.messages {
		if !m.deleted {
			n++
		}
	}
	return n
}

// MakeVisible clears visibility timers so tests can simulate redelivery
// without waiting.
func (q *MemoryQueue) MakeVisible() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.messages {
		m.invisibleTo = time.Time{}
	}
}
