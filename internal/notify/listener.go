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
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/framepipe/internal/logctx"
)

// Listener subscribes to the completion NOTIFY channel and invokes a
// callback per event. NOTIFY is transient, so a listener that connects late
// misses earlier events; pair with the outbox for catch-up.
type Listener struct {
	pool    *pgxpool.Pool
	handler func(Event)
}

func NewListener(pool *pgxpool.Pool, handler func(Event)) *Listener {
	return &Listener{pool: pool, handler: handler}
}

// Run holds a dedicated connection on LISTEN until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("listen %s: %w", Channel, err)
	}

	ll := logctx.FromContext(ctx)
	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}

		var event Event
		if err := json.Unmarshal([]byte(notification.Payload), &event); err != nil {
			ll.Warn("malformed completion notification",
				slog.String("payload", notification.Payload),
				slog.Any("error", err))
			continue
		}
		l.handler(event)
	}
}
