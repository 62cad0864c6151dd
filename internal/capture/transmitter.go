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

package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TransmitterConfig addresses the ingest endpoint for one session.
type TransmitterConfig struct {
	Endpoint      string // base URL of the ingest service
	SessionID     uuid.UUID
	CorrelationID string
	Timeout       time.Duration
}

// Transmitter posts sampled frames to the ingest endpoint. Every frame is
// sent in its own goroutine: transmission latency or failure never blocks
// the sampling cadence. Send failures go to OnError and nowhere else.
type Transmitter struct {
	cfg    TransmitterConfig
	client *http.Client

	// OnError receives per-frame send failures. Nil means failures are
	// silently dropped; capture is best-effort either way.
	OnError func(frame Frame, err error)

	wg sync.WaitGroup
}

// NewTransmitter creates a transmitter for one capture session.
func NewTransmitter(cfg TransmitterConfig) *Transmitter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Transmitter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Run consumes frames until the channel closes or ctx is cancelled, then
// waits for in-flight sends to finish.
func (t *Transmitter) Run(ctx context.Context, frames <-chan Frame) {
	defer t.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			t.wg.Add(1)
			go func() {
				defer t.wg.Done()
				if err := t.send(ctx, frame); err != nil && t.OnError != nil {
					t.OnError(frame, err)
				}
			}()
		}
	}
}

func (t *Transmitter) send(ctx context.Context, frame Frame) error {
	u, err := url.Parse(t.cfg.Endpoint + "/api/v1/frames")
	if err != nil {
		return fmt.Errorf("bad ingest endpoint: %w", err)
	}
	q := u.Query()
	q.Set("session", t.cfg.SessionID.String())
	q.Set("capturedAtSeconds", strconv.FormatFloat(frame.Offset.Seconds(), 'f', 3, 64))
	if t.cfg.CorrelationID != "" {
		q.Set("correlationId", t.cfg.CorrelationID)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(frame.Bytes))
	if err != nil {
		return fmt.Errorf("build frame request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send frame %d: %w", frame.Seq, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("send frame %d: ingest returned %s", frame.Seq, resp.Status)
	}
	return nil
}
