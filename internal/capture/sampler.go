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

// Package capture samples frames from a live source at a fixed cadence and
// transmits them to the ingest endpoint. Sampling and transmission are
// decoupled: a slow send never delays the next tick.
package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cardinalhq/framepipe/internal/logctx"
)

// Frame is one sampled, encoded frame. Offset is the capture time relative
// to sampler start; it is monotonically non-decreasing across frames.
type Frame struct {
	Bytes  []byte
	Offset time.Duration
	Seq    int64
}

// Sampler pulls frames off a FrameSource once per interval and emits them
// on its output channel. The first frame is sampled immediately so viewers
// see results without waiting out a full interval.
type Sampler struct {
	source   FrameSource
	interval time.Duration
	out      chan Frame

	stopOnce sync.Once
	stop     chan struct{}
	started  chan struct{}
	done     chan struct{}
}

// NewSampler creates a sampler emitting one frame per interval.
func NewSampler(source FrameSource, interval time.Duration) *Sampler {
	return &Sampler{
		source:   source,
		interval: interval,
		out:      make(chan Frame, 4), // small buffer so a briefly busy receiver drops nothing
		stop:     make(chan struct{}),
		started:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Frames is the sampler's output. It is closed after Stop returns or the
// run context ends.
func (s *Sampler) Frames() <-chan Frame {
	return s.out
}

// Run samples until Stop is called or ctx is cancelled. A slow receiver
// drops ticks rather than queueing stale frames: capture is best-effort
// telemetry, and the freshest frame is always the most valuable one.
func (s *Sampler) Run(ctx context.Context) {
	close(s.started)
	defer close(s.done)
	defer close(s.out)

	select {
	case <-s.stop:
		return
	default:
	}

	ll := logctx.FromContext(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	start := time.Now()
	var seq int64

	// First frame at offset zero, no waiting.
	s.sampleOne(ctx, start, &seq, ll)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.sampleOne(ctx, start, &seq, ll)
		}
	}
}

func (s *Sampler) sampleOne(ctx context.Context, start time.Time, seq *int64, ll *slog.Logger) {
	offset := time.Since(start)
	bytes, err := s.source.NextFrame(ctx)
	if err != nil {
		// Source errors are per-tick; the next tick tries again.
		ll.Warn("frame source error", slog.Any("error", err))
		return
	}

	frame := Frame{Bytes: bytes, Offset: offset, Seq: *seq}
	select {
	case s.out <- frame:
		*seq++
	default:
		ll.Warn("dropping frame, receiver not keeping up", slog.Int64("seq", *seq))
	}
}

// Stop halts sampling. It is idempotent and does not return until the
// sampling loop has exited, so no frame is emitted after it returns. Stop
// before Run returns immediately; a Run started afterwards exits without
// sampling.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	select {
	case <-s.started:
		<-s.done
	default:
	}
}
