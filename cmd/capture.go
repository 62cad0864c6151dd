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

package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/framepipe/config"
	"github.com/cardinalhq/framepipe/internal/capture"
	"github.com/cardinalhq/framepipe/internal/ingest"
	"github.com/cardinalhq/framepipe/internal/logctx"
)

var (
	captureSessionID  string
	captureDoneOnExit bool
)

func init() {
	captureCmd.Flags().StringVar(&captureSessionID, "session", "", "Existing session id; empty creates a new session")
	captureCmd.Flags().BoolVar(&captureDoneOnExit, "done-on-exit", true, "Mark the session done when capture stops")
	rootCmd.AddCommand(captureCmd)
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Run the capture client",
	Long:  "Sample frames from a source directory at a fixed cadence and transmit them to the ingest service",
	RunE: func(_ *cobra.Command, _ []string) error {
		ll := logctx.Setup("capture", debugLogging)

		doneCtx, doneCancel := handleSignals(context.Background())
		defer doneCancel()
		ctx := logctx.WithLogger(doneCtx, ll)

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Capture.SourceDir == "" {
			return fmt.Errorf("capture.source_dir is required")
		}

		client := ingest.NewClient(cfg.Capture.Endpoint)
		sessionID, err := resolveSession(ctx, client)
		if err != nil {
			return err
		}
		ll.Info("capturing", slog.String("sessionID", sessionID.String()))

		source, err := capture.NewDirSource(cfg.Capture.SourceDir, cfg.Capture.MaxDimension, cfg.Capture.Quality)
		if err != nil {
			return err
		}

		sampler := capture.NewSampler(source, cfg.Capture.Interval)
		transmitter := capture.NewTransmitter(capture.TransmitterConfig{
			Endpoint:      cfg.Capture.Endpoint,
			SessionID:     sessionID,
			CorrelationID: cfg.Capture.CorrelationID,
		})
		transmitter.OnError = func(frame capture.Frame, err error) {
			ll.Warn("frame send failed", slog.Int64("seq", frame.Seq), slog.Any("error", err))
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			sampler.Run(gctx)
			return nil
		})
		g.Go(func() error {
			transmitter.Run(gctx, sampler.Frames())
			return nil
		})
		if err := g.Wait(); err != nil {
			return err
		}

		if captureDoneOnExit {
			// The run context is already cancelled; give the final call its own.
			doneCtx := context.WithoutCancel(ctx)
			if err := client.MarkSessionDone(doneCtx, sessionID); err != nil {
				ll.Warn("failed to mark session done", slog.Any("error", err))
			} else {
				ll.Info("session marked done", slog.String("sessionID", sessionID.String()))
			}
		}
		return nil
	},
}

func resolveSession(ctx context.Context, client *ingest.Client) (uuid.UUID, error) {
	if captureSessionID != "" {
		id, err := uuid.Parse(captureSessionID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("malformed session id %q: %w", captureSessionID, err)
		}
		return id, nil
	}
	return client.CreateSession(ctx, "")
}
