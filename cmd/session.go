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

	"github.com/cardinalhq/framepipe/cmd/dbopen"
	"github.com/cardinalhq/framepipe/config"
	"github.com/cardinalhq/framepipe/internal/ingest"
	"github.com/cardinalhq/framepipe/internal/logctx"
	"github.com/cardinalhq/framepipe/internal/notify"
)

var sessionName string

func init() {
	sessionCreateCmd.Flags().StringVar(&sessionName, "name", "", "Human-readable session name")
	sessionCmd.AddCommand(sessionCreateCmd, sessionDoneCmd, sessionStatsCmd, sessionWatchCmd)
	rootCmd.AddCommand(sessionCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage capture sessions",
}

func sessionClient() (*ingest.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return ingest.NewClient(cfg.Capture.Endpoint), nil
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new capture session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logctx.Setup("session", debugLogging)
		client, err := sessionClient()
		if err != nil {
			return err
		}
		id, err := client.CreateSession(cmd.Context(), sessionName)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var sessionDoneCmd = &cobra.Command{
	Use:   "done <session-id>",
	Short: "Declare that no more frames will arrive for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logctx.Setup("session", debugLogging)
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("malformed session id: %w", err)
		}
		client, err := sessionClient()
		if err != nil {
			return err
		}
		return client.MarkSessionDone(cmd.Context(), id)
	},
}

var sessionStatsCmd = &cobra.Command{
	Use:   "stats <session-id>",
	Short: "Show frame execution progress for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logctx.Setup("session", debugLogging)
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("malformed session id: %w", err)
		}
		client, err := sessionClient()
		if err != nil {
			return err
		}
		stats, err := client.SessionStats(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("pending=%d analyzing=%d storing=%d completed=%d failed=%d\n",
			stats.Pending, stats.Analyzing, stats.Storing, stats.Completed, stats.Failed)
		return nil
	},
}

// sessionWatchCmd streams completion events live. It catches up from the
// durable outbox first, then follows the NOTIFY channel, so events emitted
// before the watch started are not lost.
var sessionWatchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Stream frame completion events for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		ll := logctx.Setup("session", debugLogging)

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("malformed session id: %w", err)
		}

		doneCtx, doneCancel := handleSignals(context.Background())
		defer doneCancel()
		ctx := logctx.WithLogger(doneCtx, ll)

		store, err := dbopen.FramedbStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		printEvent := func(e notify.Event) {
			fmt.Printf("%s frame %s completed\n", e.CompletedAt.Format("15:04:05.000"), e.FrameJobID)
		}

		entries, err := store.ListOutbox(ctx, id, 0)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			printEvent(notify.Event{
				SessionID:   entry.SessionID,
				FrameJobID:  entry.FrameJobID,
				CompletedAt: entry.CreatedAt,
			})
		}

		listener := notify.NewListener(store.Pool(), func(e notify.Event) {
			if e.SessionID == id {
				printEvent(e)
			}
		})
		ll.Info("watching session", slog.String("sessionID", id.String()))
		return listener.Run(ctx)
	},
}
