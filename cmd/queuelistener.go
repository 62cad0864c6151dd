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

	"github.com/spf13/cobra"

	"github.com/cardinalhq/framepipe/cmd/dbopen"
	"github.com/cardinalhq/framepipe/config"
	"github.com/cardinalhq/framepipe/internal/framequeue"
	"github.com/cardinalhq/framepipe/internal/logctx"
	"github.com/cardinalhq/framepipe/internal/workflow"
)

func init() {
	rootCmd.AddCommand(queueListenerCmd)
}

var queueListenerCmd = &cobra.Command{
	Use:   "queuelistener",
	Short: "Run the queue listener",
	Long:  "Consume frame descriptors off the queue and start durable executions for them",
	RunE: func(_ *cobra.Command, _ []string) error {
		ll := logctx.Setup("queuelistener", debugLogging)

		doneCtx, doneCancel := handleSignals(context.Background())
		defer doneCancel()
		ctx := logctx.WithLogger(doneCtx, ll)

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := dbopen.FramedbStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		queue, err := framequeue.NewQueue(ctx, cfg.Queue)
		if err != nil {
			return err
		}

		starter := workflow.NewStarter(queue, store, store)
		return starter.Run(ctx)
	},
}
