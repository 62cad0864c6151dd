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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/framepipe/cmd/dbopen"
	"github.com/cardinalhq/framepipe/config"
	"github.com/cardinalhq/framepipe/internal/analysis"
	"github.com/cardinalhq/framepipe/internal/cloudstorage"
	"github.com/cardinalhq/framepipe/internal/idgen"
	"github.com/cardinalhq/framepipe/internal/logctx"
	"github.com/cardinalhq/framepipe/internal/notify"
	"github.com/cardinalhq/framepipe/internal/workflow"
)

func init() {
	rootCmd.AddCommand(workerCmd)
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the frame analysis worker",
	Long:  "Claim queued frame executions and drive them through vision analysis, persistence, and notification",
	RunE: func(_ *cobra.Command, _ []string) error {
		ll := logctx.Setup("worker", debugLogging)

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

		storage, err := cloudstorage.NewClient(ctx, cfg.Storage)
		if err != nil {
			return err
		}

		analyzer := analysis.NewOllamaAnalyzer(ctx, storage, cfg.Vision, ll)
		persister := workflow.NewDBPersister(store)

		sinks := []notify.Sink{
			notify.NewPGNotifySink(store),
			notify.NewOutboxSink(store),
		}
		if cfg.Notify.KafkaEnabled {
			kafkaSink := notify.NewKafkaSink(cfg.Notify.Kafka)
			defer func() { _ = kafkaSink.Close() }()
			sinks = append(sinks, kafkaSink)
		}
		notifier := notify.NewNotifier(sinks...)

		workerCfg := cfg.Worker
		if workerCfg.WorkerID == 0 {
			workerCfg.WorkerID = idgen.WorkerID()
		}
		ll.Info("worker identity", slog.Int64("workerID", workerCfg.WorkerID))

		engine := workflow.NewEngine(store, store, analyzer, persister, notifier, workerCfg)
		return engine.Run(ctx)
	},
}
