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
	"github.com/cardinalhq/framepipe/internal/cloudstorage"
	"github.com/cardinalhq/framepipe/internal/framequeue"
	"github.com/cardinalhq/framepipe/internal/idgen"
	"github.com/cardinalhq/framepipe/internal/ingest"
	"github.com/cardinalhq/framepipe/internal/logctx"
)

func init() {
	rootCmd.AddCommand(ingestCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the frame ingestion service",
	Long:  "Accept frames over HTTP, store them in object storage, and enqueue them for analysis",
	RunE: func(_ *cobra.Command, _ []string) error {
		ll := logctx.Setup("ingest", debugLogging)

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
		queue, err := framequeue.NewQueue(ctx, cfg.Queue)
		if err != nil {
			return err
		}

		ingestCfg := cfg.Ingest
		if ingestCfg.Bucket == "" {
			ingestCfg.Bucket = cfg.Storage.Bucket
		}
		if ingestCfg.Provider == "" {
			ingestCfg.Provider = cfg.Storage.Provider
		}

		svc := ingest.NewService(store, storage, queue, idgen.NewULIDGenerator(), ingestCfg)
		return svc.Run(ctx)
	},
}
