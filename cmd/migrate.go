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
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/framepipe/cmd/dbopen"
	"github.com/cardinalhq/framepipe/framedb/migrations"
	"github.com/cardinalhq/framepipe/internal/logctx"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long:  "Apply pending framedb schema migrations",
	RunE: func(_ *cobra.Command, _ []string) error {
		ll := logctx.Setup("migrate", debugLogging)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		pool, err := dbopen.ConnectToFramedb(ctx, dbopen.SkipMigrationCheck())
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := migrations.RunMigrations(pool); err != nil {
			return fmt.Errorf("framedb migrations failed: %w", err)
		}

		version, dirty, err := migrations.CurrentVersion(pool)
		if err != nil {
			return err
		}
		ll.Info("framedb migrations applied",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty))
		return nil
	},
}
