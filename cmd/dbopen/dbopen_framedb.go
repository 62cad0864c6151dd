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

package dbopen

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/framepipe/framedb"
	"github.com/cardinalhq/framepipe/framedb/migrations"
)

// Options configures database connection behavior.
type Options struct {
	SkipMigrationCheck bool
}

// SkipMigrationCheck returns Options that skip the schema version check,
// for the migrate command itself.
func SkipMigrationCheck() Options {
	return Options{SkipMigrationCheck: true}
}

// ConnectToFramedb opens a pool against the database named by the FRAMEDB_*
// environment variables and verifies the schema is migrated and clean.
func ConnectToFramedb(ctx context.Context, opts ...Options) (*pgxpool.Pool, error) {
	connectionString, err := getDatabaseURLFromEnv("FRAMEDB")
	if err != nil {
		return nil, errors.Join(ErrDatabaseNotConfigured, fmt.Errorf("failed to get FRAMEDB connection string: %w", err))
	}

	pool, err := framedb.NewConnectionPool(ctx, connectionString)
	if err != nil {
		return nil, err
	}

	skipMigrationCheck := false
	if len(opts) > 0 {
		skipMigrationCheck = opts[0].SkipMigrationCheck
	}

	if !skipMigrationCheck {
		version, dirty, err := migrations.CurrentVersion(pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("framedb migration version check failed: %w", err)
		}
		if version == 0 {
			pool.Close()
			return nil, errors.New("framedb schema is not migrated; run the migrate command first")
		}
		if dirty {
			pool.Close()
			return nil, fmt.Errorf("framedb schema is dirty at version %d; repair before starting", version)
		}
	}

	return pool, nil
}

// FramedbStore opens the store most commands run against.
func FramedbStore(ctx context.Context, opts ...Options) (*framedb.Store, error) {
	pool, err := ConnectToFramedb(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return framedb.NewStore(pool), nil
}
