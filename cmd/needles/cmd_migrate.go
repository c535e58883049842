// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/needle/internal/log"
	"github.com/teradata-labs/needle/internal/pgxdriver"
	"github.com/teradata-labs/needle/pkg/observability"
	"github.com/teradata-labs/needle/pkg/storage/postgres"
)

var (
	migrateDown   int
	migrateStatus bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	Long: `Apply pending schema migrations to the configured PostgreSQL database.

Migrations are embedded in the binary and applied in order inside a
transaction each, with an advisory lock so concurrent runs are safe.

Examples:
  # Apply all pending migrations
  needles migrate

  # Show current and latest schema version
  needles migrate --status

  # Roll back the last migration
  needles migrate --down=1`,
	Run: runMigrate,
}

func init() {
	migrateCmd.Flags().IntVar(&migrateDown, "down", 0, "Roll back this many migrations instead of migrating up")
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "Show schema version and exit")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	if err := log.Configure(config.Logging.Level, config.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	tracer := observability.NewNoOpTracer()

	pool, err := pgxdriver.NewPool(ctx, pgxConfig(config), tracer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to PostgreSQL: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	migrator, err := postgres.NewMigrator(pool, tracer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating migrator: %v\n", err)
		os.Exit(1)
	}

	switch {
	case migrateStatus:
		current, err := migrator.CurrentVersion(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading schema version: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Schema version: %d (latest: %d)\n", current, migrator.LatestVersion())

	case migrateDown > 0:
		if err := migrator.MigrateDown(ctx, migrateDown); err != nil {
			fmt.Fprintf(os.Stderr, "Error rolling back: %v\n", err)
			os.Exit(1)
		}
		current, err := migrator.CurrentVersion(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading schema version: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✅ Rolled back %d migration(s), schema at version %d\n", migrateDown, current)

	default:
		if err := migrator.MigrateUp(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error applying migrations: %v\n", err)
			os.Exit(1)
		}
		current, err := migrator.CurrentVersion(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading schema version: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✅ Schema at version %d\n", current)
	}
}
