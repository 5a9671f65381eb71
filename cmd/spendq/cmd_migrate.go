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
	"strconv"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/spendq/internal/sqlitedriver"
	"github.com/teradata-labs/spendq/pkg/storage"
	pgstore "github.com/teradata-labs/spendq/pkg/storage/postgres"
	"github.com/teradata-labs/spendq/pkg/storage/sqlite"
)

// migrator is implemented by the postgres and sqlite migrators.
type migrator interface {
	Up(ctx context.Context) (int, error)
	Down(ctx context.Context, steps int) (int, error)
	Version(ctx context.Context) (int, error)
	Pending(ctx context.Context) ([]storage.Migration, error)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage checkpoint store migrations",
	Long: `Apply or roll back the checkpoint and tool-call tables of the configured
checkpoint backend (postgres or sqlite).`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: withMigrator(func(cmd *cobra.Command, args []string, m migrator) error {
		n, err := m.Up(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s)\n", n)
		return nil
	}),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Roll back migrations (default: 1)",
	Args:  cobra.MaximumNArgs(1),
	RunE: withMigrator(func(cmd *cobra.Command, args []string, m migrator) error {
		steps := 1
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("steps must be a positive integer, got %q", args[0])
			}
			steps = n
		}
		n, err := m.Down(cmd.Context(), steps)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migration(s)\n", n)
		return nil
	}),
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the schema version and pending migrations",
	Args:  cobra.NoArgs,
	RunE: withMigrator(func(cmd *cobra.Command, args []string, m migrator) error {
		ctx := cmd.Context()
		version, err := m.Version(ctx)
		if err != nil {
			return err
		}
		pending, err := m.Pending(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Version: %d\n", version)
		fmt.Fprintf(out, "Pending: %d\n", len(pending))
		for _, mig := range pending {
			fmt.Fprintf(out, "  %06d %s\n", mig.Version, mig.Description)
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

func withMigrator(run func(cmd *cobra.Command, args []string, m migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(config)
		if err != nil {
			return err
		}
		defer closeApp(a)

		m, err := a.openMigrator(cmd.Context())
		if err != nil {
			return err
		}
		return run(cmd, args, m)
	}
}

// openMigrator opens the migrator of the configured checkpoint backend
// without applying anything.
func (a *app) openMigrator(ctx context.Context) (migrator, error) {
	switch a.config.Checkpoint.Backend {
	case "postgres":
		if err := a.openDatabase(ctx); err != nil {
			return nil, err
		}
		return pgstore.NewMigrator(a.pool, a.tracer)
	case "sqlite":
		db, err := sqlitedriver.Open(ctx, a.config.Checkpoint.SQLitePath, a.config.Checkpoint.EncryptionKey)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) { _ = db.Close() })
		return sqlite.NewMigrator(db, a.tracer)
	default:
		return nil, fmt.Errorf("checkpoint backend %q has no migrations", a.config.Checkpoint.Backend)
	}
}
