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
package postgres

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teradata-labs/spendq/pkg/observability"
	"github.com/teradata-labs/spendq/pkg/storage"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID serializes migrations across processes. The lock is
// transaction-scoped so it is released with the connection that took it.
const migrationLockID = 507153202

// Migrator applies the embedded migrations that create the checkpoint and
// tool-call tables.
type Migrator struct {
	pool       *pgxpool.Pool
	tracer     observability.Tracer
	migrations []storage.Migration
}

// NewMigrator creates a migrator over pool.
func NewMigrator(pool *pgxpool.Pool, tracer observability.Tracer) (*Migrator, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	migrations, err := loadMigrations()
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	return &Migrator{pool: pool, tracer: tracer, migrations: migrations}, nil
}

func loadMigrations() ([]storage.Migration, error) {
	return storage.ParseMigrations(migrationFS, "migrations")
}

// Up applies every pending migration, each in its own transaction, and
// returns how many were applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	ctx, span := m.tracer.StartSpan(ctx, "spendq.migrator.up")
	defer m.tracer.EndSpan(span)

	if _, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			description TEXT
		)`); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied := 0
	for _, mig := range m.migrations {
		done, err := m.step(ctx, mig, true)
		if err != nil {
			span.RecordError(err)
			return applied, fmt.Errorf("migration %d failed: %w", mig.Version, err)
		}
		if done {
			applied++
		}
	}
	span.SetAttribute("migrations_applied", applied)
	return applied, nil
}

// Down rolls back up to steps applied migrations, newest first.
func (m *Migrator) Down(ctx context.Context, steps int) (int, error) {
	ctx, span := m.tracer.StartSpan(ctx, "spendq.migrator.down")
	defer m.tracer.EndSpan(span)

	rolled := 0
	for i := len(m.migrations) - 1; i >= 0 && rolled < steps; i-- {
		mig := m.migrations[i]
		if mig.DownSQL == "" {
			return rolled, fmt.Errorf("no down migration for version %d", mig.Version)
		}
		done, err := m.step(ctx, mig, false)
		if err != nil {
			span.RecordError(err)
			return rolled, fmt.Errorf("rollback of migration %d failed: %w", mig.Version, err)
		}
		if done {
			rolled++
		}
	}
	span.SetAttribute("migrations_rolled_back", rolled)
	return rolled, nil
}

// step applies or reverts mig under the advisory lock. It reports false when
// there was nothing to do because another process got there first.
func (m *Migrator) step(ctx context.Context, mig storage.Migration, up bool) (bool, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return false, fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	var applied bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", mig.Version).Scan(&applied); err != nil {
		return false, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	if applied == up {
		return false, nil
	}

	if up {
		err = m.exec(ctx, tx, mig.UpSQL,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)", mig.Version, mig.Description)
	} else {
		err = m.exec(ctx, tx, mig.DownSQL,
			"DELETE FROM schema_migrations WHERE version = $1", mig.Version)
	}
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit migration: %w", err)
	}
	return true, nil
}

func (m *Migrator) exec(ctx context.Context, tx pgx.Tx, body, record string, args ...interface{}) error {
	if _, err := tx.Exec(ctx, body); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.Exec(ctx, record, args...); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return nil
}

// Version returns the highest applied migration, or 0 before the first Up.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	var exists bool
	if err := m.pool.QueryRow(ctx, "SELECT to_regclass('schema_migrations') IS NOT NULL").Scan(&exists); err != nil {
		return 0, fmt.Errorf("failed to check for schema_migrations: %w", err)
	}
	if !exists {
		return 0, nil
	}
	var version int
	if err := m.pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current migration version: %w", err)
	}
	return version, nil
}

// Pending lists migrations not yet applied.
func (m *Migrator) Pending(ctx context.Context) ([]storage.Migration, error) {
	version, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	return storage.Pending(m.migrations, version), nil
}
