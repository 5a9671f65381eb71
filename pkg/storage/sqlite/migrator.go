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
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/teradata-labs/spendq/pkg/observability"
	"github.com/teradata-labs/spendq/pkg/storage"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrator applies the embedded SQLite migrations. A mutex serializes
// migrations within the process; SQLite's write lock covers the rest.
type Migrator struct {
	db         *sql.DB
	tracer     observability.Tracer
	migrations []storage.Migration
	mu         sync.Mutex
}

// NewMigrator creates a migrator over db.
func NewMigrator(db *sql.DB, tracer observability.Tracer) (*Migrator, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	migrations, err := storage.ParseMigrations(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	return &Migrator{db: db, tracer: tracer, migrations: migrations}, nil
}

// Up applies pending migrations and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := m.tracer.StartSpan(ctx, "spendq.migrator.up")
	defer m.tracer.EndSpan(span)

	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
			description TEXT
		)`); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	version, err := m.version(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, mig := range storage.Pending(m.migrations, version) {
		err := m.inTx(ctx, mig.UpSQL,
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)", mig.Version, mig.Description)
		if err != nil {
			span.RecordError(err)
			return applied, fmt.Errorf("migration %d failed: %w", mig.Version, err)
		}
		applied++
	}
	span.SetAttribute("migrations_applied", applied)
	return applied, nil
}

// Down rolls back up to steps migrations, newest first.
func (m *Migrator) Down(ctx context.Context, steps int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := m.tracer.StartSpan(ctx, "spendq.migrator.down")
	defer m.tracer.EndSpan(span)

	version, err := m.version(ctx)
	if err != nil {
		return 0, err
	}
	rolled := 0
	for i := len(m.migrations) - 1; i >= 0 && rolled < steps; i-- {
		mig := m.migrations[i]
		if mig.Version > version {
			continue
		}
		if mig.DownSQL == "" {
			return rolled, fmt.Errorf("no down migration for version %d", mig.Version)
		}
		if err := m.inTx(ctx, mig.DownSQL, "DELETE FROM schema_migrations WHERE version = ?", mig.Version); err != nil {
			span.RecordError(err)
			return rolled, fmt.Errorf("rollback of migration %d failed: %w", mig.Version, err)
		}
		rolled++
	}
	span.SetAttribute("migrations_rolled_back", rolled)
	return rolled, nil
}

// Version returns the highest applied migration.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version(ctx)
}

// Pending lists migrations not yet applied.
func (m *Migrator) Pending(ctx context.Context) ([]storage.Migration, error) {
	version, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	return storage.Pending(m.migrations, version), nil
}

func (m *Migrator) version(ctx context.Context) (int, error) {
	var tables int
	if err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'",
	).Scan(&tables); err != nil {
		return 0, fmt.Errorf("failed to check for schema_migrations: %w", err)
	}
	if tables == 0 {
		return 0, nil
	}
	var version int
	if err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current migration version: %w", err)
	}
	return version, nil
}

func (m *Migrator) inTx(ctx context.Context, body, record string, args ...interface{}) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}
