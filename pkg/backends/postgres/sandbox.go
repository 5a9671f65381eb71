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

// Package postgres implements the read-only execution sandbox on PostgreSQL.
//
// Every statement runs in its own READ ONLY transaction with transaction-local
// statement, lock and idle-in-transaction timeouts. Cancelling the caller's
// context sends a cancel request to the backend and rolls the transaction
// back.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/internal/pgxdriver"
	"github.com/teradata-labs/spendq/pkg/fabric"
)

// defaultMaxResultRows caps rows read from one result regardless of the
// statement's own LIMIT.
const defaultMaxResultRows = 10000

// Config holds the per-transaction limits.
type Config struct {
	StatementTimeout         time.Duration
	LockTimeout              time.Duration
	IdleInTransactionTimeout time.Duration

	// CancelGrace bounds rollback and cancel requests after the caller's
	// context is gone.
	CancelGrace time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		StatementTimeout:         15 * time.Second,
		LockTimeout:              2 * time.Second,
		IdleInTransactionTimeout: 10 * time.Second,
		CancelGrace:              5 * time.Second,
	}
}

// Compile-time interface checks
var (
	_ fabric.Sandbox      = (*Sandbox)(nil)
	_ fabric.SchemaSource = (*Sandbox)(nil)
)

// Sandbox implements fabric.Sandbox over a pgx pool.
type Sandbox struct {
	pool          *pgxpool.Pool
	config        Config
	logger        *zap.Logger
	maxResultRows int
	now           func() time.Time
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sandbox) {
		s.logger = logger
	}
}

// WithMaxResultRows sets the hard cap on rows read from one result.
func WithMaxResultRows(n int) Option {
	return func(s *Sandbox) {
		if n > 0 {
			s.maxResultRows = n
		}
	}
}

// NewSandbox creates a sandbox over pool.
func NewSandbox(pool *pgxpool.Pool, config Config, opts ...Option) *Sandbox {
	s := &Sandbox{
		pool:          pool,
		config:        config,
		logger:        zap.L(),
		maxResultRows: defaultMaxResultRows,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sandbox) settings() pgxdriver.TxSettings {
	return pgxdriver.TxSettings{
		StatementTimeout:         s.config.StatementTimeout,
		LockTimeout:              s.config.LockTimeout,
		IdleInTransactionTimeout: s.config.IdleInTransactionTimeout,
		CleanupTimeout:           s.config.CancelGrace,
	}
}

// Query runs sql in a read-only transaction.
func (s *Sandbox) Query(ctx context.Context, sql string) (*fabric.QueryResult, error) {
	start := s.now()
	result := &fabric.QueryResult{}

	err := pgxdriver.RunReadOnly(ctx, s.pool, s.settings(), func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sql)
		if err != nil {
			return err
		}
		defer rows.Close()

		typeMap := tx.Conn().TypeMap()
		for _, fd := range rows.FieldDescriptions() {
			result.Columns = append(result.Columns, fabric.Column{
				Name: fd.Name,
				Type: typeName(typeMap, fd.DataTypeOID),
			})
		}

		for rows.Next() {
			if len(result.Rows) >= s.maxResultRows {
				s.logger.Warn("query result truncated at row limit",
					zap.Int("limit", s.maxResultRows),
					zap.String("query_prefix", truncateQuery(sql, 100)))
				break
			}
			values, err := rows.Values()
			if err != nil {
				return fmt.Errorf("failed to read row values: %w", err)
			}
			for i, v := range values {
				values[i] = normalizeValue(v)
			}
			result.Rows = append(result.Rows, values)
		}
		rows.Close()
		return rows.Err()
	})

	duration := s.now().Sub(start)
	if err != nil {
		mapped := mapError(ctx, err)
		s.logger.Debug("sandbox query failed",
			zap.Duration("duration", duration),
			zap.String("query_prefix", truncateQuery(sql, 100)),
			zap.Error(mapped))
		return nil, mapped
	}

	result.RowCount = len(result.Rows)
	result.Duration = duration
	return result, nil
}

// Explain returns the EXPLAIN (FORMAT JSON) document for sql. The statement
// is planned, not executed.
func (s *Sandbox) Explain(ctx context.Context, sql string) (*fabric.PlanResult, error) {
	start := s.now()
	var raw []byte

	err := pgxdriver.RunReadOnly(ctx, s.pool, s.settings(), func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, "EXPLAIN (FORMAT JSON) "+sql).Scan(&raw)
	})
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return &fabric.PlanResult{Raw: raw, Duration: s.now().Sub(start)}, nil
}

// Ping checks connectivity.
func (s *Sandbox) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return mapError(ctx, err)
	}
	return nil
}

// TableSchemas lists columns and comments of the given schema-qualified
// tables, in the order requested. Missing tables are skipped.
func (s *Sandbox) TableSchemas(ctx context.Context, tables []string) ([]fabric.TableSchema, error) {
	const query = `
		SELECT c.table_schema, c.table_name, c.column_name, c.data_type, c.is_nullable,
		       COALESCE(col_description(format('%I.%I', c.table_schema, c.table_name)::regclass, c.ordinal_position), ''),
		       COALESCE(obj_description(format('%I.%I', c.table_schema, c.table_name)::regclass, 'pg_class'), '')
		FROM information_schema.columns c
		WHERE c.table_schema || '.' || c.table_name = ANY($1)
		ORDER BY c.table_schema, c.table_name, c.ordinal_position`

	byName := make(map[string]*fabric.TableSchema)
	err := pgxdriver.RunReadOnly(ctx, s.pool, s.settings(), func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tables)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var schema, table, column, dataType, nullable, colComment, tableComment string
			if err := rows.Scan(&schema, &table, &column, &dataType, &nullable, &colComment, &tableComment); err != nil {
				return fmt.Errorf("failed to scan column: %w", err)
			}
			key := schema + "." + table
			ts, ok := byName[key]
			if !ok {
				ts = &fabric.TableSchema{Schema: schema, Name: table, Comment: tableComment}
				byName[key] = ts
			}
			ts.Columns = append(ts.Columns, fabric.Field{
				Name:     column,
				Type:     dataType,
				Nullable: strings.EqualFold(nullable, "YES"),
				Comment:  colComment,
			})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, mapError(ctx, err)
	}

	out := make([]fabric.TableSchema, 0, len(byName))
	for _, t := range tables {
		if ts, ok := byName[t]; ok {
			out = append(out, *ts)
		}
	}
	return out, nil
}

func typeName(m *pgtype.Map, oid uint32) string {
	if t, ok := m.TypeForOID(oid); ok {
		return t.Name
	}
	return fmt.Sprintf("oid:%d", oid)
}

// normalizeValue converts pgx values without a natural JSON form.
func normalizeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", x[0:4], x[4:6], x[6:8], x[8:10], x[10:16])
	default:
		return v
	}
}

func truncateQuery(query string, maxLen int) string {
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "..."
}
