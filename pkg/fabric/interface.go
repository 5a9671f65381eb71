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

// Package fabric defines the read path between the agent's SQL tool and the
// database: the Sandbox contract, the cost gate that vets plans before
// anything runs, the error taxonomy shared by both, and a circuit breaker
// that stops hammering a database that is down.
package fabric

import (
	"context"
	"time"
)

// Sandbox runs single read-only statements inside a time-bounded
// transaction. Implementations must roll back on any failure and actively
// cancel the backend operation when ctx is cancelled.
type Sandbox interface {
	// Query runs sql and returns its rows.
	Query(ctx context.Context, sql string) (*QueryResult, error)

	// Explain returns the EXPLAIN (FORMAT JSON) document for sql without
	// executing it.
	Explain(ctx context.Context, sql string) (*PlanResult, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// Explainer is the plan-only subset of Sandbox used by the cost gate.
type Explainer interface {
	Explain(ctx context.Context, sql string) (*PlanResult, error)
}

// QueryResult is the tabular result of a statement.
type QueryResult struct {
	Columns  []Column
	Rows     [][]interface{}
	RowCount int

	// Duration is wall-clock time inside the transaction.
	Duration time.Duration
}

// ColumnNames returns the column names in order.
func (r *QueryResult) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// Maps returns the rows keyed by column name.
func (r *QueryResult) Maps() []map[string]interface{} {
	out := make([]map[string]interface{}, len(r.Rows))
	for i, row := range r.Rows {
		m := make(map[string]interface{}, len(r.Columns))
		for j, c := range r.Columns {
			if j < len(row) {
				m[c.Name] = row[j]
			}
		}
		out[i] = m
	}
	return out
}

// Column describes a result column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// PlanResult is a raw plan-only probe.
type PlanResult struct {
	// Raw is the EXPLAIN (FORMAT JSON) document.
	Raw []byte

	// Duration is wall-clock time inside the transaction.
	Duration time.Duration
}

// TableSchema describes one table for schema-context rendering.
type TableSchema struct {
	Schema  string
	Name    string
	Comment string
	Columns []Field
}

// QualifiedName returns schema.name.
func (t TableSchema) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Field describes one column.
type Field struct {
	Name     string
	Type     string
	Nullable bool
	Comment  string
}

// SchemaSource lists the columns of the given tables.
type SchemaSource interface {
	TableSchemas(ctx context.Context, tables []string) ([]TableSchema, error)
}
