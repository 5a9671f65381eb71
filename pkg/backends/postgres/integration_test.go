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

//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/internal/pgxdriver"
	"github.com/teradata-labs/spendq/pkg/fabric"
)

// newTestPool connects to TEST_POSTGRES_URL and creates a small probe table.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("TEST_POSTGRES_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxdriver.NewPool(ctx, pgxdriver.Config{URL: url, ApplicationName: "spendq-integration"}, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS public.spendq_sandbox_probe (
			id integer PRIMARY KEY,
			amount numeric(12,2) NOT NULL,
			paid_on date NOT NULL
		)`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `COMMENT ON TABLE public.spendq_sandbox_probe IS 'probe rows'`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO public.spendq_sandbox_probe VALUES (1, 10.50, '2023-01-05'), (2, 20.00, '2023-06-30')
		ON CONFLICT (id) DO NOTHING`)
	require.NoError(t, err)
	return pool
}

func newTestSandbox(t *testing.T, cfg Config) (*Sandbox, *pgxpool.Pool) {
	pool := newTestPool(t)
	return NewSandbox(pool, cfg, WithLogger(zap.NewNop())), pool
}

func TestSandbox_Query(t *testing.T) {
	s, _ := newTestSandbox(t, DefaultConfig())

	result, err := s.Query(context.Background(), "SELECT id, amount, paid_on FROM public.spendq_sandbox_probe ORDER BY id")
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, []string{"id", "amount", "paid_on"}, result.ColumnNames())
	assert.Equal(t, "numeric", result.Columns[1].Type)
	assert.InDelta(t, 10.5, result.Rows[0][1], 0.001)
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestSandbox_StatementTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StatementTimeout = 200 * time.Millisecond
	s, _ := newTestSandbox(t, cfg)

	start := time.Now()
	_, err := s.Query(context.Background(), "SELECT pg_sleep(5)")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)

	ee, ok := fabric.AsExecutionError(err)
	require.True(t, ok)
	assert.Equal(t, fabric.KindTimeout, ee.Kind)

	// The pool is healthy after the rollback.
	result, err := s.Query(context.Background(), "SELECT 1 AS one")
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowCount)
}

func TestSandbox_CancelStopsBackend(t *testing.T) {
	s, pool := newTestSandbox(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	_, err := s.Query(ctx, "SELECT pg_sleep(30) /* spendq-cancel-probe */")
	require.Error(t, err)
	assert.True(t, fabric.IsCancellation(err))

	require.Eventually(t, func() bool {
		var n int
		err := pool.QueryRow(context.Background(), `
			SELECT count(*) FROM pg_stat_activity
			WHERE state = 'active' AND query LIKE '%spendq-cancel-probe%' AND pid <> pg_backend_pid()`).Scan(&n)
		return err == nil && n == 0
	}, 5*time.Second, 100*time.Millisecond, "backend still running the cancelled query")
}

func TestSandbox_ReadOnlyViolation(t *testing.T) {
	s, pool := newTestSandbox(t, DefaultConfig())

	_, err := s.Query(context.Background(), "INSERT INTO public.spendq_sandbox_probe VALUES (99, 1, '2024-01-01')")
	require.Error(t, err)
	ee, ok := fabric.AsExecutionError(err)
	require.True(t, ok)
	assert.Equal(t, fabric.KindReadOnlyViolation, ee.Kind)
	assert.Equal(t, "25006", ee.Code)

	var n int
	require.NoError(t, pool.QueryRow(context.Background(), "SELECT count(*) FROM public.spendq_sandbox_probe WHERE id = 99").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestSandbox_InvalidQuery(t *testing.T) {
	s, _ := newTestSandbox(t, DefaultConfig())
	_, err := s.Query(context.Background(), "SELECT no_such_column FROM public.spendq_sandbox_probe")
	ee, ok := fabric.AsExecutionError(err)
	require.True(t, ok)
	assert.Equal(t, fabric.KindInvalidQuery, ee.Kind)
}

func TestSandbox_Explain(t *testing.T) {
	s, _ := newTestSandbox(t, DefaultConfig())

	plan, err := s.Explain(context.Background(), "SELECT sum(amount) FROM public.spendq_sandbox_probe")
	require.NoError(t, err)

	summary, err := fabric.SummarizePlan(plan.Raw, "public.spendq_sandbox_probe")
	require.NoError(t, err)
	assert.Greater(t, summary.TotalCost, 0.0)
	assert.True(t, summary.FactSeqScanUnfiltered)
}

func TestSandbox_TableSchemas(t *testing.T) {
	s, _ := newTestSandbox(t, DefaultConfig())

	tables, err := s.TableSchemas(context.Background(), []string{"public.spendq_sandbox_probe", "public.does_not_exist"})
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "public.spendq_sandbox_probe", tables[0].QualifiedName())
	assert.Equal(t, "probe rows", tables[0].Comment)
	require.Len(t, tables[0].Columns, 3)
	assert.Equal(t, "paid_on", tables[0].Columns[2].Name)
	assert.Equal(t, "date", tables[0].Columns[2].Type)
	assert.False(t, tables[0].Columns[0].Nullable)
}
