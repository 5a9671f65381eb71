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
package shuttle

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/pkg/fabric"
	"github.com/teradata-labs/spendq/pkg/observability"
	"github.com/teradata-labs/spendq/pkg/sqlguard"
)

const indexScanPlan = `[{"Plan": {"Node Type": "Aggregate", "Total Cost": 812.4, "Plan Rows": 1,
  "Plans": [{"Node Type": "Index Scan", "Relation Name": "payments", "Schema": "public", "Total Cost": 800, "Plan Rows": 900}]}}]`

const seqScanPlan = `[{"Plan": {"Node Type": "Seq Scan", "Relation Name": "payments", "Schema": "public", "Total Cost": 91000, "Plan Rows": 3000000}}]`

type fakeSandbox struct {
	mu       sync.Mutex
	plan     string
	result   *fabric.QueryResult
	queryErr error
	queries  []string
}

func (f *fakeSandbox) Query(ctx context.Context, sql string) (*fabric.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, sql)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.result, nil
}

func (f *fakeSandbox) Explain(ctx context.Context, sql string) (*fabric.PlanResult, error) {
	plan := f.plan
	if plan == "" {
		plan = indexScanPlan
	}
	return &fabric.PlanResult{Raw: []byte(plan), Duration: 2 * time.Millisecond}, nil
}

func (f *fakeSandbox) Ping(ctx context.Context) error { return nil }

func (f *fakeSandbox) lastQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return ""
	}
	return f.queries[len(f.queries)-1]
}

func oneRow() *fabric.QueryResult {
	return &fabric.QueryResult{
		Columns:  []fabric.Column{{Name: "total", Type: "numeric"}},
		Rows:     [][]interface{}{{1234567.89}},
		RowCount: 1,
		Duration: 12 * time.Millisecond,
	}
}

func testPolicy() sqlguard.Policy {
	return sqlguard.DefaultPolicy("public.payments", "public.buyers", "public.suppliers")
}

func newTestTool(sandbox *fakeSandbox, mutate func(*SQLToolConfig), opts ...SQLToolOption) *ExecuteSQLTool {
	cfg := DefaultSQLToolConfig(testPolicy())
	if mutate != nil {
		mutate(&cfg)
	}
	gate := fabric.NewCostGate(sandbox, fabric.DefaultGateThresholds(), fabric.WithGateLogger(zap.NewNop()))
	opts = append([]SQLToolOption{WithSQLToolLogger(zap.NewNop())}, opts...)
	return NewExecuteSQLTool(sandbox, gate, cfg, opts...)
}

func withRecorder() (context.Context, *observability.TurnRecorder) {
	rec := observability.NewTurnRecorder("conv-1", "req-1", observability.WithRecorderLogger(zap.NewNop()))
	return observability.WithRecorder(context.Background(), rec), rec
}

func TestExecuteSQL_Success(t *testing.T) {
	sandbox := &fakeSandbox{result: oneRow()}
	tool := newTestTool(sandbox, nil)
	ctx, rec := withRecorder()

	result, err := tool.Execute(ctx, map[string]interface{}{
		"sql":    "SELECT sum(amount) AS total FROM public.payments WHERE payment_date >= '2023-01-01' AND payment_date < '2024-01-01'",
		"reason": "total 2023 spend",
	})
	require.NoError(t, err)
	require.True(t, result.Success, "error: %v", result.Error)

	out, ok := result.Data.(ExecuteSQLOutput)
	require.True(t, ok)
	assert.Equal(t, []string{"total"}, out.Columns)
	assert.Equal(t, 1, out.RowCount)
	assert.False(t, out.Truncated, "one row is below the cap")
	assert.Equal(t, 1234567.89, out.Rows[0]["total"])
	assert.Equal(t, int64(12), out.Meta.ExecutionMs)
	assert.Equal(t, int64(2), out.Meta.ExplainMs)
	require.NotNil(t, out.Meta.ExplainSummary)
	assert.InDelta(t, 812.4, out.Meta.ExplainSummary.TotalCost, 0.01)

	assert.True(t, strings.HasSuffix(sandbox.lastQuery(), " LIMIT 200"), sandbox.lastQuery())

	spans := rec.ToolCalls()
	require.Len(t, spans, 1)
	s := spans[0]
	assert.True(t, s.Success)
	assert.Equal(t, ExecuteSQLToolName, s.ToolName)
	assert.Equal(t, "conv-1", s.ConversationID)
	assert.Equal(t, "req-1", s.RequestID)
	assert.Equal(t, "total 2023 spend", s.Reason)
	assert.Equal(t, sandbox.lastQuery(), s.SQL)
	assert.Equal(t, observability.HashSQL(sandbox.lastQuery()), s.SQLHash)
	require.NotNil(t, s.Output)
	assert.Equal(t, 1, s.Output.RowCount)
	assert.Equal(t, 14*time.Millisecond, s.DBTime())
}

func TestExecuteSQL_TableNotAllowed(t *testing.T) {
	sandbox := &fakeSandbox{result: oneRow()}
	tool := newTestTool(sandbox, nil)
	ctx, rec := withRecorder()

	result, err := tool.Execute(ctx, map[string]interface{}{
		"sql":    "SELECT * FROM public.secrets",
		"reason": "poke around",
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.Equal(t, CodeValidationFailed, result.Error.Code)
	assert.True(t, result.Error.Retryable)
	assert.Contains(t, result.Error.Message, "public.secrets")
	assert.Contains(t, result.Error.Message, "public.buyers, public.payments, public.suppliers")
	assert.Contains(t, result.Error.Message, "payment_date")
	assert.Empty(t, sandbox.queries, "nothing reaches the database")

	spans := rec.ToolCalls()
	require.Len(t, spans, 1)
	assert.False(t, spans[0].Success)
	assert.Equal(t, "validation", spans[0].ErrorKind)
	assert.Contains(t, spans[0].Error, "public.secrets")
}

func TestExecuteSQL_RejectsWrites(t *testing.T) {
	sandbox := &fakeSandbox{result: oneRow()}
	tool := newTestTool(sandbox, nil)

	for _, sql := range []string{
		"DELETE FROM public.payments",
		"SELECT 1; DROP TABLE public.payments",
		"SELECT * FROM public.payments FOR UPDATE",
	} {
		result, err := tool.Execute(context.Background(), map[string]interface{}{"sql": sql, "reason": "x"})
		require.NoError(t, err)
		assert.False(t, result.Success, sql)
		assert.Equal(t, CodeValidationFailed, result.Error.Code, sql)
	}
	assert.Empty(t, sandbox.queries)
}

func TestExecuteSQL_CostGateRejects(t *testing.T) {
	sandbox := &fakeSandbox{plan: seqScanPlan, result: oneRow()}
	tool := newTestTool(sandbox, nil)
	ctx, rec := withRecorder()

	result, err := tool.Execute(ctx, map[string]interface{}{
		"sql":    "SELECT sum(amount) FROM public.payments",
		"reason": "all-time total",
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.Equal(t, CodeCostGateRejected, result.Error.Code)
	assert.Contains(t, result.Error.Message, "payment_date")
	assert.NotEmpty(t, result.Error.Suggestion)
	assert.Empty(t, sandbox.queries)

	spans := rec.ToolCalls()
	require.Len(t, spans, 1)
	assert.Equal(t, "cost_gate", spans[0].ErrorKind)
	require.NotNil(t, spans[0].Output)
	assert.Equal(t, int64(2), spans[0].Output.ExplainMs)
}

func TestExecuteSQL_ExecutionError(t *testing.T) {
	sandbox := &fakeSandbox{queryErr: &fabric.ExecutionError{
		Kind: fabric.KindTimeout, Code: "57014", Message: "canceling statement due to statement timeout",
	}}
	tool := newTestTool(sandbox, nil)
	ctx, rec := withRecorder()

	result, err := tool.Execute(ctx, map[string]interface{}{
		"sql":    "SELECT count(*) FROM public.payments WHERE payment_date > now() - interval '1 year'",
		"reason": "count",
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.Equal(t, CodeExecutionFailed, result.Error.Code)
	assert.True(t, result.Error.Retryable)
	assert.Contains(t, result.Error.Message, "statement timeout")

	spans := rec.ToolCalls()
	require.Len(t, spans, 1)
	assert.Equal(t, "timeout", spans[0].ErrorKind)
}

func TestExecuteSQL_MaxRows(t *testing.T) {
	tests := []struct {
		name    string
		maxRows interface{}
		suffix  string
	}{
		{"default", nil, " LIMIT 200"},
		{"requested", float64(50), " LIMIT 50"},
		{"above hard cap", float64(5000), " LIMIT 1000"},
		{"zero", float64(0), " LIMIT 1"},
		{"negative", float64(-20), " LIMIT 1"},
		{"int", 7, " LIMIT 7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sandbox := &fakeSandbox{result: oneRow()}
			executor := NewExecutor(NewRegistry(newTestTool(sandbox, nil)))
			params := map[string]interface{}{
				"sql":    "SELECT name FROM public.suppliers",
				"reason": "list",
			}
			if tt.maxRows != nil {
				params["maxRows"] = tt.maxRows
			}
			result, err := executor.Execute(context.Background(), ExecuteSQLToolName, params)
			require.NoError(t, err)
			require.True(t, result.Success, "error: %v", result.Error)
			assert.True(t, strings.HasSuffix(sandbox.lastQuery(), tt.suffix), sandbox.lastQuery())
		})
	}
}

func TestExecuteSQL_TruncatedOnlyAtCap(t *testing.T) {
	rows := &fabric.QueryResult{
		Columns:  []fabric.Column{{Name: "name", Type: "text"}},
		Rows:     [][]interface{}{{"a"}, {"b"}},
		RowCount: 2,
	}
	sandbox := &fakeSandbox{result: rows}
	tool := newTestTool(sandbox, nil)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"sql": "SELECT name FROM public.suppliers", "reason": "list", "maxRows": float64(2),
	})
	require.NoError(t, err)
	assert.True(t, result.Data.(ExecuteSQLOutput).Truncated)

	// An explicit LIMIT under the cap is the model's own choice.
	result, err = tool.Execute(context.Background(), map[string]interface{}{
		"sql": "SELECT name FROM public.suppliers LIMIT 2", "reason": "list", "maxRows": float64(2),
	})
	require.NoError(t, err)
	assert.False(t, result.Data.(ExecuteSQLOutput).Truncated)
}

func TestExecuteSQL_Retention(t *testing.T) {
	sandbox := &fakeSandbox{result: oneRow()}
	tool := newTestTool(sandbox, func(c *SQLToolConfig) {
		c.Retention = observability.RetainHashed
	})
	ctx, rec := withRecorder()

	_, err := tool.Execute(ctx, map[string]interface{}{"sql": "SELECT name FROM public.buyers", "reason": "r"})
	require.NoError(t, err)
	spans := rec.ToolCalls()
	require.Len(t, spans, 1)
	assert.Empty(t, spans[0].SQL)
	assert.Len(t, spans[0].SQLHash, 64)
}

func TestExecuteSQL_CircuitOpens(t *testing.T) {
	sandbox := &fakeSandbox{queryErr: &fabric.ExecutionError{Kind: fabric.KindConnection, Message: "connection refused"}}
	breaker := fabric.NewCircuitBreaker(fabric.CircuitBreakerConfig{FailureThreshold: 2, Logger: zap.NewNop()})
	tool := newTestTool(sandbox, nil, WithCircuitBreaker(breaker))
	params := map[string]interface{}{"sql": "SELECT name FROM public.buyers", "reason": "r"}

	for i := 0; i < 2; i++ {
		result, err := tool.Execute(context.Background(), params)
		require.NoError(t, err)
		assert.Equal(t, CodeExecutionFailed, result.Error.Code)
		assert.False(t, result.Error.Retryable)
	}

	result, err := tool.Execute(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, CodeCircuitOpen, result.Error.Code)
	assert.Len(t, sandbox.queries, 2)
}

func TestExecuteSQL_NoRecorder(t *testing.T) {
	sandbox := &fakeSandbox{result: oneRow()}
	tool := newTestTool(sandbox, nil)
	assert.NotPanics(t, func() {
		_, _ = tool.Execute(context.Background(), map[string]interface{}{"sql": "", "reason": "r"})
	})
}

func TestExecuteSQL_Schema(t *testing.T) {
	tool := newTestTool(&fakeSandbox{}, nil)
	schema := tool.InputSchema()
	assert.Equal(t, []string{"sql", "reason"}, schema.Required)
	assert.Contains(t, tool.Description(), "payment_date")

	assert.NoError(t, ValidateParams(schema, map[string]interface{}{"sql": "SELECT 1", "reason": "r", "maxRows": float64(3)}))
	assert.Error(t, ValidateParams(schema, map[string]interface{}{"reason": "r"}))
	assert.Error(t, ValidateParams(schema, map[string]interface{}{"sql": "SELECT 1", "reason": "r", "maxRows": "ten"}))
	assert.NoError(t, ValidateParams(schema, map[string]interface{}{"sql": "SELECT 1", "reason": "r", "maxRows": float64(0)}))
}

func TestExecuteSQL_RejectedArgumentsAreRecorded(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]interface{}
		sql    string
	}{
		{"missing sql", map[string]interface{}{"reason": "spend"}, ""},
		{"empty sql", map[string]interface{}{"sql": "", "reason": "spend"}, ""},
		{"wrong type", map[string]interface{}{"sql": "SELECT 1", "reason": "spend", "maxRows": "ten"}, "SELECT 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sandbox := &fakeSandbox{result: oneRow()}
			executor := NewExecutor(NewRegistry(newTestTool(sandbox, nil)))
			ctx, rec := withRecorder()

			result, err := executor.Execute(ctx, ExecuteSQLToolName, tt.params)
			require.NoError(t, err)
			assert.False(t, result.Success)
			require.NotNil(t, result.Error)
			assert.Equal(t, CodeInvalidArguments, result.Error.Code)
			assert.True(t, result.Error.Retryable)
			assert.Empty(t, sandbox.queries)

			spans := rec.ToolCalls()
			require.Len(t, spans, 1)
			assert.False(t, spans[0].Success)
			assert.Equal(t, CodeInvalidArguments, spans[0].ErrorKind)
			assert.Equal(t, "spend", spans[0].Reason)
			assert.Equal(t, result.Error.Message, spans[0].Error)
			assert.False(t, spans[0].StartedAt.IsZero())
			assert.Equal(t, tt.sql, spans[0].SQL)
		})
	}
}
