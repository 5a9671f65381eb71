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
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/pkg/fabric"
	"github.com/teradata-labs/spendq/pkg/observability"
	"github.com/teradata-labs/spendq/pkg/sqlguard"
)

// ExecuteSQLToolName is the name the model calls the tool by.
const ExecuteSQLToolName = "execute_sql"

// Error codes returned by execute_sql.
const (
	CodeValidationFailed = "validation_failed"
	CodeCostGateRejected = "cost_gate_rejected"
	CodeExecutionFailed  = "execution_failed"
	CodeCircuitOpen      = "circuit_open"
)

// SQLToolConfig configures execute_sql.
type SQLToolConfig struct {
	Policy sqlguard.Policy

	// DefaultMaxRows applies when the model omits maxRows.
	DefaultMaxRows int
	// HardMaxRows bounds any requested maxRows.
	HardMaxRows int

	// FactTable and FactDateColumn are named in hints.
	FactTable      string
	FactDateColumn string

	// Retention controls how SQL is stored in tool-call spans.
	Retention        observability.SQLRetention
	SQLTruncateChars int
}

// DefaultSQLToolConfig returns defaults for the given policy.
func DefaultSQLToolConfig(policy sqlguard.Policy) SQLToolConfig {
	return SQLToolConfig{
		Policy:           policy,
		DefaultMaxRows:   200,
		HardMaxRows:      1000,
		FactTable:        "public.payments",
		FactDateColumn:   "payment_date",
		Retention:        observability.RetainTruncated,
		SQLTruncateChars: observability.DefaultSQLTruncateChars,
	}
}

// ExecuteSQLOutput is the successful result handed back to the model.
type ExecuteSQLOutput struct {
	Columns   []string                 `json:"columns"`
	Rows      []map[string]interface{} `json:"rows"`
	RowCount  int                      `json:"rowCount"`
	Truncated bool                     `json:"truncated"`
	Meta      ExecuteSQLMeta           `json:"meta"`
}

// ExecuteSQLMeta carries timings and the plan summary.
type ExecuteSQLMeta struct {
	ExecutionMs    int64                  `json:"executionMs"`
	ExplainMs      int64                  `json:"explainMs"`
	ExplainSummary *fabric.ExplainSummary `json:"explainSummary,omitempty"`
}

// ExecuteSQLTool validates, clamps, gates and runs one read-only statement.
type ExecuteSQLTool struct {
	sandbox fabric.Sandbox
	gate    *fabric.CostGate
	breaker *fabric.CircuitBreaker
	config  SQLToolConfig
	logger  *zap.Logger
	now     func() time.Time
}

// SQLToolOption configures an ExecuteSQLTool.
type SQLToolOption func(*ExecuteSQLTool)

// WithCircuitBreaker puts breaker in front of database work.
func WithCircuitBreaker(breaker *fabric.CircuitBreaker) SQLToolOption {
	return func(t *ExecuteSQLTool) {
		t.breaker = breaker
	}
}

// WithSQLToolLogger sets the logger.
func WithSQLToolLogger(logger *zap.Logger) SQLToolOption {
	return func(t *ExecuteSQLTool) {
		t.logger = logger
	}
}

// WithSQLToolClock overrides time.Now, for tests.
func WithSQLToolClock(now func() time.Time) SQLToolOption {
	return func(t *ExecuteSQLTool) {
		t.now = now
	}
}

// NewExecuteSQLTool creates the tool. A nil gate disables plan checks.
func NewExecuteSQLTool(sandbox fabric.Sandbox, gate *fabric.CostGate, config SQLToolConfig, opts ...SQLToolOption) *ExecuteSQLTool {
	if config.HardMaxRows < 1 {
		config.HardMaxRows = 1000
	}
	if config.DefaultMaxRows < 1 || config.DefaultMaxRows > config.HardMaxRows {
		config.DefaultMaxRows = min(200, config.HardMaxRows)
	}
	t := &ExecuteSQLTool{
		sandbox: sandbox,
		gate:    gate,
		config:  config,
		logger:  zap.L(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name implements Tool.
func (t *ExecuteSQLTool) Name() string {
	return ExecuteSQLToolName
}

// Description implements Tool.
func (t *ExecuteSQLTool) Description() string {
	return fmt.Sprintf("Run one read-only PostgreSQL SELECT against the allowed tables and return its rows. "+
		"Results are capped at maxRows (default %d, at most %d). "+
		"Queries on %s must filter on %s. Prefer aggregates over listing rows.",
		t.config.DefaultMaxRows, t.config.HardMaxRows, t.config.FactTable, t.config.FactDateColumn)
}

// InputSchema implements Tool.
func (t *ExecuteSQLTool) InputSchema() *JSONSchema {
	one := 1
	return NewObjectSchema("execute_sql arguments", map[string]*JSONSchema{
		"sql":     NewStringSchema("A single SELECT statement. No semicolons, no writes.").WithLength(&one, nil),
		"reason":  NewStringSchema("Why this query answers the user's question."),
		"maxRows": NewIntegerSchema("Maximum rows to return; values outside the allowed range are clamped."),
	}, []string{"sql", "reason"})
}

// Execute implements Tool. Every call, successful or not, is recorded on the
// turn recorder in ctx.
func (t *ExecuteSQLTool) Execute(ctx context.Context, params map[string]interface{}) (*Result, error) {
	start := t.now()
	sql, _ := params["sql"].(string)
	span := t.newSpan(start, params)
	recordedSQL := sql

	result := t.run(ctx, sql, params, &recordedSQL, &span)
	t.finish(ctx, result, &span, start, recordedSQL)
	return result, nil
}

// RejectArguments implements ArgumentRejecter so that calls with malformed
// arguments are recorded like any other failure.
func (t *ExecuteSQLTool) RejectArguments(ctx context.Context, params map[string]interface{}, err error) *Result {
	start := t.now()
	sql, _ := params["sql"].(string)
	span := t.newSpan(start, params)
	span.ErrorKind = CodeInvalidArguments

	result := failure(CodeInvalidArguments, err.Error(), true,
		"Call execute_sql again with a non-empty sql string and a reason.")
	t.finish(ctx, result, &span, start, sql)
	return result
}

func (t *ExecuteSQLTool) newSpan(start time.Time, params map[string]interface{}) observability.ToolCallSpan {
	reason, _ := params["reason"].(string)
	return observability.ToolCallSpan{
		ID:        uuid.NewString(),
		ToolName:  ExecuteSQLToolName,
		StartedAt: start,
		Reason:    reason,
	}
}

func (t *ExecuteSQLTool) finish(ctx context.Context, result *Result, span *observability.ToolCallSpan, start time.Time, recordedSQL string) {
	end := t.now()
	result.ExecutionTimeMs = end.Sub(start).Milliseconds()
	span.EndedAt = end
	span.DurationMs = result.ExecutionTimeMs
	span.Success = result.Success
	span.SQL, span.SQLHash = t.config.Retention.Render(recordedSQL, t.config.SQLTruncateChars)
	if result.Error != nil {
		span.Error = result.Error.Message
	}
	observability.RecorderFromContext(ctx).RecordToolCall(*span)
}

func (t *ExecuteSQLTool) run(ctx context.Context, sql string, params map[string]interface{}, recordedSQL *string, span *observability.ToolCallSpan) *Result {
	if strings.TrimSpace(sql) == "" {
		span.ErrorKind = CodeInvalidArguments
		return failure(CodeInvalidArguments, "sql is required", true, "")
	}
	maxRows := t.maxRows(params["maxRows"])

	stmt, err := sqlguard.Validate(sql, t.config.Policy)
	if err != nil {
		return t.fail(err, span)
	}
	clamped, err := sqlguard.Clamp(stmt, maxRows)
	if err != nil {
		return t.fail(err, span)
	}
	*recordedSQL = clamped.SQL

	var (
		summary    *fabric.ExplainSummary
		explainDur time.Duration
		qr         *fabric.QueryResult
	)
	dbWork := func() error {
		if t.gate != nil {
			var gateErr error
			summary, explainDur, gateErr = t.gate.Check(ctx, clamped.SQL)
			if gateErr != nil {
				return gateErr
			}
		}
		var qerr error
		qr, qerr = t.sandbox.Query(ctx, clamped.SQL)
		return qerr
	}
	if t.breaker != nil {
		err = t.breaker.Execute(dbWork)
	} else {
		err = dbWork()
	}
	if err != nil {
		res := t.fail(err, span)
		if summary != nil || explainDur > 0 {
			span.Output = &observability.ToolCallOutput{ExplainMs: explainDur.Milliseconds(), Explain: summary}
		}
		return res
	}

	truncated := clamped.Truncated && qr.RowCount >= clamped.Limit
	out := ExecuteSQLOutput{
		Columns:   qr.ColumnNames(),
		Rows:      qr.Maps(),
		RowCount:  qr.RowCount,
		Truncated: truncated,
		Meta: ExecuteSQLMeta{
			ExecutionMs:    qr.Duration.Milliseconds(),
			ExplainMs:      explainDur.Milliseconds(),
			ExplainSummary: summary,
		},
	}
	span.Output = &observability.ToolCallOutput{
		RowCount:    qr.RowCount,
		Truncated:   truncated,
		ExecutionMs: out.Meta.ExecutionMs,
		ExplainMs:   out.Meta.ExplainMs,
		Explain:     summary,
	}
	return &Result{
		Success: true,
		Data:    out,
		Metadata: map[string]interface{}{
			"row_count": qr.RowCount,
			"truncated": truncated,
			"wrapped":   clamped.Wrapped,
		},
	}
}

// maxRows clamps the requested row cap into [1, HardMaxRows].
func (t *ExecuteSQLTool) maxRows(v interface{}) int {
	n := t.config.DefaultMaxRows
	switch x := v.(type) {
	case float64:
		if !math.IsNaN(x) {
			n = int(math.Min(x, float64(math.MaxInt32)))
		}
	case int:
		n = x
	case int64:
		n = int(x)
	}
	if n < 1 {
		n = 1
	}
	if n > t.config.HardMaxRows {
		n = t.config.HardMaxRows
	}
	return n
}

// fail converts a pipeline error into a tool failure the model can act on.
func (t *ExecuteSQLTool) fail(err error, span *observability.ToolCallSpan) *Result {
	class := fabric.Classify(err)
	span.ErrorKind = string(class)

	switch class {
	case fabric.ClassValidation:
		ve, _ := sqlguard.AsValidationError(err)
		msg := err.Error()
		if ve != nil && (ve.Rule == sqlguard.RuleTableNotAllowed || ve.Rule == sqlguard.RuleSchema) {
			msg = fmt.Sprintf("%s. Allowed tables: %s. Spend and payment questions use %s; always filter it on %s.",
				msg, strings.Join(t.config.Policy.QualifiedAllowlist(), ", "), t.config.FactTable, t.config.FactDateColumn)
		}
		return failure(CodeValidationFailed, msg, true, fabric.Suggest(err))

	case fabric.ClassCostGate:
		return failure(CodeCostGateRejected, err.Error(), true, fabric.Suggest(err))

	case fabric.ClassCircuit:
		t.logger.Warn("execute_sql rejected by circuit breaker", zap.Error(err))
		return failure(CodeCircuitOpen, err.Error(), true, "The database is unavailable; explain this to the user instead of retrying repeatedly.")

	case fabric.ClassExecution:
		ee, _ := fabric.AsExecutionError(err)
		span.ErrorKind = string(ee.Kind)
		return failure(CodeExecutionFailed, err.Error(), ee.Retryable(), fabric.Suggest(err))

	default:
		t.logger.Error("execute_sql failed unexpectedly", zap.Error(err))
		return failure(CodeExecutionFailed, err.Error(), false, "")
	}
}

func failure(code, message string, retryable bool, suggestion string) *Result {
	return &Result{
		Success: false,
		Error: &Error{
			Code:       code,
			Message:    message,
			Retryable:  retryable,
			Suggestion: suggestion,
		},
	}
}

var (
	_ Tool             = (*ExecuteSQLTool)(nil)
	_ ArgumentRejecter = (*ExecuteSQLTool)(nil)
)
