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
	"time"

	"github.com/teradata-labs/spendq/pkg/observability"
)

// InstrumentedExecutor wraps a ToolExecutor with a span and metrics per call.
// Arguments are not attached to spans; execute_sql records its own SQL
// according to the retention mode.
type InstrumentedExecutor struct {
	executor ToolExecutor
	tracer   observability.Tracer
}

// NewInstrumentedExecutor creates a new instrumented tool executor.
func NewInstrumentedExecutor(executor ToolExecutor, tracer observability.Tracer) *InstrumentedExecutor {
	return &InstrumentedExecutor{executor: executor, tracer: tracer}
}

// Execute runs toolName inside a tool.execute span.
func (e *InstrumentedExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}) (*Result, error) {
	ctx, span := e.tracer.StartSpan(ctx, observability.SpanToolExecute, observability.WithSpanKind("tool"))
	defer e.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrToolName, toolName)

	start := time.Now()
	result, err := e.executor.Execute(ctx, toolName, params)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetAttribute(observability.AttrErrorType, "executor_error")
		e.tracer.RecordMetric(observability.MetricToolErrors, 1, map[string]string{
			observability.AttrToolName: toolName,
			"error_type":               "executor_error",
		})
		return nil, err
	}

	if result.Success {
		span.Status = observability.Status{Code: observability.StatusOK}
		e.tracer.RecordMetric(observability.MetricToolExecutions, 1, map[string]string{
			observability.AttrToolName: toolName,
			"status":                   "success",
		})
	} else {
		code := ""
		if result.Error != nil {
			code = result.Error.Code
			span.Status = observability.Status{Code: observability.StatusError, Message: result.Error.Message}
			span.SetAttribute("tool.error.code", result.Error.Code)
			span.SetAttribute("tool.error.retryable", result.Error.Retryable)
		}
		e.tracer.RecordMetric(observability.MetricToolErrors, 1, map[string]string{
			observability.AttrToolName: toolName,
			"error_type":               "tool_error",
			"error_code":               code,
		})
	}

	span.SetAttribute("tool.execution_time_ms", result.ExecutionTimeMs)
	for key, value := range result.Metadata {
		switch v := value.(type) {
		case string, int, int64, float64, bool:
			span.SetAttribute(fmt.Sprintf("tool.metadata.%s", key), v)
		}
	}
	e.tracer.RecordMetric(observability.MetricToolDuration, float64(duration.Milliseconds()), map[string]string{
		observability.AttrToolName: toolName,
	})
	return result, nil
}

// ListTools returns the wrapped executor's tools.
func (e *InstrumentedExecutor) ListTools() []Tool {
	return e.executor.ListTools()
}

var _ ToolExecutor = (*InstrumentedExecutor)(nil)
