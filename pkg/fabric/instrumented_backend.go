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
package fabric

import (
	"context"

	"github.com/teradata-labs/spendq/pkg/observability"
)

// InstrumentedSandbox wraps a Sandbox with spans and metrics.
type InstrumentedSandbox struct {
	sandbox Sandbox
	tracer  observability.Tracer
}

// NewInstrumentedSandbox wraps sandbox.
func NewInstrumentedSandbox(sandbox Sandbox, tracer observability.Tracer) *InstrumentedSandbox {
	return &InstrumentedSandbox{sandbox: sandbox, tracer: tracer}
}

// Query runs sql with a backend.query span.
func (s *InstrumentedSandbox) Query(ctx context.Context, sql string) (*QueryResult, error) {
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanBackendQuery, observability.WithSpanKind("backend"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrSQLHash, observability.HashSQL(sql))

	result, err := s.sandbox.Query(ctx, sql)
	if err != nil {
		s.recordError(span, "query", err)
		return nil, err
	}

	span.Status = observability.Status{Code: observability.StatusOK}
	span.SetAttribute(observability.AttrSQLRowCount, result.RowCount)
	span.SetAttribute("execution.duration_ms", result.Duration.Milliseconds())
	s.tracer.RecordMetric("backend.query.duration", float64(result.Duration.Milliseconds()), nil)
	s.tracer.RecordMetric("backend.query.rows", float64(result.RowCount), nil)
	return result, nil
}

// Explain runs the plan probe with a backend.explain span.
func (s *InstrumentedSandbox) Explain(ctx context.Context, sql string) (*PlanResult, error) {
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanBackendPlan, observability.WithSpanKind("backend"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrSQLHash, observability.HashSQL(sql))

	plan, err := s.sandbox.Explain(ctx, sql)
	if err != nil {
		s.recordError(span, "explain", err)
		return nil, err
	}
	span.Status = observability.Status{Code: observability.StatusOK}
	span.SetAttribute("execution.duration_ms", plan.Duration.Milliseconds())
	return plan, nil
}

// Ping checks connectivity.
func (s *InstrumentedSandbox) Ping(ctx context.Context) error {
	return s.sandbox.Ping(ctx)
}

func (s *InstrumentedSandbox) recordError(span *observability.Span, op string, err error) {
	span.RecordError(err)
	kind := "unknown"
	if ee, ok := AsExecutionError(err); ok {
		kind = string(ee.Kind)
	}
	span.SetAttribute(observability.AttrErrorType, kind)
	s.tracer.RecordMetric("backend.errors.total", 1, map[string]string{
		"operation": op,
		"kind":      kind,
	})
}

var _ Sandbox = (*InstrumentedSandbox)(nil)
