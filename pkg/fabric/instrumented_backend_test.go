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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/spendq/pkg/observability"
)

func TestInstrumentedSandbox_Query(t *testing.T) {
	tracer := observability.NewMockTracer()
	inner := &fakeSandbox{result: &QueryResult{
		Columns:  []Column{{Name: "n", Type: "int8"}},
		Rows:     [][]interface{}{{int64(1)}, {int64(2)}},
		RowCount: 2,
		Duration: 7 * time.Millisecond,
	}}
	s := NewInstrumentedSandbox(inner, tracer)

	result, err := s.Query(context.Background(), "SELECT n FROM public.payments LIMIT 2")
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)

	span := tracer.GetSpanByName(observability.SpanBackendQuery)
	require.NotNil(t, span)
	assert.Equal(t, observability.StatusOK, span.Status.Code)
	assert.Equal(t, 2, span.Attributes[observability.AttrSQLRowCount])
	assert.Equal(t, observability.HashSQL("SELECT n FROM public.payments LIMIT 2"), span.Attributes[observability.AttrSQLHash])
	assert.Equal(t, float64(2), tracer.SumMetric("backend.query.rows"))
}

func TestInstrumentedSandbox_Errors(t *testing.T) {
	tracer := observability.NewMockTracer()
	inner := &fakeSandbox{
		queryErr: &ExecutionError{Kind: KindTimeout, Code: "57014", Message: "statement timeout"},
		planErr:  &ExecutionError{Kind: KindInvalidQuery, Code: "42P01", Message: "relation does not exist"},
	}
	s := NewInstrumentedSandbox(inner, tracer)

	_, err := s.Query(context.Background(), "SELECT 1")
	require.Error(t, err)
	_, err = s.Explain(context.Background(), "SELECT 1")
	require.Error(t, err)

	q := tracer.GetSpanByName(observability.SpanBackendQuery)
	require.NotNil(t, q)
	assert.Equal(t, observability.StatusError, q.Status.Code)
	assert.Equal(t, "timeout", q.Attributes[observability.AttrErrorType])

	p := tracer.GetSpanByName(observability.SpanBackendPlan)
	require.NotNil(t, p)
	assert.Equal(t, "invalid_query", p.Attributes[observability.AttrErrorType])
	assert.Equal(t, float64(2), tracer.SumMetric("backend.errors.total"))
}
