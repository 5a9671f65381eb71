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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/spendq/pkg/observability"
)

func rowsTool() *MockTool {
	one := 1
	minRows := float64(1)
	return &MockTool{
		MockName: "rows",
		MockSchema: NewObjectSchema("rows arguments", map[string]*JSONSchema{
			"sql":     NewStringSchema("query").WithLength(&one, nil),
			"maxRows": NewIntegerSchema("cap").WithRange(&minRows, nil),
		}, []string{"sql"}),
	}
}

func TestExecutor_UnknownTool(t *testing.T) {
	exec := NewExecutor(NewRegistry(rowsTool()))

	result, err := exec.Execute(context.Background(), "drop_everything", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, CodeUnknownTool, result.Error.Code)
	assert.Contains(t, result.Error.Suggestion, "rows")
}

func TestExecutor_InvalidArguments(t *testing.T) {
	tool := rowsTool()
	exec := NewExecutor(NewRegistry(tool))

	result, err := exec.Execute(context.Background(), "rows", map[string]interface{}{"maxRows": float64(0)})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, CodeInvalidArguments, result.Error.Code)
	assert.Contains(t, result.Error.Message, "invalid arguments")
	assert.True(t, result.Error.Retryable)
	assert.Equal(t, 0, tool.Calls(), "tool must not run on invalid arguments")
}

func TestExecutor_NormalizesParameterNames(t *testing.T) {
	tool := rowsTool()
	exec := NewExecutor(NewRegistry(tool))

	result, err := exec.Execute(context.Background(), "rows", map[string]interface{}{
		"sql":      "SELECT 1",
		"max_rows": float64(5),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, float64(5), tool.LastParams["maxRows"])
	assert.NotContains(t, tool.LastParams, "max_rows")
}

func TestExecutor_ToolError(t *testing.T) {
	tool := rowsTool()
	tool.MockExecute = func(ctx context.Context, params map[string]interface{}) (*Result, error) {
		return nil, errors.New("boom")
	}
	exec := NewExecutor(NewRegistry(tool))

	_, err := exec.Execute(context.Background(), "rows", map[string]interface{}{"sql": "SELECT 1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool rows failed")
}

func TestRegistry_ListToolsSorted(t *testing.T) {
	r := NewRegistry(&MockTool{MockName: "zeta"}, &MockTool{MockName: "alpha"})
	r.Register(&MockTool{MockName: "alpha"})

	tools := r.ListTools()
	require.Len(t, tools, 2)
	assert.Equal(t, "alpha", tools[0].Name())
	assert.Equal(t, "zeta", tools[1].Name())
	assert.Equal(t, 2, r.Count())
}

func TestInstrumentedExecutor(t *testing.T) {
	tracer := observability.NewMockTracer()
	tool := rowsTool()
	tool.MockExecute = func(ctx context.Context, params map[string]interface{}) (*Result, error) {
		return &Result{Success: true, Metadata: map[string]interface{}{"row_count": 3}}, nil
	}
	exec := NewInstrumentedExecutor(NewExecutor(NewRegistry(tool)), tracer)

	result, err := exec.Execute(context.Background(), "rows", map[string]interface{}{"sql": "SELECT 1"})
	require.NoError(t, err)
	assert.True(t, result.Success)

	_, err = exec.Execute(context.Background(), "missing", nil)
	require.NoError(t, err)

	spans := tracer.GetSpansByName(observability.SpanToolExecute)
	require.Len(t, spans, 2)
	assert.Equal(t, "rows", spans[0].Attributes[observability.AttrToolName])
	assert.Equal(t, 3, spans[0].Attributes["tool.metadata.row_count"])
	assert.Equal(t, observability.StatusOK, spans[0].Status.Code)
	assert.Equal(t, CodeUnknownTool, spans[1].Attributes["tool.error.code"])

	assert.Equal(t, float64(1), tracer.SumMetric(observability.MetricToolExecutions))
	assert.Equal(t, float64(1), tracer.SumMetric(observability.MetricToolErrors))
	assert.Len(t, exec.ListTools(), 1)
}
