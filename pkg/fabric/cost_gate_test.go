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
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/pkg/observability"
)

// fakeSandbox returns canned plans and results.
type fakeSandbox struct {
	plan      []byte
	planErr   error
	result    *QueryResult
	queryErr  error
	queries   []string
	explained []string
}

func (f *fakeSandbox) Query(ctx context.Context, sql string) (*QueryResult, error) {
	f.queries = append(f.queries, sql)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.result, nil
}

func (f *fakeSandbox) Explain(ctx context.Context, sql string) (*PlanResult, error) {
	f.explained = append(f.explained, sql)
	if f.planErr != nil {
		return nil, f.planErr
	}
	return &PlanResult{Raw: f.plan, Duration: 3 * time.Millisecond}, nil
}

func (f *fakeSandbox) Ping(ctx context.Context) error { return nil }

const unfilteredFactScanPlan = `[{"Plan": {
  "Node Type": "Aggregate", "Total Cost": 120000.5, "Plan Rows": 1,
  "Plans": [{"Node Type": "Seq Scan", "Relation Name": "payments", "Schema": "public",
             "Total Cost": 110000.0, "Plan Rows": 4000000}]
}}]`

const indexedFactPlan = `[{"Plan": {
  "Node Type": "Aggregate", "Total Cost": 950.25, "Plan Rows": 10,
  "Plans": [{"Node Type": "Index Scan", "Relation Name": "payments", "Schema": "public",
             "Index Cond": "(payment_date >= '2025-01-01'::date)",
             "Total Cost": 900.0, "Plan Rows": 1200}]
}}]`

const filteredSeqScanPlan = `[{"Plan": {
  "Node Type": "Seq Scan", "Relation Name": "payments", "Schema": "public",
  "Filter": "(payment_date >= '2025-01-01'::date)",
  "Total Cost": 4000.0, "Plan Rows": 300
}}]`

const expensiveJoinPlan = `[{"Plan": {
  "Node Type": "Hash Join", "Total Cost": 9000000, "Plan Rows": 120,
  "Plans": [
    {"Node Type": "Index Scan", "Relation Name": "suppliers", "Total Cost": 10, "Plan Rows": 5},
    {"Node Type": "Bitmap Heap Scan", "Relation Name": "payments", "Total Cost": 8999000, "Plan Rows": 120}
  ]
}}]`

func TestSummarizePlan(t *testing.T) {
	t.Run("unfiltered fact scan", func(t *testing.T) {
		s, err := SummarizePlan([]byte(unfilteredFactScanPlan), "public.payments")
		require.NoError(t, err)
		assert.InDelta(t, 120000.5, s.TotalCost, 0.001)
		assert.Equal(t, float64(1), s.PlanRows)
		assert.True(t, s.FactSeqScan)
		assert.True(t, s.FactSeqScanUnfiltered)
		assert.Equal(t, []string{"Aggregate", "Seq Scan"}, s.NodeTypes)
	})

	t.Run("index scan", func(t *testing.T) {
		s, err := SummarizePlan([]byte(indexedFactPlan), "public.payments")
		require.NoError(t, err)
		assert.False(t, s.FactSeqScan)
		assert.False(t, s.FactSeqScanUnfiltered)
	})

	t.Run("filtered seq scan", func(t *testing.T) {
		s, err := SummarizePlan([]byte(filteredSeqScanPlan), "public.payments")
		require.NoError(t, err)
		assert.True(t, s.FactSeqScan)
		assert.False(t, s.FactSeqScanUnfiltered)
	})

	t.Run("other schema does not match", func(t *testing.T) {
		s, err := SummarizePlan([]byte(unfilteredFactScanPlan), "finance.payments")
		require.NoError(t, err)
		assert.False(t, s.FactSeqScan)
	})

	t.Run("document wrapped in a string", func(t *testing.T) {
		wrapped, err := json.Marshal(indexedFactPlan)
		require.NoError(t, err)
		s, err := SummarizePlan(wrapped, "public.payments")
		require.NoError(t, err)
		assert.InDelta(t, 950.25, s.TotalCost, 0.001)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := SummarizePlan([]byte("not json"), "public.payments")
		assert.Error(t, err)
	})

	t.Run("empty document", func(t *testing.T) {
		_, err := SummarizePlan([]byte("[]"), "public.payments")
		assert.Error(t, err)
	})
}

func TestCostGate_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects unfiltered fact scan", func(t *testing.T) {
		tracer := observability.NewMockTracer()
		gate := NewCostGate(&fakeSandbox{plan: []byte(unfilteredFactScanPlan)}, DefaultGateThresholds(),
			WithGateTracer(tracer), WithGateLogger(zap.NewNop()))

		summary, d, err := gate.Check(ctx, "SELECT sum(amount) FROM public.payments")
		require.Error(t, err)
		require.NotNil(t, summary)
		assert.Equal(t, 3*time.Millisecond, d)

		var ge *CostGateError
		require.True(t, errors.As(err, &ge))
		assert.Equal(t, GateUnfilteredScan, ge.Rule)
		assert.Contains(t, err.Error(), "payment_date")
		assert.Equal(t, float64(1), tracer.SumMetric(observability.MetricGateRejections))

		span := tracer.GetSpanByName(observability.SpanCostGate)
		require.NotNil(t, span)
		assert.Equal(t, observability.StatusError, span.Status.Code)
	})

	t.Run("rejects excessive cost", func(t *testing.T) {
		gate := NewCostGate(&fakeSandbox{plan: []byte(expensiveJoinPlan)}, DefaultGateThresholds())
		_, _, err := gate.Check(ctx, "SELECT 1")
		var ge *CostGateError
		require.True(t, errors.As(err, &ge))
		assert.Equal(t, GateMaxCost, ge.Rule)
		assert.Equal(t, ClassCostGate, Classify(err))
	})

	t.Run("rejects excessive rows", func(t *testing.T) {
		th := DefaultGateThresholds()
		th.MaxPlanRows = 100
		gate := NewCostGate(&fakeSandbox{plan: []byte(filteredSeqScanPlan)}, th)
		_, _, err := gate.Check(ctx, "SELECT 1")
		var ge *CostGateError
		require.True(t, errors.As(err, &ge))
		assert.Equal(t, GateMaxRows, ge.Rule)
	})

	t.Run("accepts index scan", func(t *testing.T) {
		tracer := observability.NewMockTracer()
		gate := NewCostGate(&fakeSandbox{plan: []byte(indexedFactPlan)}, DefaultGateThresholds(), WithGateTracer(tracer))
		summary, _, err := gate.Check(ctx, "SELECT 1")
		require.NoError(t, err)
		assert.InDelta(t, 950.25, summary.TotalCost, 0.001)

		span := tracer.GetSpanByName(observability.SpanCostGate)
		require.NotNil(t, span)
		assert.Equal(t, observability.StatusOK, span.Status.Code)
		assert.Equal(t, float64(0), tracer.SumMetric(observability.MetricGateRejections))
	})

	t.Run("disabled scan check", func(t *testing.T) {
		th := DefaultGateThresholds()
		th.RejectUnfilteredFactScan = false
		gate := NewCostGate(&fakeSandbox{plan: []byte(unfilteredFactScanPlan)}, th)
		_, _, err := gate.Check(ctx, "SELECT 1")
		assert.NoError(t, err)
	})

	t.Run("probe failure passes through", func(t *testing.T) {
		probeErr := &ExecutionError{Kind: KindTimeout, Code: "57014", Message: "canceling statement due to statement timeout"}
		gate := NewCostGate(&fakeSandbox{planErr: probeErr}, DefaultGateThresholds())
		summary, _, err := gate.Check(ctx, "SELECT 1")
		assert.Nil(t, summary)
		assert.ErrorIs(t, err, probeErr)
		assert.Equal(t, ClassExecution, Classify(err))
	})

	t.Run("undecodable plan is a database error", func(t *testing.T) {
		gate := NewCostGate(&fakeSandbox{plan: []byte("{}")}, DefaultGateThresholds())
		_, _, err := gate.Check(ctx, "SELECT 1")
		ee, ok := AsExecutionError(err)
		require.True(t, ok)
		assert.Equal(t, KindDatabase, ee.Kind)
	})
}

func TestCostGate_EvaluateOrder(t *testing.T) {
	gate := NewCostGate(nil, DefaultGateThresholds())
	err := gate.Evaluate(&ExplainSummary{TotalCost: 1e9, PlanRows: 1e9, FactSeqScanUnfiltered: true})
	var ge *CostGateError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, GateUnfilteredScan, ge.Rule)

	assert.NoError(t, gate.Evaluate(&ExplainSummary{TotalCost: 10, PlanRows: 10}))
}
