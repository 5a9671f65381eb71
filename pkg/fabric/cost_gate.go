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
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/pkg/observability"
)

// ExplainSummary is derived from a plan-only probe.
type ExplainSummary struct {
	TotalCost             float64  `json:"totalCost"`
	PlanRows              float64  `json:"planRows"`
	FactSeqScan           bool     `json:"factSeqScan"`
	FactSeqScanUnfiltered bool     `json:"factSeqScanUnfiltered"`
	NodeTypes             []string `json:"nodeTypes"`
}

// GateThresholds configures the cost gate. A zero threshold disables that
// check.
type GateThresholds struct {
	MaxTotalCost             float64
	MaxPlanRows              float64
	RejectUnfilteredFactScan bool

	// FactTable is the schema-qualified fact table, e.g. public.payments.
	FactTable string

	// FactDateColumn is named in rejection hints.
	FactDateColumn string
}

// DefaultGateThresholds returns production defaults.
func DefaultGateThresholds() GateThresholds {
	return GateThresholds{
		MaxTotalCost:             5_000_000,
		MaxPlanRows:              5_000_000,
		RejectUnfilteredFactScan: true,
		FactTable:                "public.payments",
		FactDateColumn:           "payment_date",
	}
}

// CostGate rejects statements whose estimated plan is too expensive, too
// wide, or scans the fact table without a filter. The probe runs through
// the Explainer, which applies the same read-only, timed-out transaction
// as real execution.
type CostGate struct {
	explainer  Explainer
	thresholds GateThresholds
	tracer     observability.Tracer
	logger     *zap.Logger
}

// GateOption configures a CostGate.
type GateOption func(*CostGate)

// WithGateTracer sets the tracer.
func WithGateTracer(tracer observability.Tracer) GateOption {
	return func(g *CostGate) {
		g.tracer = tracer
	}
}

// WithGateLogger sets the logger.
func WithGateLogger(logger *zap.Logger) GateOption {
	return func(g *CostGate) {
		g.logger = logger
	}
}

// NewCostGate creates a gate over explainer.
func NewCostGate(explainer Explainer, thresholds GateThresholds, opts ...GateOption) *CostGate {
	g := &CostGate{
		explainer:  explainer,
		thresholds: thresholds,
		tracer:     observability.NewNoOpTracer(),
		logger:     zap.L(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Thresholds returns the configured thresholds.
func (g *CostGate) Thresholds() GateThresholds {
	return g.thresholds
}

// Check probes sql and evaluates the plan. The summary and probe duration
// are returned even when the plan is rejected.
func (g *CostGate) Check(ctx context.Context, sql string) (*ExplainSummary, time.Duration, error) {
	ctx, span := g.tracer.StartSpan(ctx, observability.SpanCostGate)
	defer g.tracer.EndSpan(span)

	plan, err := g.explainer.Explain(ctx, sql)
	if err != nil {
		span.RecordError(err)
		return nil, 0, err
	}

	summary, err := SummarizePlan(plan.Raw, g.thresholds.FactTable)
	if err != nil {
		span.RecordError(err)
		return nil, plan.Duration, &ExecutionError{Kind: KindDatabase, Message: err.Error(), Err: err}
	}
	span.SetAttribute(observability.AttrPlanCost, summary.TotalCost)
	span.SetAttribute(observability.AttrPlanRows, summary.PlanRows)

	if err := g.Evaluate(summary); err != nil {
		span.RecordError(err)
		var ge *CostGateError
		if errors.As(err, &ge) {
			g.tracer.RecordMetric(observability.MetricGateRejections, 1, map[string]string{"rule": string(ge.Rule)})
		}
		g.logger.Info("cost gate rejected query",
			zap.Float64("total_cost", summary.TotalCost),
			zap.Float64("plan_rows", summary.PlanRows),
			zap.Bool("fact_seq_scan_unfiltered", summary.FactSeqScanUnfiltered),
			zap.Error(err))
		return summary, plan.Duration, err
	}
	span.Status = observability.Status{Code: observability.StatusOK}
	return summary, plan.Duration, nil
}

// Evaluate applies the thresholds to a summary.
func (g *CostGate) Evaluate(s *ExplainSummary) error {
	th := g.thresholds
	if th.RejectUnfilteredFactScan && s.FactSeqScanUnfiltered {
		col := th.FactDateColumn
		if col == "" {
			col = "its date column"
		}
		return &CostGateError{
			Rule:    GateUnfilteredScan,
			Summary: s,
			Reason: fmt.Sprintf("query would scan all of %s without a filter; add a WHERE predicate on %s (for example a date range)",
				th.FactTable, col),
		}
	}
	if th.MaxTotalCost > 0 && s.TotalCost > th.MaxTotalCost {
		return &CostGateError{
			Rule:    GateMaxCost,
			Summary: s,
			Reason: fmt.Sprintf("estimated cost %.0f exceeds the limit of %.0f; narrow the filters or aggregate",
				s.TotalCost, th.MaxTotalCost),
		}
	}
	if th.MaxPlanRows > 0 && s.PlanRows > th.MaxPlanRows {
		return &CostGateError{
			Rule:    GateMaxRows,
			Summary: s,
			Reason: fmt.Sprintf("estimated %.0f rows exceeds the limit of %.0f; aggregate or filter further",
				s.PlanRows, th.MaxPlanRows),
		}
	}
	return nil
}

type planNode struct {
	NodeType     string     `json:"Node Type"`
	RelationName string     `json:"Relation Name"`
	Schema       string     `json:"Schema"`
	TotalCost    float64    `json:"Total Cost"`
	PlanRows     float64    `json:"Plan Rows"`
	Filter       string     `json:"Filter"`
	Plans        []planNode `json:"Plans"`
}

type explainEntry struct {
	Plan *planNode `json:"Plan"`
}

// SummarizePlan walks an EXPLAIN (FORMAT JSON) document.
func SummarizePlan(raw []byte, factTable string) (*ExplainSummary, error) {
	var doc []explainEntry
	if err := json.Unmarshal(raw, &doc); err != nil {
		// Some drivers hand back the document wrapped in a JSON string.
		var inner string
		if json.Unmarshal(raw, &inner) != nil || json.Unmarshal([]byte(inner), &doc) != nil {
			return nil, fmt.Errorf("failed to decode plan: %w", err)
		}
	}
	if len(doc) == 0 || doc[0].Plan == nil {
		return nil, fmt.Errorf("plan document has no Plan node")
	}

	factSchema, factName := splitTable(factTable)
	root := doc[0].Plan
	summary := &ExplainSummary{
		TotalCost: root.TotalCost,
		PlanRows:  root.PlanRows,
	}
	kinds := make(map[string]struct{})

	var visit func(n *planNode)
	visit = func(n *planNode) {
		kinds[n.NodeType] = struct{}{}
		if isSeqScan(n.NodeType) && factName != "" && matchesTable(n, factSchema, factName) {
			summary.FactSeqScan = true
			if strings.TrimSpace(n.Filter) == "" {
				summary.FactSeqScanUnfiltered = true
			}
		}
		for i := range n.Plans {
			visit(&n.Plans[i])
		}
	}
	visit(root)

	summary.NodeTypes = make([]string, 0, len(kinds))
	for k := range kinds {
		summary.NodeTypes = append(summary.NodeTypes, k)
	}
	sort.Strings(summary.NodeTypes)
	return summary, nil
}

func isSeqScan(nodeType string) bool {
	return nodeType == "Seq Scan" || nodeType == "Parallel Seq Scan"
}

func matchesTable(n *planNode, schema, name string) bool {
	if !strings.EqualFold(n.RelationName, name) {
		return false
	}
	return n.Schema == "" || schema == "" || strings.EqualFold(n.Schema, schema)
}

func splitTable(qualified string) (schema, name string) {
	qualified = strings.TrimSpace(qualified)
	if i := strings.LastIndex(qualified, "."); i >= 0 {
		return qualified[:i], qualified[i+1:]
	}
	return "", qualified
}
