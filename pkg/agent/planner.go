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
package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/pkg/observability"
	"github.com/teradata-labs/spendq/pkg/schema"
	"github.com/teradata-labs/spendq/pkg/types"
)

// DefaultClarification is sent when the model declines to answer without
// saying what it needs.
const DefaultClarification = "I can't answer that from the spend data yet. Could you say which organisation, supplier or time period you mean?"

const plannerPrompt = `You plan SQL queries over a public-sector spend database.
Read the user's question and the schema, then reply with exactly one JSON object and nothing else:

{"canAnswer": bool, "clarificationNeeded": string|null, "tables": [string], "columns": [string],
 "metrics": [string], "filters": [string], "joins": [string]|null, "groupBy": [string]|null,
 "orderBy": string|null, "limit": int|null, "reasoning": string}

Rules:
- Use only tables and columns from the schema; write tables schema-qualified.
- %s
- Express filters as SQL predicates, for example "payments.payment_date >= DATE '2023-01-01'".
- If the question cannot be answered from this schema or is too ambiguous, set canAnswer to false and put the question you need answered in clarificationNeeded.

Schema:
%s`

// Planner turns the latest user question into a QueryPlan with one model
// call.
type Planner struct {
	llm    types.LLMProvider
	schema schema.Provider
	rules  FactRules
	retry  RetryConfig
	tracer observability.Tracer
	logger *zap.Logger
}

// NewPlanner creates a planner.
func NewPlanner(provider types.LLMProvider, schemaProvider schema.Provider, rules FactRules, retry RetryConfig, tracer observability.Tracer, logger *zap.Logger) *Planner {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Planner{llm: provider, schema: schemaProvider, rules: rules, retry: retry, tracer: tracer, logger: logger}
}

// withLLM returns a copy that calls provider.
func (p *Planner) withLLM(provider types.LLMProvider) *Planner {
	c := *p
	c.llm = provider
	return &c
}

// Plan runs the planning node. A plan the model gets wrong is replaced by
// the fallback plan; only model and schema failures return an error.
func (p *Planner) Plan(ctx context.Context, state State) (Update, error) {
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanAgentPlanner)
	defer p.tracer.EndSpan(span)
	ctx = observability.WithPhase(ctx, string(PhasePlanning))

	question, ok := types.LastUserMessage(state.Messages)
	if !ok {
		return Update{}, fmt.Errorf("no user question to plan")
	}
	schemaText, err := p.schema.Context(ctx)
	if err != nil {
		span.RecordError(err)
		return Update{}, fmt.Errorf("failed to load schema context: %w", err)
	}

	messages := []types.Message{
		{Role: types.RoleSystem, Content: fmt.Sprintf(plannerPrompt, p.factRuleText(), schemaText)},
		{Role: types.RoleUser, Content: question.Content},
	}
	resp, err := chatWithRetry(ctx, p.llm, p.retry, p.logger, messages, nil)
	if err != nil {
		span.RecordError(err)
		return Update{}, fmt.Errorf("planning failed: %w", err)
	}

	plan, err := ParsePlan(resp.Content)
	if err != nil {
		p.logger.Warn("planner output unusable, using fallback plan",
			zap.String("conversation_id", state.ConversationID),
			zap.Error(err))
		span.SetAttribute("plan.fallback", true)
		plan = FallbackPlan(p.rules, err)
	}

	if !plan.CanAnswer {
		text := DefaultClarification
		if plan.ClarificationNeeded != nil && strings.TrimSpace(*plan.ClarificationNeeded) != "" {
			text = strings.TrimSpace(*plan.ClarificationNeeded)
		}
		span.SetAttribute("plan.can_answer", false)
		return Update{
			Messages: []types.Message{types.NewAssistantMessage(text)},
			Plan:     plan,
			Phase:    PhaseDone,
		}, nil
	}

	if EnforceFactFilter(plan, p.rules) {
		p.logger.Info("added default date filter to plan",
			zap.String("conversation_id", state.ConversationID),
			zap.String("filter", p.rules.RecencyFilter()))
		span.SetAttribute("plan.default_filter", true)
	}
	span.SetAttribute("plan.tables", strings.Join(plan.Tables, ","))
	return Update{Plan: plan, Phase: PhaseExecuting}, nil
}

func (p *Planner) factRuleText() string {
	if p.rules.FactTable == "" {
		return "Keep queries selective."
	}
	return fmt.Sprintf("%s is very large: any plan that uses it MUST include a filter on %s. "+
		"If the user gives no period, use %q.", p.rules.FactTable, p.rules.DateColumn, p.rules.RecencyFilter())
}
