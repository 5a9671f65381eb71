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
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/pkg/observability"
	"github.com/teradata-labs/spendq/pkg/schema"
	"github.com/teradata-labs/spendq/pkg/shuttle"
	"github.com/teradata-labs/spendq/pkg/types"
)

// ApologyMessage is the final answer when the model cannot produce one.
const ApologyMessage = "Sorry, I wasn't able to get an answer from the spend data this time. Please try rephrasing the question or narrowing the time period."

const executorPrompt = `You answer questions about public-sector spend by calling execute_sql.

Plan for this question:
%s
SQL rules:
- One PostgreSQL SELECT per call. No semicolons, no writes, no DDL.
- Only the tables in the schema below, schema-qualified.
- %s
- Prefer aggregates (SUM, COUNT, AVG) over listing rows.
- Apply every filter in the plan.

When you have the result, answer in plain English with the figures. Do not show SQL unless asked.

Schema:
%s`

const repairInstruction = "Fix the query and call execute_sql again. Use the same schema and keep the required date filter on the fact table."

const fatalInstruction = "Do not call execute_sql again. Explain to the user that the data could not be retrieved and, if useful, what they could ask instead."

const synthesisInstruction = "Stop calling tools. Using only the results above, answer the original question as well as you can."

// ExecutorConfig bounds the tool loop.
type ExecutorConfig struct {
	// MaxIterations caps model calls with tools bound.
	MaxIterations int
	// MaxRetries is the number of consecutive tool failures fed back with a
	// repair instruction before a failure is reported as fatal.
	MaxRetries int
}

// DefaultExecutorConfig returns the defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{MaxIterations: 5, MaxRetries: 2}
}

// Executor runs the bounded tool loop for a plan.
type Executor struct {
	llm    types.LLMProvider
	tools  shuttle.ToolExecutor
	schema schema.Provider
	rules  FactRules
	config ExecutorConfig
	retry  RetryConfig
	tracer observability.Tracer
	logger *zap.Logger
}

// NewExecutor creates an executor.
func NewExecutor(provider types.LLMProvider, tools shuttle.ToolExecutor, schemaProvider schema.Provider, rules FactRules,
	config ExecutorConfig, retry RetryConfig, tracer observability.Tracer, logger *zap.Logger) *Executor {
	def := DefaultExecutorConfig()
	if config.MaxIterations < 1 {
		config.MaxIterations = def.MaxIterations
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = def.MaxRetries
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Executor{
		llm:    provider,
		tools:  tools,
		schema: schemaProvider,
		rules:  rules,
		config: config,
		retry:  retry,
		tracer: tracer,
		logger: logger,
	}
}

func (e *Executor) withLLM(provider types.LLMProvider) *Executor {
	c := *e
	c.llm = provider
	return &c
}

// Execute runs the executing node. It always ends in PhaseDone with a final
// assistant message unless the model or the context fails.
func (e *Executor) Execute(ctx context.Context, state State) (Update, error) {
	ctx, span := e.tracer.StartSpan(ctx, observability.SpanAgentExecutor)
	defer e.tracer.EndSpan(span)
	ctx = observability.WithPhase(ctx, string(PhaseExecuting))

	if state.Plan == nil {
		return Update{}, fmt.Errorf("executor started without a plan")
	}
	schemaText, err := e.schema.Context(ctx)
	if err != nil {
		return Update{}, fmt.Errorf("failed to load schema context: %w", err)
	}

	system := types.Message{
		Role:    types.RoleSystem,
		Content: fmt.Sprintf(executorPrompt, state.Plan.Summary(), e.factRuleText(), schemaText),
	}
	working := append([]types.Message{system}, conversation(state.Messages)...)
	tools := e.tools.ListTools()

	var out []types.Message
	retries := state.RetryCount
	finish := func(text string) Update {
		out = append(out, types.NewAssistantMessage(text))
		span.SetAttribute("executor.retries", retries)
		return Update{Messages: out, Phase: PhaseDone, RetryCount: intPtr(retries)}
	}

	for iteration := 1; iteration <= e.config.MaxIterations; iteration++ {
		span.SetAttribute("executor.iterations", iteration)

		resp, err := chatWithRetry(ctx, e.llm, e.retry, e.logger, working, tools)
		if err != nil {
			span.RecordError(err)
			return Update{}, fmt.Errorf("execution failed: %w", err)
		}
		if len(resp.ToolCalls) == 0 {
			text := strings.TrimSpace(resp.Content)
			if text == "" {
				text = ApologyMessage
			}
			return finish(text), nil
		}

		assistant := types.NewAssistantMessage(resp.Content, resp.ToolCalls...)
		working = append(working, assistant)
		out = append(out, assistant)

		for _, call := range resp.ToolCalls {
			result, err := e.tools.Execute(ctx, call.Name, call.Input)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Update{}, ctxErr
			}
			msg := types.NewToolMessage(call, e.toolResult(call, result, err, &retries))
			working = append(working, msg)
			out = append(out, msg)
		}
	}

	e.logger.Warn("executor reached iteration limit",
		zap.String("conversation_id", state.ConversationID),
		zap.Int("max_iterations", e.config.MaxIterations))
	span.SetAttribute("executor.iteration_limit", true)

	// Tools stay bound to match the tool_use history; calls in the reply are
	// never executed.
	working = append(working, types.Message{Role: types.RoleUser, Content: synthesisInstruction})
	resp, err := chatWithRetry(ctx, e.llm, e.retry, e.logger, working, tools)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Update{}, ctxErr
		}
		e.logger.Warn("synthesis call failed", zap.Error(err))
		return finish(ApologyMessage), nil
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		text = ApologyMessage
	}
	return finish(text), nil
}

// toolResult converts a tool outcome into the message content and applies
// the retry budget: a success resets it, a failure spends it, and a failure
// with no budget left is fatal.
func (e *Executor) toolResult(call types.ToolCall, result *shuttle.Result, err error, retries *int) types.ToolResult {
	if err == nil && result != nil && result.Success {
		*retries = 0
		content, merr := json.Marshal(result.Data)
		if merr != nil {
			return types.ToolResult{Content: fmt.Sprintf("tool returned unencodable output: %v", merr), IsError: true}
		}
		return types.ToolResult{Content: string(content)}
	}

	var msg string
	switch {
	case err != nil:
		msg = err.Error()
	case result == nil:
		msg = "tool returned no result"
	case result.Error != nil:
		msg = result.Error.Text()
	default:
		msg = "tool failed"
	}

	if *retries < e.config.MaxRetries {
		*retries++
		e.logger.Info("tool call failed, asking model to repair",
			zap.String("tool", call.Name),
			zap.Int("retry", *retries),
			zap.Int("max_retries", e.config.MaxRetries))
		return types.ToolResult{Content: msg + "\n" + repairInstruction, IsError: true}
	}

	e.logger.Warn("tool call failed after retries",
		zap.String("tool", call.Name),
		zap.Int("max_retries", e.config.MaxRetries))
	return types.ToolResult{Content: msg + "\n" + fatalInstruction, IsError: true, Fatal: true}
}

func (e *Executor) factRuleText() string {
	if e.rules.FactTable == "" {
		return "Keep queries selective."
	}
	return fmt.Sprintf("Every query on %s MUST filter %s.", e.rules.FactTable, e.rules.DateColumn)
}

// conversation drops system messages; the executor supplies its own.
func conversation(messages []types.Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != types.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}
