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
package observability

// Standard span names. Use these constants instead of hardcoding strings.
const (
	SpanAgentTurn     = "agent.turn"
	SpanAgentPlanner  = "agent.planner"
	SpanAgentExecutor = "agent.executor"

	SpanLLMCompletion = "llm.completion"

	SpanToolExecute = "tool.execute"

	SpanSQLValidate  = "sql.validate"
	SpanCostGate     = "sql.cost_gate"
	SpanBackendQuery = "backend.query"
	SpanBackendPlan  = "backend.explain"

	SpanCheckpointLoad = "checkpoint.load"
	SpanCheckpointSave = "checkpoint.save"
)

// Standard metric names.
const (
	MetricAgentTurns        = "agent.turns.total"
	MetricAgentTurnDuration = "agent.turn.duration"

	MetricLLMCalls        = "llm.calls.total"
	MetricLLMLatency      = "llm.latency"
	MetricLLMTokensInput  = "llm.tokens.input"  // #nosec G101 -- metric name
	MetricLLMTokensOutput = "llm.tokens.output" // #nosec G101 -- metric name
	MetricLLMCost         = "llm.cost"
	MetricLLMErrors       = "llm.errors.total"

	MetricToolExecutions = "tool.executions.total"
	MetricToolDuration   = "tool.duration"
	MetricToolErrors     = "tool.errors.total"

	MetricGateRejections = "sql.gate.rejections.total"
	MetricSQLRejections  = "sql.validation.rejections.total"
)

// Standard attribute names.
const (
	AttrConversationID = "conversation.id"
	AttrRequestID      = "request.id"
	AttrPhase          = "agent.phase"

	AttrLLMProvider = "llm.provider"
	AttrLLMModel    = "llm.model"

	AttrToolName = "tool.name"

	AttrSQLHash      = "sql.hash"
	AttrSQLRowCount  = "sql.row_count"
	AttrSQLTruncated = "sql.truncated"
	AttrPlanCost     = "sql.plan.total_cost"
	AttrPlanRows     = "sql.plan.rows"

	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)
