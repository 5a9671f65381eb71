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

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// UsageStatus is the terminal status of a turn.
type UsageStatus string

const (
	UsageOK      UsageStatus = "ok"
	UsageError   UsageStatus = "error"
	UsageAborted UsageStatus = "aborted"
)

// LLMCallSpan records one model invocation.
type LLMCallSpan struct {
	Phase            string                 `json:"phase"`
	Provider         string                 `json:"provider"`
	Model            string                 `json:"model"`
	PromptTokens     int                    `json:"promptTokens"`
	CompletionTokens int                    `json:"completionTokens"`
	TotalTokens      int                    `json:"totalTokens"`
	CostUSD          float64                `json:"costUsd"`
	CostUnknown      bool                   `json:"costUnknown,omitempty"`
	StartedAt        time.Time              `json:"startedAt"`
	EndedAt          time.Time              `json:"endedAt"`
	DurationMs       int64                  `json:"durationMs"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Error            string                 `json:"error,omitempty"`
}

// ToolCallOutput is the metadata of a successful tool invocation.
type ToolCallOutput struct {
	RowCount    int         `json:"rowCount"`
	Truncated   bool        `json:"truncated"`
	ExecutionMs int64       `json:"executionMs"`
	ExplainMs   int64       `json:"explainMs"`
	Explain     interface{} `json:"explainSummary,omitempty"`
}

// ToolCallSpan records one tool invocation. SQL is stored in the form
// selected by the configured SQLRetention, never raw unless retention is full.
type ToolCallSpan struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	RequestID      string          `json:"requestId"`
	ToolName       string          `json:"toolName"`
	StartedAt      time.Time       `json:"startedAt"`
	EndedAt        time.Time       `json:"endedAt"`
	DurationMs     int64           `json:"durationMs"`
	Reason         string          `json:"reason,omitempty"`
	SQL            string          `json:"sql,omitempty"`
	SQLHash        string          `json:"sqlHash,omitempty"`
	Success        bool            `json:"success"`
	Output         *ToolCallOutput `json:"output,omitempty"`
	ErrorKind      string          `json:"errorKind,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// DBTime is the database time attributed to the span.
func (s ToolCallSpan) DBTime() time.Duration {
	if s.Output == nil {
		return 0
	}
	return time.Duration(s.Output.ExecutionMs+s.Output.ExplainMs) * time.Millisecond
}

// UsageRecord is the per-turn aggregate of every model and tool call.
type UsageRecord struct {
	ConversationID   string      `json:"conversationId"`
	RequestID        string      `json:"requestId"`
	Status           UsageStatus `json:"status"`
	TotalMs          int64       `json:"totalTimeMs"`
	LLMMs            int64       `json:"llmTimeMs"`
	DBMs             int64       `json:"dbTimeMs"`
	PromptTokens     int         `json:"promptTokens"`
	CompletionTokens int         `json:"completionTokens"`
	TotalTokens      int         `json:"totalTokens"`
	CostUSD          float64     `json:"costUsd"`
	CostUnknown      bool        `json:"costUnknown,omitempty"`
	LLMCalls         int         `json:"llmCalls"`
	ToolCalls        int         `json:"toolCalls"`
	FailedToolCalls  int         `json:"failedToolCalls"`
}

// ToolCallSink receives tool-call spans for persistence. Implementations must
// not block the caller.
type ToolCallSink interface {
	Submit(span ToolCallSpan)
}

// TurnRecorder collects the spans of a single turn in the order they are
// recorded. Safe for concurrent use; a nil recorder ignores every call.
type TurnRecorder struct {
	mu             sync.Mutex
	conversationID string
	requestID      string
	startedAt      time.Time
	finished       bool
	llmCalls       []LLMCallSpan
	toolCalls      []ToolCallSpan

	sink   ToolCallSink
	logger *zap.Logger
	now    func() time.Time
}

// RecorderOption configures a TurnRecorder.
type RecorderOption func(*TurnRecorder)

// WithToolCallSink forwards every recorded tool call to sink.
func WithToolCallSink(sink ToolCallSink) RecorderOption {
	return func(r *TurnRecorder) {
		r.sink = sink
	}
}

// WithRecorderLogger sets the logger used for sink failures.
func WithRecorderLogger(logger *zap.Logger) RecorderOption {
	return func(r *TurnRecorder) {
		r.logger = logger
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *TurnRecorder) {
		r.now = now
	}
}

// NewTurnRecorder starts recording a turn.
func NewTurnRecorder(conversationID, requestID string, opts ...RecorderOption) *TurnRecorder {
	r := &TurnRecorder{
		conversationID: conversationID,
		requestID:      requestID,
		logger:         zap.L(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.startedAt = r.now()
	return r
}

// ConversationID returns the conversation the turn belongs to.
func (r *TurnRecorder) ConversationID() string {
	if r == nil {
		return ""
	}
	return r.conversationID
}

// RequestID returns the request id of the turn.
func (r *TurnRecorder) RequestID() string {
	if r == nil {
		return ""
	}
	return r.requestID
}

// Now returns the recorder's clock reading.
func (r *TurnRecorder) Now() time.Time {
	if r == nil {
		return time.Now()
	}
	return r.now()
}

// RecordLLMCall appends a model-call span.
func (r *TurnRecorder) RecordLLMCall(span LLMCallSpan) {
	if r == nil {
		return
	}
	if span.TotalTokens == 0 {
		span.TotalTokens = span.PromptTokens + span.CompletionTokens
	}
	if span.DurationMs == 0 && !span.EndedAt.IsZero() {
		span.DurationMs = span.EndedAt.Sub(span.StartedAt).Milliseconds()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmCalls = append(r.llmCalls, span)
}

// RecordToolCall appends a tool-call span and hands it to the sink.
// It never panics and never returns an error: telemetry must not break a turn.
func (r *TurnRecorder) RecordToolCall(span ToolCallSpan) {
	if r == nil {
		return
	}
	if span.ConversationID == "" {
		span.ConversationID = r.conversationID
	}
	if span.RequestID == "" {
		span.RequestID = r.requestID
	}
	if span.DurationMs == 0 && !span.EndedAt.IsZero() {
		span.DurationMs = span.EndedAt.Sub(span.StartedAt).Milliseconds()
	}

	r.mu.Lock()
	r.toolCalls = append(r.toolCalls, span)
	sink := r.sink
	r.mu.Unlock()

	if sink == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("tool call sink panicked",
				zap.String("conversation_id", span.ConversationID),
				zap.Any("panic", rec))
		}
	}()
	sink.Submit(span)
}

// LLMCalls returns a copy of the recorded model calls, in order.
func (r *TurnRecorder) LLMCalls() []LLMCallSpan {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LLMCallSpan, len(r.llmCalls))
	copy(out, r.llmCalls)
	return out
}

// ToolCalls returns a copy of the recorded tool calls, in order.
func (r *TurnRecorder) ToolCalls() []ToolCallSpan {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ToolCallSpan, len(r.toolCalls))
	copy(out, r.toolCalls)
	return out
}

// Counts returns how many model and tool calls have been recorded so far.
func (r *TurnRecorder) Counts() (llmCalls, toolCalls int) {
	if r == nil {
		return 0, 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.llmCalls), len(r.toolCalls)
}

// Since returns the spans recorded after the given counts.
func (r *TurnRecorder) Since(llmCalls, toolCalls int) ([]LLMCallSpan, []ToolCallSpan) {
	if r == nil {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var llm []LLMCallSpan
	var tools []ToolCallSpan
	if llmCalls < len(r.llmCalls) {
		llm = append(llm, r.llmCalls[llmCalls:]...)
	}
	if toolCalls < len(r.toolCalls) {
		tools = append(tools, r.toolCalls[toolCalls:]...)
	}
	return llm, tools
}

// Snapshot aggregates what has been recorded so far without finishing.
func (r *TurnRecorder) Snapshot(status UsageStatus) UsageRecord {
	if r == nil {
		return UsageRecord{Status: status}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aggregateLocked(status)
}

// Finish aggregates the turn. Later calls return the same totals with the
// given status.
func (r *TurnRecorder) Finish(status UsageStatus) UsageRecord {
	if r == nil {
		return UsageRecord{Status: status}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
	return r.aggregateLocked(status)
}

func (r *TurnRecorder) aggregateLocked(status UsageStatus) UsageRecord {
	rec := Aggregate(r.llmCalls, r.toolCalls)
	rec.ConversationID = r.conversationID
	rec.RequestID = r.requestID
	rec.Status = status
	rec.TotalMs = r.now().Sub(r.startedAt).Milliseconds()
	return rec
}

// Aggregate folds model and tool spans into a UsageRecord. TotalMs is left
// for the caller.
func Aggregate(llmCalls []LLMCallSpan, toolCalls []ToolCallSpan) UsageRecord {
	var rec UsageRecord
	for _, c := range llmCalls {
		rec.LLMCalls++
		rec.PromptTokens += c.PromptTokens
		rec.CompletionTokens += c.CompletionTokens
		rec.TotalTokens += c.TotalTokens
		rec.CostUSD += c.CostUSD
		rec.CostUnknown = rec.CostUnknown || c.CostUnknown
		rec.LLMMs += c.DurationMs
	}
	for _, c := range toolCalls {
		rec.ToolCalls++
		if !c.Success {
			rec.FailedToolCalls++
		}
		rec.DBMs += c.DBTime().Milliseconds()
	}
	return rec
}

// WithRecorder attaches the turn recorder to ctx.
func WithRecorder(ctx context.Context, r *TurnRecorder) context.Context {
	return context.WithValue(ctx, recorderContextKey, r)
}

// RecorderFromContext returns the turn recorder in ctx, or nil.
func RecorderFromContext(ctx context.Context) *TurnRecorder {
	if r, ok := ctx.Value(recorderContextKey).(*TurnRecorder); ok {
		return r
	}
	return nil
}

// WithPhase tags ctx with the agent phase model calls are attributed to.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseContextKey, phase)
}

// PhaseFromContext returns the phase set by WithPhase, or "".
func PhaseFromContext(ctx context.Context) string {
	phase, _ := ctx.Value(phaseContextKey).(string)
	return phase
}

// LogUsage writes the usage record as one structured line.
func LogUsage(logger *zap.Logger, rec UsageRecord) {
	if logger == nil {
		logger = zap.L()
	}
	logger.Info("turn usage",
		zap.String("conversation_id", rec.ConversationID),
		zap.String("request_id", rec.RequestID),
		zap.String("status", string(rec.Status)),
		zap.Int64("total_ms", rec.TotalMs),
		zap.Int64("llm_ms", rec.LLMMs),
		zap.Int64("db_ms", rec.DBMs),
		zap.Int("prompt_tokens", rec.PromptTokens),
		zap.Int("completion_tokens", rec.CompletionTokens),
		zap.Int("total_tokens", rec.TotalTokens),
		zap.Float64("cost_usd", rec.CostUSD),
		zap.Int("llm_calls", rec.LLMCalls),
		zap.Int("tool_calls", rec.ToolCalls),
		zap.Int("failed_tool_calls", rec.FailedToolCalls),
	)
}
