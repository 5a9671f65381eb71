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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureSink struct {
	mu    sync.Mutex
	spans []ToolCallSpan
}

func (s *captureSink) Submit(span ToolCallSpan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spans = append(s.spans, span)
}

type panicSink struct{}

func (panicSink) Submit(ToolCallSpan) { panic("boom") }

func TestTurnRecorder_Aggregates(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	sink := &captureSink{}
	rec := NewTurnRecorder("conv-1", "req-1", WithClock(clock.Now), WithToolCallSink(sink))

	start := clock.Now()
	rec.RecordLLMCall(LLMCallSpan{
		Phase:            "planning",
		Model:            "claude-sonnet-4",
		PromptTokens:     1000,
		CompletionTokens: 200,
		CostUSD:          0.006,
		StartedAt:        start,
		EndedAt:          start.Add(800 * time.Millisecond),
	})
	rec.RecordToolCall(ToolCallSpan{
		ToolName:  "execute_sql",
		StartedAt: start.Add(time.Second),
		EndedAt:   start.Add(1500 * time.Millisecond),
		Success:   true,
		Output:    &ToolCallOutput{RowCount: 1, ExecutionMs: 300, ExplainMs: 40},
	})
	rec.RecordToolCall(ToolCallSpan{
		ToolName:  "execute_sql",
		Success:   false,
		ErrorKind: "validation",
		Error:     "table not allowed",
	})
	rec.RecordLLMCall(LLMCallSpan{
		Phase:            "executing",
		PromptTokens:     1500,
		CompletionTokens: 100,
		CostUSD:          0.006,
		DurationMs:       600,
	})
	clock.Advance(3 * time.Second)

	usage := rec.Finish(UsageOK)
	assert.Equal(t, "conv-1", usage.ConversationID)
	assert.Equal(t, "req-1", usage.RequestID)
	assert.Equal(t, UsageOK, usage.Status)
	assert.Equal(t, int64(3000), usage.TotalMs)
	assert.Equal(t, int64(1400), usage.LLMMs)
	assert.Equal(t, int64(340), usage.DBMs)
	assert.Equal(t, 2500, usage.PromptTokens)
	assert.Equal(t, 300, usage.CompletionTokens)
	assert.Equal(t, 2800, usage.TotalTokens)
	assert.InDelta(t, 0.012, usage.CostUSD, 1e-9)
	assert.Equal(t, 2, usage.LLMCalls)
	assert.Equal(t, 2, usage.ToolCalls)
	assert.Equal(t, 1, usage.FailedToolCalls)

	require.Len(t, sink.spans, 2)
	assert.Equal(t, "conv-1", sink.spans[0].ConversationID)
	assert.Equal(t, "req-1", sink.spans[1].RequestID)
	assert.Equal(t, int64(500), sink.spans[0].DurationMs)
}

func TestTurnRecorder_PreservesOrder(t *testing.T) {
	rec := NewTurnRecorder("c", "r")
	for i := 0; i < 10; i++ {
		rec.RecordToolCall(ToolCallSpan{ID: string(rune('a' + i))})
	}
	calls := rec.ToolCalls()
	require.Len(t, calls, 10)
	for i, c := range calls {
		assert.Equal(t, string(rune('a'+i)), c.ID)
	}
}

func TestTurnRecorder_Since(t *testing.T) {
	rec := NewTurnRecorder("c", "r")
	rec.RecordLLMCall(LLMCallSpan{Phase: "planning"})
	llmBefore, toolBefore := rec.Counts()

	rec.RecordLLMCall(LLMCallSpan{Phase: "executing"})
	rec.RecordToolCall(ToolCallSpan{ID: "t1"})

	llm, tools := rec.Since(llmBefore, toolBefore)
	require.Len(t, llm, 1)
	assert.Equal(t, "executing", llm[0].Phase)
	require.Len(t, tools, 1)
	assert.Equal(t, "t1", tools[0].ID)
}

func TestTurnRecorder_SinkPanicIsContained(t *testing.T) {
	rec := NewTurnRecorder("c", "r", WithToolCallSink(panicSink{}), WithRecorderLogger(zap.NewNop()))
	assert.NotPanics(t, func() {
		rec.RecordToolCall(ToolCallSpan{ToolName: "execute_sql"})
	})
	assert.Len(t, rec.ToolCalls(), 1)
}

func TestTurnRecorder_NilIsSafe(t *testing.T) {
	var rec *TurnRecorder
	assert.NotPanics(t, func() {
		rec.RecordLLMCall(LLMCallSpan{})
		rec.RecordToolCall(ToolCallSpan{})
		_ = rec.Finish(UsageError)
	})
	assert.Nil(t, RecorderFromContext(context.Background()))
}

func TestTurnRecorder_Context(t *testing.T) {
	rec := NewTurnRecorder("c", "r")
	ctx := WithRecorder(context.Background(), rec)
	assert.Same(t, rec, RecorderFromContext(ctx))
}

func TestTurnRecorder_ConcurrentRecording(t *testing.T) {
	rec := NewTurnRecorder("c", "r")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.RecordLLMCall(LLMCallSpan{PromptTokens: 1})
			rec.RecordToolCall(ToolCallSpan{Success: true})
		}()
	}
	wg.Wait()

	usage := rec.Finish(UsageOK)
	assert.Equal(t, 50, usage.PromptTokens)
	assert.Equal(t, 50, usage.ToolCalls)
}
