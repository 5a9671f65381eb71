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
package llm

import (
	"context"
	"time"

	"github.com/teradata-labs/spendq/pkg/observability"
	"github.com/teradata-labs/spendq/pkg/shuttle"
	"github.com/teradata-labs/spendq/pkg/types"
)

// InstrumentedProvider wraps any LLMProvider with a span and metrics per
// call, and records an LLMCallSpan on the turn recorder in ctx. Usage the
// provider omits is estimated with the token counter; cost is derived from
// the pricing table when the provider does not report it.
type InstrumentedProvider struct {
	provider types.LLMProvider
	tracer   observability.Tracer
	counter  *TokenCounter
	now      func() time.Time
}

// InstrumentedOption configures an InstrumentedProvider.
type InstrumentedOption func(*InstrumentedProvider)

// WithTokenCounter sets the counter used when a provider omits usage.
func WithTokenCounter(counter *TokenCounter) InstrumentedOption {
	return func(p *InstrumentedProvider) {
		p.counter = counter
	}
}

// WithProviderClock overrides time.Now, for tests.
func WithProviderClock(now func() time.Time) InstrumentedOption {
	return func(p *InstrumentedProvider) {
		p.now = now
	}
}

// NewInstrumentedProvider creates a new instrumented LLM provider.
func NewInstrumentedProvider(provider types.LLMProvider, tracer observability.Tracer, opts ...InstrumentedOption) *InstrumentedProvider {
	p := &InstrumentedProvider{
		provider: provider,
		tracer:   tracer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the underlying provider name.
func (p *InstrumentedProvider) Name() string {
	return p.provider.Name()
}

// Model returns the underlying model identifier.
func (p *InstrumentedProvider) Model() string {
	return p.provider.Model()
}

// Chat calls the provider and records the call.
func (p *InstrumentedProvider) Chat(ctx context.Context, messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error) {
	_, span := p.tracer.StartSpan(ctx, observability.SpanLLMCompletion, observability.WithSpanKind("llm"))
	defer p.tracer.EndSpan(span)

	phase := observability.PhaseFromContext(ctx)
	labels := map[string]string{
		observability.AttrLLMProvider: p.provider.Name(),
		observability.AttrLLMModel:    p.provider.Model(),
	}
	span.SetAttribute(observability.AttrLLMProvider, p.provider.Name())
	span.SetAttribute(observability.AttrLLMModel, p.provider.Model())
	span.SetAttribute(observability.AttrPhase, phase)
	span.SetAttribute("llm.messages.count", len(messages))
	span.SetAttribute("llm.tools.count", len(tools))

	start := p.now()
	resp, err := p.provider.Chat(ctx, messages, tools)
	end := p.now()
	duration := end.Sub(start)

	call := observability.LLMCallSpan{
		Phase:      phase,
		Provider:   p.provider.Name(),
		Model:      p.provider.Model(),
		StartedAt:  start,
		EndedAt:    end,
		DurationMs: duration.Milliseconds(),
	}

	if err != nil {
		span.RecordError(err)
		span.SetAttribute(observability.AttrErrorMessage, err.Error())
		p.tracer.RecordMetric(observability.MetricLLMErrors, 1, labels)
		call.Error = err.Error()
		observability.RecorderFromContext(ctx).RecordLLMCall(call)
		return nil, err
	}

	p.fillUsage(messages, resp)
	call.PromptTokens = resp.Usage.InputTokens
	call.CompletionTokens = resp.Usage.OutputTokens
	call.TotalTokens = resp.Usage.TotalTokens
	call.CostUSD = resp.Usage.CostUSD
	call.Metadata = resp.Metadata
	if unknown, _ := resp.Metadata["cost_unknown"].(bool); unknown {
		call.CostUnknown = true
	}
	observability.RecorderFromContext(ctx).RecordLLMCall(call)

	span.Status = observability.Status{Code: observability.StatusOK}
	span.SetAttribute("llm.tokens.input", resp.Usage.InputTokens)
	span.SetAttribute("llm.tokens.output", resp.Usage.OutputTokens)
	span.SetAttribute("llm.tokens.total", resp.Usage.TotalTokens)
	span.SetAttribute("llm.cost.usd", resp.Usage.CostUSD)
	span.SetAttribute("llm.stop_reason", resp.StopReason)
	span.SetAttribute("llm.duration_ms", duration.Milliseconds())
	if len(resp.ToolCalls) > 0 {
		names := make([]string, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			names[i] = tc.Name
		}
		span.SetAttribute("llm.tool_calls.count", len(resp.ToolCalls))
		span.SetAttribute("llm.tool_calls.names", names)
	}

	p.tracer.RecordMetric(observability.MetricLLMCalls, 1, labels)
	p.tracer.RecordMetric(observability.MetricLLMLatency, float64(duration.Milliseconds()), labels)
	p.tracer.RecordMetric(observability.MetricLLMTokensInput, float64(resp.Usage.InputTokens), labels)
	p.tracer.RecordMetric(observability.MetricLLMTokensOutput, float64(resp.Usage.OutputTokens), labels)
	p.tracer.RecordMetric(observability.MetricLLMCost, resp.Usage.CostUSD, labels)
	return resp, nil
}

// fillUsage estimates missing token counts and derives missing cost.
func (p *InstrumentedProvider) fillUsage(messages []types.Message, resp *types.LLMResponse) {
	if resp.Metadata == nil {
		resp.Metadata = map[string]interface{}{}
	}
	u := &resp.Usage
	if u.InputTokens == 0 && u.OutputTokens == 0 && p.counter != nil {
		u.InputTokens = p.counter.EstimateMessagesTokens(messages)
		u.OutputTokens = p.counter.CountTokens(resp.Content)
		resp.Metadata["usage_estimated"] = true
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	if u.CostUSD == 0 && u.TotalTokens > 0 {
		if cost, ok := Cost(p.provider.Model(), u.InputTokens, u.OutputTokens); ok {
			u.CostUSD = cost
		} else {
			resp.Metadata["cost_unknown"] = true
		}
	}
}

var _ types.LLMProvider = (*InstrumentedProvider)(nil)
