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
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/teradata-labs/spendq/pkg/shuttle"
	"github.com/teradata-labs/spendq/pkg/types"
)

// ScriptStep produces one model response from the request it receives.
type ScriptStep func(messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error)

// ScriptedCall is one request a ScriptedProvider received.
type ScriptedCall struct {
	Messages  []types.Message
	ToolNames []string
}

// ScriptedProvider replays a fixed sequence of responses. It backs offline
// tests. Thread-safe.
type ScriptedProvider struct {
	mu    sync.Mutex
	model string
	steps []ScriptStep
	calls []ScriptedCall
}

// NewScriptedProvider returns a provider that answers with steps in order.
func NewScriptedProvider(steps ...ScriptStep) *ScriptedProvider {
	return &ScriptedProvider{model: "scripted", steps: steps}
}

// WithModel sets the reported model id, which selects pricing.
func (p *ScriptedProvider) WithModel(model string) *ScriptedProvider {
	p.model = model
	return p
}

// Name implements LLMProvider.
func (p *ScriptedProvider) Name() string { return "scripted" }

// Model implements LLMProvider.
func (p *ScriptedProvider) Model() string { return p.model }

// Chat returns the next scripted response.
func (p *ScriptedProvider) Chat(ctx context.Context, messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	idx := len(p.calls)
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	p.calls = append(p.calls, ScriptedCall{Messages: append([]types.Message(nil), messages...), ToolNames: names})
	var step ScriptStep
	if idx < len(p.steps) {
		step = p.steps[idx]
	}
	p.mu.Unlock()

	if step == nil {
		return nil, fmt.Errorf("scripted provider exhausted after %d responses", len(p.steps))
	}
	return step(messages, tools)
}

// Calls returns the requests received so far.
func (p *ScriptedProvider) Calls() []ScriptedCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ScriptedCall(nil), p.calls...)
}

// Reply answers with text and no tool calls.
func Reply(text string) ScriptStep {
	return func([]types.Message, []shuttle.Tool) (*types.LLMResponse, error) {
		return &types.LLMResponse{
			Content:    text,
			StopReason: "end_turn",
			Usage:      types.Usage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120},
		}, nil
	}
}

// CallTool answers with a single tool call.
func CallTool(name string, input map[string]interface{}) ScriptStep {
	return func([]types.Message, []shuttle.Tool) (*types.LLMResponse, error) {
		return &types.LLMResponse{
			ToolCalls:  []types.ToolCall{{ID: "toolu_" + uuid.NewString()[:8], Name: name, Input: input}},
			StopReason: "tool_use",
			Usage:      types.Usage{InputTokens: 200, OutputTokens: 40, TotalTokens: 240},
		}, nil
	}
}

// Fail answers with err.
func Fail(err error) ScriptStep {
	return func([]types.Message, []shuttle.Tool) (*types.LLMResponse, error) {
		return nil, err
	}
}

var _ types.LLMProvider = (*ScriptedProvider)(nil)
