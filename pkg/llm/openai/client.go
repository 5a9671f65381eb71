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

// Package openai implements LLMProvider over OpenAI-compatible chat
// completions with function calling.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/pkg/llm"
	"github.com/teradata-labs/spendq/pkg/shuttle"
	"github.com/teradata-labs/spendq/pkg/types"
)

const (
	// DefaultModel is the default OpenAI model.
	DefaultModel = "gpt-4o"
	// DefaultMaxTokens is the default maximum completion tokens.
	DefaultMaxTokens = 4096
)

// Config holds configuration for the OpenAI client.
type Config struct {
	APIKey string
	Model  string
	// BaseURL points at an OpenAI-compatible endpoint, including /v1.
	BaseURL     string
	MaxTokens   int
	Temperature float64

	RateLimiter *llm.RateLimiter
	Logger      *zap.Logger
}

// Client implements types.LLMProvider for OpenAI.
type Client struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	rateLimiter *llm.RateLimiter
	logger      *zap.Logger
}

// NewClient creates a client. The API key falls back to OPENAI_API_KEY.
func NewClient(cfg Config) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.L()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		rateLimiter: cfg.RateLimiter,
		logger:      cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "openai"
}

// Model returns the model identifier.
func (c *Client) Model() string {
	return c.model
}

// Chat sends the conversation and returns the response.
func (c *Client) Chat(ctx context.Context, messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:               c.model,
		Messages:            ConvertMessages(messages),
		MaxCompletionTokens: c.maxTokens,
		Temperature:         c.temperature,
	}
	if len(tools) > 0 {
		req.Tools = ConvertTools(tools)
	}

	var resp openai.ChatCompletionResponse
	err := c.rateLimiter.Do(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.client.CreateChatCompletion(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	c.rateLimiter.RecordTokenUsage(int64(resp.Usage.TotalTokens))
	return c.convertResponse(resp), nil
}

// ConvertMessages maps conversation messages onto chat-completion messages.
func ConvertMessages(messages []types.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Content})
		case types.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		case types.RoleAssistant:
			m := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Input)
				if tc.Input == nil {
					args = []byte("{}")
				}
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:       tc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: string(args)},
				})
			}
			out = append(out, m)
		case types.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolUseID,
			})
		}
	}
	return out
}

// ConvertTools maps shuttle tools onto function definitions.
func ConvertTools(tools []shuttle.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		var params interface{} = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		if schema := tool.InputSchema(); schema != nil {
			params = shuttle.NormalizeSchema(schema).ToMap()
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  params,
			},
		})
	}
	return out
}

func (c *Client) convertResponse(resp openai.ChatCompletionResponse) *types.LLMResponse {
	choice := resp.Choices[0]
	out := &types.LLMResponse{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Usage: types.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		Metadata: map[string]interface{}{
			"provider":      "openai",
			"model":         resp.Model,
			"completion_id": resp.ID,
			"finish_reason": string(choice.FinishReason),
		},
	}
	if cost, ok := llm.Cost(c.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens); ok {
		out.Usage.CostUSD = cost
	} else {
		out.Metadata["cost_unknown"] = true
	}

	for _, tc := range choice.Message.ToolCalls {
		input := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				c.logger.Warn("could not decode tool arguments",
					zap.String("tool", tc.Function.Name), zap.Error(err))
			}
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: input})
	}
	return out
}

var _ types.LLMProvider = (*Client)(nil)
