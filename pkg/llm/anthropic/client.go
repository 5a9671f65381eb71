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

// Package anthropic implements LLMProvider over the Anthropic Messages API
// using the official SDK. The Bedrock provider reuses it with a Bedrock
// transport.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/pkg/llm"
	"github.com/teradata-labs/spendq/pkg/shuttle"
	"github.com/teradata-labs/spendq/pkg/types"
)

const (
	// DefaultModel is the default Claude model.
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultMaxTokens is the default maximum tokens per response.
	DefaultMaxTokens = 4096
	// DefaultTimeout is the default per-request timeout.
	DefaultTimeout = 120 * time.Second
)

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	// RateLimiter is shared by every provider in the process. Nil disables
	// rate limiting.
	RateLimiter *llm.RateLimiter
	Logger      *zap.Logger
}

// Client implements types.LLMProvider for Claude.
type Client struct {
	client      sdk.Client
	name        string
	model       string
	maxTokens   int64
	temperature float64
	rateLimiter *llm.RateLimiter
	logger      *zap.Logger
}

// NewClient creates a client for the Anthropic API. The API key falls back
// to ANTHROPIC_API_KEY.
func NewClient(cfg Config) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		// Throttling retries belong to the rate limiter and the agent.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return NewWithSDK(sdk.NewClient(opts...), "anthropic", cfg)
}

// NewWithSDK wraps an already configured SDK client under the given
// provider name.
func NewWithSDK(client sdk.Client, name string, cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.L()
	}
	return &Client{
		client:      client,
		name:        name,
		model:       cfg.Model,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
		rateLimiter: cfg.RateLimiter,
		logger:      cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// Model returns the model identifier.
func (c *Client) Model() string {
	return c.model
}

// Chat sends the conversation and returns the response.
func (c *Client) Chat(ctx context.Context, messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error) {
	system, sdkMessages := ConvertMessages(messages)
	if len(sdkMessages) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		Messages:    sdkMessages,
		MaxTokens:   c.maxTokens,
		Temperature: sdk.Float(c.temperature),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = ConvertTools(tools)
	}

	var message *sdk.Message
	err := c.rateLimiter.Do(ctx, func(ctx context.Context) error {
		var callErr error
		message, callErr = c.client.Messages.New(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("%s messages call failed: %w", c.name, err)
	}

	c.rateLimiter.RecordTokenUsage(message.Usage.InputTokens + message.Usage.OutputTokens)
	return c.convertResponse(message), nil
}

// ConvertMessages maps conversation messages onto the Messages API. System
// messages are joined into the system prompt; consecutive tool results are
// grouped into one user turn as the API requires.
func ConvertMessages(messages []types.Message) (string, []sdk.MessageParam) {
	system, rest := types.SplitSystem(messages)
	var out []sdk.MessageParam
	var pendingResults []sdk.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, sdk.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range rest {
		switch msg.Role {
		case types.RoleTool:
			isError := msg.ToolResult != nil && msg.ToolResult.IsError
			pendingResults = append(pendingResults, sdk.NewToolResultBlock(msg.ToolUseID, msg.Content, isError))

		case types.RoleUser:
			flush()
			if msg.Content != "" {
				out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))
			}

		case types.RoleAssistant:
			flush()
			var content []sdk.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, sdk.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input interface{} = map[string]interface{}{}
				if tc.Input != nil {
					input = tc.Input
				}
				content = append(content, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) > 0 {
				out = append(out, sdk.NewAssistantMessage(content...))
			}
		}
	}
	flush()
	return system, out
}

// ConvertTools maps shuttle tools onto SDK tool definitions.
func ConvertTools(tools []shuttle.Tool) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		param := sdk.ToolParam{
			Name:        tool.Name(),
			Description: sdk.String(tool.Description()),
		}
		if schema := tool.InputSchema(); schema != nil {
			raw, _ := json.Marshal(map[string]interface{}{
				"type":       "object",
				"properties": schema.Properties,
				"required":   schema.Required,
			})
			var input sdk.ToolInputSchemaParam
			_ = json.Unmarshal(raw, &input)
			param.InputSchema = input
		}
		out = append(out, sdk.ToolUnionParam{OfTool: &param})
	}
	return out
}

func (c *Client) convertResponse(message *sdk.Message) *types.LLMResponse {
	in, out := int(message.Usage.InputTokens), int(message.Usage.OutputTokens)
	resp := &types.LLMResponse{
		StopReason: string(message.StopReason),
		Usage: types.Usage{
			InputTokens:  in,
			OutputTokens: out,
			TotalTokens:  in + out,
		},
		Metadata: map[string]interface{}{
			"provider":    c.name,
			"model":       c.model,
			"message_id":  message.ID,
			"stop_reason": string(message.StopReason),
		},
	}
	if cost, ok := llm.Cost(c.model, in, out); ok {
		resp.Usage.CostUSD = cost
	} else {
		resp.Metadata["cost_unknown"] = true
	}

	for _, block := range message.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			input := map[string]interface{}{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					c.logger.Warn("could not decode tool input", zap.String("tool", block.Name), zap.Error(err))
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, types.ToolCall{ID: block.ID, Name: block.Name, Input: input})
		}
	}
	return resp
}

var _ types.LLMProvider = (*Client)(nil)
