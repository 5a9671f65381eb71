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

// Package types holds the conversation and model-call types shared by the
// agent, the model providers and the checkpoint store. Everything here is
// JSON-serializable; checkpoints persist []Message as-is.
package types

import (
	"context"
	"strings"
	"time"

	"github.com/teradata-labs/spendq/pkg/shuttle"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// FatalPrefix marks a tool result after which the model must stop calling
// tools.
const FatalPrefix = "FATAL: "

// ToolCall represents a tool invocation by the LLM.
type ToolCall struct {
	// ID is a unique identifier for this tool call
	ID string `json:"id"`

	// Name is the tool name
	Name string `json:"name"`

	// Input contains the tool parameters
	Input map[string]interface{} `json:"input,omitempty"`
}

// ToolResult is the content of a tool message.
type ToolResult struct {
	// Content is what the model sees: the JSON output or the error text.
	Content string `json:"content"`

	// IsError marks a failed call.
	IsError bool `json:"isError,omitempty"`

	// Fatal marks a failure after the retry budget was exhausted.
	Fatal bool `json:"fatal,omitempty"`
}

// Message represents a single message in the conversation.
type Message struct {
	// Role is the message sender (user, assistant, system, tool)
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content,omitempty"`

	// ToolCalls contains tool invocations (if role is assistant)
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`

	// ToolUseID is the ID of the tool call this result answers (if role is tool)
	ToolUseID string `json:"toolUseId,omitempty"`

	// ToolName is the name of the tool that produced the result (if role is tool)
	ToolName string `json:"toolName,omitempty"`

	// ToolResult contains the tool execution result (if role is tool)
	ToolResult *ToolResult `json:"toolResult,omitempty"`

	// Timestamp when the message was created
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// NewUserMessage returns a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

// NewAssistantMessage returns an assistant message, optionally carrying tool
// calls.
func NewAssistantMessage(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls, Timestamp: time.Now().UTC()}
}

// NewToolMessage returns the result message for call.
func NewToolMessage(call ToolCall, result ToolResult) Message {
	content := result.Content
	if result.Fatal && !strings.HasPrefix(content, FatalPrefix) {
		content = FatalPrefix + content
		result.Content = content
	}
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolUseID:  call.ID,
		ToolName:   call.Name,
		ToolResult: &result,
		Timestamp:  time.Now().UTC(),
	}
}

// IsFatal reports whether m is a tool message marked fatal.
func (m Message) IsFatal() bool {
	return m.ToolResult != nil && m.ToolResult.Fatal
}

// LastUserMessage returns the most recent user message.
func LastUserMessage(messages []Message) (Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i], true
		}
	}
	return Message{}, false
}

// Usage tracks LLM token usage and costs.
type Usage struct {
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	TotalTokens  int     `json:"totalTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// LLMResponse represents a response from the LLM.
type LLMResponse struct {
	// Content is the text response (if no tool calls)
	Content string

	// ToolCalls contains requested tool executions
	ToolCalls []ToolCall

	// StopReason indicates why the LLM stopped
	StopReason string

	// Usage tracks token usage
	Usage Usage

	// Metadata contains provider-specific metadata
	Metadata map[string]interface{}
}

// LLMProvider defines the interface for chat-completion providers.
//
// Messages with role "system" are passed to the provider's system prompt.
// A nil or empty tools slice means no tools are bound to the call.
type LLMProvider interface {
	// Chat sends a conversation to the LLM and returns the response
	Chat(ctx context.Context, messages []Message, tools []shuttle.Tool) (*LLMResponse, error)

	// Name returns the provider name
	Name() string

	// Model returns the model identifier
	Model() string
}

// SplitSystem separates system messages from the rest, joining their content.
func SplitSystem(messages []Message) (system string, rest []Message) {
	var parts []string
	rest = make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if m.Content != "" {
				parts = append(parts, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(parts, "\n\n"), rest
}
