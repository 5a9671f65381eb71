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
package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/pkg/llm"
	"github.com/teradata-labs/spendq/pkg/shuttle"
	"github.com/teradata-labs/spendq/pkg/types"
)

func sqlTool() shuttle.Tool {
	return &shuttle.MockTool{
		MockName:        "execute_sql",
		MockDescription: "run a query",
		MockSchema: shuttle.NewObjectSchema("args", map[string]*shuttle.JSONSchema{
			"sql":    shuttle.NewStringSchema("query"),
			"reason": shuttle.NewStringSchema("why"),
		}, []string{"sql", "reason"}),
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{APIKey: "test-key"})
	assert.Equal(t, "anthropic", c.Name())
	assert.Equal(t, DefaultModel, c.Model())
	assert.Equal(t, int64(DefaultMaxTokens), c.maxTokens)
}

func TestClient_Chat(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
			"content": [
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "toolu_1", "name": "execute_sql",
				 "input": {"sql": "SELECT 1", "reason": "probe"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 1000, "output_tokens": 200}
		}`))
	}))
	defer server.Close()

	limiter := llm.NewRateLimiter(llm.RateLimiterConfig{Enabled: true, RequestsPerSecond: 100})
	defer limiter.Close()
	c := NewClient(Config{
		APIKey:      "test-key",
		Model:       "claude-sonnet-4-5",
		BaseURL:     server.URL,
		RateLimiter: limiter,
		Logger:      zap.NewNop(),
	})

	call := types.ToolCall{ID: "toolu_0", Name: "execute_sql", Input: map[string]interface{}{"sql": "SELECT 2"}}
	resp, err := c.Chat(context.Background(), []types.Message{
		{Role: types.RoleSystem, Content: "You answer spend questions."},
		types.NewUserMessage("How much?"),
		types.NewAssistantMessage("", call),
		types.NewToolMessage(call, types.ToolResult{Content: "boom", IsError: true}),
	}, []shuttle.Tool{sqlTool()})
	require.NoError(t, err)

	assert.Equal(t, "Let me check.", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "SELECT 1", resp.ToolCalls[0].Input["sql"])
	assert.Equal(t, "tool_use", resp.StopReason)
	assert.Equal(t, 1200, resp.Usage.TotalTokens)
	assert.InDelta(t, 1000*3.0/1e6+200*15.0/1e6, resp.Usage.CostUSD, 1e-12)
	assert.Equal(t, int64(1200), limiter.TokenUsageLastMinute())

	system, ok := body["system"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, "You answer spend questions.", system[0].(map[string]interface{})["text"])
	msgs := body["messages"].([]interface{})
	require.Len(t, msgs, 3)
	last := msgs[2].(map[string]interface{})
	assert.Equal(t, "user", last["role"])
	block := last["content"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "tool_result", block["type"])
	assert.Equal(t, true, block["is_error"])
	tools := body["tools"].([]interface{})
	require.Len(t, tools, 1)
	assert.Equal(t, "execute_sql", tools[0].(map[string]interface{})["name"])
}

func TestClient_Chat_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: server.URL, Logger: zap.NewNop()})
	_, err := c.Chat(context.Background(), []types.Message{types.NewUserMessage("hi")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic messages call failed")
}

func TestClient_Chat_NoMessages(t *testing.T) {
	c := NewClient(Config{APIKey: "k"})
	_, err := c.Chat(context.Background(), []types.Message{{Role: types.RoleSystem, Content: "only system"}}, nil)
	assert.Error(t, err)
}

func TestConvertMessages_GroupsToolResults(t *testing.T) {
	a := types.ToolCall{ID: "a", Name: "execute_sql"}
	b := types.ToolCall{ID: "b", Name: "execute_sql"}
	system, msgs := ConvertMessages([]types.Message{
		{Role: types.RoleSystem, Content: "one"},
		{Role: types.RoleSystem, Content: "two"},
		types.NewUserMessage("q"),
		types.NewAssistantMessage("", a, b),
		types.NewToolMessage(a, types.ToolResult{Content: "{}"}),
		types.NewToolMessage(b, types.ToolResult{Content: "{}"}),
		types.NewAssistantMessage("answer"),
	})
	assert.Equal(t, "one\n\ntwo", system)
	require.Len(t, msgs, 4)
	assert.Len(t, msgs[2].Content, 2)
}
