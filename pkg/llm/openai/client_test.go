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
package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/pkg/shuttle"
	"github.com/teradata-labs/spendq/pkg/types"
)

func TestClient_Chat_ToolCall(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "model": "gpt-4o",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant", "content": "",
				"tool_calls": [{"id": "call_1", "type": "function",
					"function": {"name": "execute_sql", "arguments": "{\"sql\":\"SELECT 1\",\"reason\":\"r\"}"}}]}}],
			"usage": {"prompt_tokens": 50, "completion_tokens": 10, "total_tokens": 60}
		}`))
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "test-key", BaseURL: server.URL + "/v1", Logger: zap.NewNop()})
	tool := &shuttle.MockTool{MockName: "execute_sql"}
	call := types.ToolCall{ID: "call_0", Name: "execute_sql", Input: map[string]interface{}{"sql": "SELECT 2"}}

	resp, err := c.Chat(context.Background(), []types.Message{
		{Role: types.RoleSystem, Content: "sys"},
		types.NewUserMessage("q"),
		types.NewAssistantMessage("", call),
		types.NewToolMessage(call, types.ToolResult{Content: "{\"rowCount\":1}"}),
	}, []shuttle.Tool{tool})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "SELECT 1", resp.ToolCalls[0].Input["sql"])
	assert.Equal(t, "tool_calls", resp.StopReason)
	assert.Equal(t, 60, resp.Usage.TotalTokens)
	assert.InDelta(t, 50*2.5/1e6+10*10.0/1e6, resp.Usage.CostUSD, 1e-12)

	msgs := body["messages"].([]interface{})
	require.Len(t, msgs, 4)
	toolMsg := msgs[3].(map[string]interface{})
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "call_0", toolMsg["tool_call_id"])
	tools := body["tools"].([]interface{})
	fn := tools[0].(map[string]interface{})["function"].(map[string]interface{})
	assert.Equal(t, "execute_sql", fn["name"])
}

func TestClient_Chat_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: server.URL + "/v1", Logger: zap.NewNop()})
	_, err := c.Chat(context.Background(), []types.Message{types.NewUserMessage("q")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai chat completion failed")
}

func TestConvertMessages_NilToolInput(t *testing.T) {
	msgs := ConvertMessages([]types.Message{types.NewAssistantMessage("", types.ToolCall{ID: "x", Name: "execute_sql"})})
	require.Len(t, msgs, 1)
	assert.Equal(t, "{}", msgs[0].ToolCalls[0].Function.Arguments)
}
