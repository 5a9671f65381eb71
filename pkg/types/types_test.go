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

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewToolMessage_Fatal(t *testing.T) {
	call := ToolCall{ID: "toolu_1", Name: "execute_sql"}

	msg := NewToolMessage(call, ToolResult{Content: "retries exhausted", IsError: true, Fatal: true})
	assert.Equal(t, RoleTool, msg.Role)
	assert.Equal(t, "toolu_1", msg.ToolUseID)
	assert.Equal(t, "execute_sql", msg.ToolName)
	assert.Equal(t, "FATAL: retries exhausted", msg.Content)
	assert.Equal(t, msg.Content, msg.ToolResult.Content)
	assert.True(t, msg.IsFatal())

	again := NewToolMessage(call, ToolResult{Content: "FATAL: already marked", Fatal: true})
	assert.Equal(t, "FATAL: already marked", again.Content)

	ok := NewToolMessage(call, ToolResult{Content: `{"rowCount":1}`})
	assert.False(t, ok.IsFatal())
	assert.False(t, Message{Role: RoleUser}.IsFatal())
}

func TestLastUserMessage(t *testing.T) {
	tests := []struct {
		name     string
		messages []Message
		want     string
		found    bool
	}{
		{name: "empty", messages: nil, found: false},
		{
			name:     "no user message",
			messages: []Message{{Role: RoleAssistant, Content: "hi"}},
			found:    false,
		},
		{
			name: "latest wins",
			messages: []Message{
				{Role: RoleUser, Content: "first"},
				{Role: RoleAssistant, Content: "answer"},
				{Role: RoleUser, Content: "second"},
				{Role: RoleTool, Content: "{}"},
			},
			want:  "second",
			found: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LastUserMessage(tt.messages)
			require.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got.Content)
		})
	}
}

func TestSplitSystem(t *testing.T) {
	system, rest := SplitSystem([]Message{
		{Role: RoleSystem, Content: "rules"},
		NewUserMessage("question"),
		{Role: RoleSystem, Content: "schema"},
		NewAssistantMessage("", ToolCall{ID: "1", Name: "execute_sql"}),
	})
	assert.Equal(t, "rules\n\nschema", system)
	require.Len(t, rest, 2)
	assert.Equal(t, RoleUser, rest[0].Role)
	assert.Len(t, rest[1].ToolCalls, 1)
}
