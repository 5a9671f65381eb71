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
package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teradata-labs/spendq/pkg/observability"
	"github.com/teradata-labs/spendq/pkg/types"
)

func TestState_Apply(t *testing.T) {
	s := State{Phase: PhasePlanning, RetryCount: 1}
	s.Apply(Update{
		Messages:  []types.Message{types.NewUserMessage("q")},
		ToolSpans: []observability.ToolCallSpan{{ID: "a"}},
		DBTimeMs:  5,
	})
	assert.Equal(t, PhasePlanning, s.Phase, "empty phase keeps current")
	assert.Equal(t, 1, s.RetryCount, "nil retry count keeps current")

	plan := &QueryPlan{CanAnswer: true}
	s.Apply(Update{
		Messages:   []types.Message{types.NewAssistantMessage("a")},
		ToolSpans:  []observability.ToolCallSpan{{ID: "b"}},
		DBTimeMs:   7,
		Plan:       plan,
		Phase:      PhaseDone,
		RetryCount: intPtr(0),
	})
	assert.Len(t, s.Messages, 2)
	assert.Len(t, s.ToolSpans, 2)
	assert.Equal(t, int64(12), s.DBTimeMs)
	assert.Same(t, plan, s.Plan)
	assert.Equal(t, PhaseDone, s.Phase)
	assert.Equal(t, 0, s.RetryCount)
	assert.Equal(t, "a", s.LastAssistantText())
}

func TestState_BeginTurn(t *testing.T) {
	s := State{
		Messages:   []types.Message{types.NewUserMessage("q"), types.NewAssistantMessage("a")},
		Plan:       &QueryPlan{},
		Phase:      PhaseDone,
		RetryCount: 2,
		DBTimeMs:   40,
		LLMSpans:   []observability.LLMCallSpan{{}},
		ToolSpans:  []observability.ToolCallSpan{{}},
	}
	s.BeginTurn()
	assert.Len(t, s.Messages, 2)
	assert.Nil(t, s.Plan)
	assert.Equal(t, PhasePlanning, s.Phase)
	assert.Zero(t, s.RetryCount)
	assert.Zero(t, s.DBTimeMs)
	assert.Empty(t, s.LLMSpans)
	assert.Empty(t, s.ToolSpans)
}

func TestState_Clone(t *testing.T) {
	s := State{Messages: make([]types.Message, 1, 4), Plan: &QueryPlan{Reasoning: "x"}}
	c := s.Clone()
	c.Messages = append(c.Messages, types.NewUserMessage("other"))
	c.Plan.Reasoning = "y"

	s.Messages = append(s.Messages, types.NewUserMessage("mine"))
	assert.Equal(t, "mine", s.Messages[1].Content)
	assert.Equal(t, "other", c.Messages[1].Content)
	assert.Equal(t, "x", s.Plan.Reasoning)
}

func TestState_LastAssistantTextSkipsToolCalls(t *testing.T) {
	s := State{Messages: []types.Message{
		types.NewAssistantMessage("final"),
		types.NewAssistantMessage("", types.ToolCall{ID: "1", Name: "execute_sql"}),
	}}
	assert.Equal(t, "final", s.LastAssistantText())
}
