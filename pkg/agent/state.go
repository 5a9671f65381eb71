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

// Package agent answers natural-language spend questions with a two-phase
// state machine: a planner produces a QueryPlan, then an executor lets the
// model call execute_sql until it can answer.
package agent

import (
	"github.com/teradata-labs/spendq/pkg/observability"
	"github.com/teradata-labs/spendq/pkg/types"
)

// Phase is the position of a turn in the state machine.
type Phase string

const (
	PhasePlanning  Phase = "planning"
	PhaseExecuting Phase = "executing"
	PhaseDone      Phase = "done"
)

// State is the checkpointed state of a conversation. Messages survive across
// turns; every other field is reset when a turn begins.
type State struct {
	ConversationID string                       `json:"conversationId"`
	Messages       []types.Message              `json:"messages"`
	Plan           *QueryPlan                   `json:"plan,omitempty"`
	Phase          Phase                        `json:"phase"`
	RetryCount     int                          `json:"retryCount"`
	DBTimeMs       int64                        `json:"dbTimeMs"`
	LLMSpans       []observability.LLMCallSpan  `json:"llmSpans,omitempty"`
	ToolSpans      []observability.ToolCallSpan `json:"toolSpans,omitempty"`
}

// Update is what a node returns. Apply merges it into State: lists are
// appended, DB time is added, and Plan, Phase and RetryCount replace the
// current value when set.
type Update struct {
	Messages   []types.Message
	Plan       *QueryPlan
	Phase      Phase
	RetryCount *int
	DBTimeMs   int64
	LLMSpans   []observability.LLMCallSpan
	ToolSpans  []observability.ToolCallSpan
}

// Apply merges u into s.
func (s *State) Apply(u Update) {
	s.Messages = append(s.Messages, u.Messages...)
	s.LLMSpans = append(s.LLMSpans, u.LLMSpans...)
	s.ToolSpans = append(s.ToolSpans, u.ToolSpans...)
	s.DBTimeMs += u.DBTimeMs
	if u.Plan != nil {
		s.Plan = u.Plan
	}
	if u.Phase != "" {
		s.Phase = u.Phase
	}
	if u.RetryCount != nil {
		s.RetryCount = *u.RetryCount
	}
}

// BeginTurn clears the turn-scoped fields.
func (s *State) BeginTurn() {
	s.Plan = nil
	s.Phase = PhasePlanning
	s.RetryCount = 0
	s.DBTimeMs = 0
	s.LLMSpans = nil
	s.ToolSpans = nil
}

// Clone returns a copy whose slices can be appended to independently.
func (s State) Clone() State {
	c := s
	c.Messages = append([]types.Message(nil), s.Messages...)
	c.LLMSpans = append([]observability.LLMCallSpan(nil), s.LLMSpans...)
	c.ToolSpans = append([]observability.ToolCallSpan(nil), s.ToolSpans...)
	if s.Plan != nil {
		p := *s.Plan
		c.Plan = &p
	}
	return c
}

// LastAssistantText returns the content of the latest assistant message that
// carries no tool calls.
func (s *State) LastAssistantText() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.Role == types.RoleAssistant && len(m.ToolCalls) == 0 {
			return m.Content
		}
	}
	return ""
}

func intPtr(n int) *int {
	return &n
}
