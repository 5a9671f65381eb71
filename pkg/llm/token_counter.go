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
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/teradata-labs/spendq/pkg/types"
)

// TokenCounter estimates token counts for providers that omit usage.
// Uses tiktoken's cl100k_base encoding as an approximation for Claude.
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

// NewTokenCounter loads the cl100k_base encoding, falling back to a
// four-characters-per-token estimate when it is unavailable.
func NewTokenCounter() *TokenCounter {
	tkm, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{encoder: tkm}
}

// CountTokens returns the token count of text.
func (tc *TokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if tc == nil || tc.encoder == nil {
		return (len(text) + 3) / 4
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.encoder.Encode(text, nil, nil))
}

// EstimateMessagesTokens estimates the prompt size of messages, including
// per-message formatting overhead.
func (tc *TokenCounter) EstimateMessagesTokens(messages []types.Message) int {
	total := 0
	for _, msg := range messages {
		total += 4
		total += tc.CountTokens(msg.Content)
		for _, call := range msg.ToolCalls {
			total += tc.CountTokens(call.Name)
			if b, err := json.Marshal(call.Input); err == nil {
				total += tc.CountTokens(string(b))
			}
		}
	}
	return total
}
