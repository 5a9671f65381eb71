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
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/teradata-labs/spendq/pkg/observability"
)

// MemoryStore keeps checkpoints and tool calls in process. Used by tests and
// by the CLI when no database store is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
	toolCalls   map[string][]observability.ToolCallSpan
	now         func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[string]Checkpoint),
		toolCalls:   make(map[string][]observability.ToolCallSpan),
		now:         time.Now,
	}
}

// Load implements CheckpointStore.
func (s *MemoryStore) Load(ctx context.Context, conversationID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	cp.State = append([]byte(nil), cp.State...)
	return &cp, nil
}

// Save implements CheckpointStore.
func (s *MemoryStore) Save(ctx context.Context, conversationID string, expectedVersion int64, state []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.checkpoints[conversationID].Version
	if current != expectedVersion {
		return 0, ErrConflict
	}
	next := current + 1
	s.checkpoints[conversationID] = Checkpoint{
		ConversationID: conversationID,
		Version:        next,
		State:          append([]byte(nil), state...),
		UpdatedAt:      s.now(),
	}
	return next, nil
}

// InsertToolCalls implements ToolCallStore.
func (s *MemoryStore) InsertToolCalls(ctx context.Context, spans []observability.ToolCallSpan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, span := range spans {
		s.toolCalls[span.ConversationID] = append(s.toolCalls[span.ConversationID], span)
	}
	return nil
}

// ListToolCalls implements ToolCallStore.
func (s *MemoryStore) ListToolCalls(ctx context.Context, conversationID string) ([]observability.ToolCallSpan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]observability.ToolCallSpan(nil), s.toolCalls[conversationID]...), nil
}

// Close implements CheckpointStore.
func (s *MemoryStore) Close() error {
	return nil
}

var (
	_ CheckpointStore = (*MemoryStore)(nil)
	_ ToolCallStore   = (*MemoryStore)(nil)
)
