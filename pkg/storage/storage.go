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

// Package storage persists conversation checkpoints and the tool-call log.
// Backends live in the memory store here and in the postgres and sqlite
// subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/teradata-labs/spendq/pkg/observability"
)

var (
	// ErrNotFound is returned when a conversation has no checkpoint.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrConflict is returned by Save when the stored version is not the
	// expected one: another writer committed a turn in between.
	ErrConflict = errors.New("checkpoint version conflict")
)

// Checkpoint is the persisted state of one conversation. State is the
// JSON-encoded agent state; stores may compress it at rest.
type Checkpoint struct {
	ConversationID string
	Version        int64
	State          []byte
	UpdatedAt      time.Time
}

// CheckpointStore loads and saves checkpoints with optimistic versioning.
type CheckpointStore interface {
	// Load returns the latest checkpoint or ErrNotFound.
	Load(ctx context.Context, conversationID string) (*Checkpoint, error)

	// Save writes state if the stored version equals expectedVersion (0 for
	// a conversation without a checkpoint) and returns the new version.
	Save(ctx context.Context, conversationID string, expectedVersion int64, state []byte) (int64, error)

	Close() error
}

// ToolCallStore appends tool-call spans to the tool-call log.
type ToolCallStore interface {
	InsertToolCalls(ctx context.Context, spans []observability.ToolCallSpan) error
	ListToolCalls(ctx context.Context, conversationID string) ([]observability.ToolCallSpan, error)
}
