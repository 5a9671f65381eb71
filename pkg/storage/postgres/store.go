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

// Package postgres stores conversation checkpoints and the tool-call log in
// PostgreSQL through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teradata-labs/spendq/pkg/observability"
	"github.com/teradata-labs/spendq/pkg/storage"
)

// Store implements storage.CheckpointStore and storage.ToolCallStore.
// Checkpoint state is zstd-compressed at rest.
type Store struct {
	pool   *pgxpool.Pool
	codec  *storage.Codec
	tracer observability.Tracer
}

// NewStore creates a store over pool. The pool is owned by the caller.
func NewStore(pool *pgxpool.Pool, tracer observability.Tracer) (*Store, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	codec, err := storage.NewCodec()
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, codec: codec, tracer: tracer}, nil
}

// Load implements storage.CheckpointStore.
func (s *Store) Load(ctx context.Context, conversationID string) (*storage.Checkpoint, error) {
	ctx, span := s.tracer.StartSpan(ctx, "spendq.checkpoint.load")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrConversationID, conversationID)

	var (
		version   int64
		raw       []byte
		updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		"SELECT version, state, updated_at FROM conversation_checkpoints WHERE conversation_id = $1",
		conversationID,
	).Scan(&version, &raw, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	state, err := s.codec.Decompress(raw)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &storage.Checkpoint{
		ConversationID: conversationID,
		Version:        version,
		State:          state,
		UpdatedAt:      updatedAt,
	}, nil
}

// Save implements storage.CheckpointStore. The version check and the write
// are a single statement, so concurrent writers cannot both succeed.
func (s *Store) Save(ctx context.Context, conversationID string, expectedVersion int64, state []byte) (int64, error) {
	ctx, span := s.tracer.StartSpan(ctx, "spendq.checkpoint.save")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrConversationID, conversationID)
	span.SetAttribute("checkpoint.expected_version", expectedVersion)

	compressed := s.codec.Compress(state)
	span.SetAttribute("checkpoint.bytes", len(compressed))

	var (
		version int64
		err     error
	)
	if expectedVersion == 0 {
		err = s.pool.QueryRow(ctx, `
			INSERT INTO conversation_checkpoints (conversation_id, version, state, updated_at)
			VALUES ($1, 1, $2, NOW())
			ON CONFLICT (conversation_id) DO NOTHING
			RETURNING version`,
			conversationID, compressed,
		).Scan(&version)
	} else {
		err = s.pool.QueryRow(ctx, `
			UPDATE conversation_checkpoints
			SET version = version + 1, state = $3, updated_at = NOW()
			WHERE conversation_id = $1 AND version = $2
			RETURNING version`,
			conversationID, expectedVersion, compressed,
		).Scan(&version)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		span.SetAttribute("checkpoint.conflict", true)
		return 0, storage.ErrConflict
	}
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return version, nil
}

// InsertToolCalls implements storage.ToolCallStore. Spans already present
// are skipped.
func (s *Store) InsertToolCalls(ctx context.Context, spans []observability.ToolCallSpan) error {
	if len(spans) == 0 {
		return nil
	}
	ctx, span := s.tracer.StartSpan(ctx, "spendq.tool_calls.insert")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("tool_calls.count", len(spans))

	batch := &pgx.Batch{}
	for _, tc := range spans {
		meta, err := json.Marshal(tc.Output)
		if err != nil {
			return fmt.Errorf("failed to marshal tool call output: %w", err)
		}
		var rowCount *int
		var truncated *bool
		if tc.Output != nil {
			rowCount, truncated = &tc.Output.RowCount, &tc.Output.Truncated
		}
		batch.Queue(`
			INSERT INTO tool_calls (id, conversation_id, request_id, tool_name, started_at, ended_at,
				duration_ms, success, reason, sql_text, sql_hash, row_count, truncated, error_kind, error, meta)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			ON CONFLICT (id) DO NOTHING`,
			tc.ID, tc.ConversationID, tc.RequestID, tc.ToolName, tc.StartedAt, tc.EndedAt,
			tc.DurationMs, tc.Success, nullable(tc.Reason), nullable(tc.SQL), nullable(tc.SQLHash),
			rowCount, truncated, nullable(tc.ErrorKind), nullable(tc.Error), meta)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert tool calls: %w", err)
	}
	return nil
}

// ListToolCalls implements storage.ToolCallStore.
func (s *Store) ListToolCalls(ctx context.Context, conversationID string) ([]observability.ToolCallSpan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, request_id, tool_name, started_at, ended_at, duration_ms, success,
		       COALESCE(reason, ''), COALESCE(sql_text, ''), COALESCE(sql_hash, ''),
		       COALESCE(error_kind, ''), COALESCE(error, ''), meta
		FROM tool_calls WHERE conversation_id = $1
		ORDER BY started_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool calls: %w", err)
	}
	defer rows.Close()

	var out []observability.ToolCallSpan
	for rows.Next() {
		var (
			tc   observability.ToolCallSpan
			meta []byte
		)
		if err := rows.Scan(&tc.ID, &tc.ConversationID, &tc.RequestID, &tc.ToolName, &tc.StartedAt, &tc.EndedAt,
			&tc.DurationMs, &tc.Success, &tc.Reason, &tc.SQL, &tc.SQLHash, &tc.ErrorKind, &tc.Error, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan tool call: %w", err)
		}
		if len(meta) > 0 && string(meta) != "null" {
			tc.Output = &observability.ToolCallOutput{}
			if err := json.Unmarshal(meta, tc.Output); err != nil {
				return nil, fmt.Errorf("failed to decode tool call output: %w", err)
			}
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// Close releases the codec. The pool is not closed.
func (s *Store) Close() error {
	s.codec.Close()
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var (
	_ storage.CheckpointStore = (*Store)(nil)
	_ storage.ToolCallStore   = (*Store)(nil)
)
