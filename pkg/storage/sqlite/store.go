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

// Package sqlite stores conversation checkpoints and the tool-call log in a
// local SQLite file, optionally encrypted with SQLCipher.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/teradata-labs/spendq/internal/sqlitedriver"
	"github.com/teradata-labs/spendq/pkg/observability"
	"github.com/teradata-labs/spendq/pkg/storage"
)

// Config configures the SQLite store.
type Config struct {
	Path string
	// EncryptionKey enables SQLCipher when non-empty.
	EncryptionKey string
}

// Store implements storage.CheckpointStore and storage.ToolCallStore.
type Store struct {
	db     *sql.DB
	codec  *storage.Codec
	tracer observability.Tracer
	now    func() time.Time
}

// Open opens the database and applies migrations.
func Open(ctx context.Context, cfg Config, tracer observability.Tracer) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	db, err := sqlitedriver.Open(ctx, cfg.Path, cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	migrator, err := NewMigrator(db, tracer)
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	if _, err := migrator.Up(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	codec, err := storage.NewCodec()
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return &Store{db: db, codec: codec, tracer: tracer, now: time.Now}, nil
}

// Load implements storage.CheckpointStore.
func (s *Store) Load(ctx context.Context, conversationID string) (*storage.Checkpoint, error) {
	ctx, span := s.tracer.StartSpan(ctx, "spendq.checkpoint.load")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrConversationID, conversationID)

	var (
		version   int64
		raw       []byte
		updatedMs int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT version, state, updated_at FROM conversation_checkpoints WHERE conversation_id = ?",
		conversationID,
	).Scan(&version, &raw, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	state, err := s.codec.Decompress(raw)
	if err != nil {
		return nil, err
	}
	return &storage.Checkpoint{
		ConversationID: conversationID,
		Version:        version,
		State:          state,
		UpdatedAt:      time.UnixMilli(updatedMs),
	}, nil
}

// Save implements storage.CheckpointStore.
func (s *Store) Save(ctx context.Context, conversationID string, expectedVersion int64, state []byte) (int64, error) {
	ctx, span := s.tracer.StartSpan(ctx, "spendq.checkpoint.save")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrConversationID, conversationID)

	compressed := s.codec.Compress(state)
	now := s.now().UnixMilli()

	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO conversation_checkpoints (conversation_id, version, state, updated_at)
			VALUES (?, 1, ?, ?)
			ON CONFLICT (conversation_id) DO NOTHING`,
			conversationID, compressed, now)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE conversation_checkpoints SET version = version + 1, state = ?, updated_at = ?
			WHERE conversation_id = ? AND version = ?`,
			compressed, now, conversationID, expectedVersion)
	}
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if n == 0 {
		span.SetAttribute("checkpoint.conflict", true)
		return 0, storage.ErrConflict
	}
	return expectedVersion + 1, nil
}

// InsertToolCalls implements storage.ToolCallStore.
func (s *Store) InsertToolCalls(ctx context.Context, spans []observability.ToolCallSpan) error {
	if len(spans) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tool_calls (id, conversation_id, request_id, tool_name, started_at, ended_at,
			duration_ms, success, reason, sql_text, sql_hash, row_count, truncated, error_kind, error, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare tool call insert: %w", err)
	}
	defer stmt.Close()

	for _, tc := range spans {
		var (
			meta      sql.NullString
			rowCount  sql.NullInt64
			truncated sql.NullBool
		)
		if tc.Output != nil {
			b, err := json.Marshal(tc.Output)
			if err != nil {
				return fmt.Errorf("failed to marshal tool call output: %w", err)
			}
			meta = sql.NullString{String: string(b), Valid: true}
			rowCount = sql.NullInt64{Int64: int64(tc.Output.RowCount), Valid: true}
			truncated = sql.NullBool{Bool: tc.Output.Truncated, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			tc.ID, tc.ConversationID, tc.RequestID, tc.ToolName,
			tc.StartedAt.UnixMilli(), tc.EndedAt.UnixMilli(), tc.DurationMs, tc.Success,
			nullString(tc.Reason), nullString(tc.SQL), nullString(tc.SQLHash),
			rowCount, truncated, nullString(tc.ErrorKind), nullString(tc.Error), meta,
		); err != nil {
			return fmt.Errorf("failed to insert tool call: %w", err)
		}
	}
	return tx.Commit()
}

// ListToolCalls implements storage.ToolCallStore.
func (s *Store) ListToolCalls(ctx context.Context, conversationID string) ([]observability.ToolCallSpan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, request_id, tool_name, started_at, ended_at, duration_ms, success,
		       COALESCE(reason, ''), COALESCE(sql_text, ''), COALESCE(sql_hash, ''),
		       COALESCE(error_kind, ''), COALESCE(error, ''), meta
		FROM tool_calls WHERE conversation_id = ?
		ORDER BY started_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool calls: %w", err)
	}
	defer rows.Close()

	var out []observability.ToolCallSpan
	for rows.Next() {
		var (
			tc               observability.ToolCallSpan
			startedMs, endMs int64
			meta             sql.NullString
		)
		if err := rows.Scan(&tc.ID, &tc.ConversationID, &tc.RequestID, &tc.ToolName, &startedMs, &endMs,
			&tc.DurationMs, &tc.Success, &tc.Reason, &tc.SQL, &tc.SQLHash, &tc.ErrorKind, &tc.Error, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan tool call: %w", err)
		}
		tc.StartedAt, tc.EndedAt = time.UnixMilli(startedMs), time.UnixMilli(endMs)
		if meta.Valid {
			tc.Output = &observability.ToolCallOutput{}
			if err := json.Unmarshal([]byte(meta.String), tc.Output); err != nil {
				return nil, fmt.Errorf("failed to decode tool call output: %w", err)
			}
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	s.codec.Close()
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var (
	_ storage.CheckpointStore = (*Store)(nil)
	_ storage.ToolCallStore   = (*Store)(nil)
)
