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
package pgxdriver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAcquire wraps failures to obtain a pooled connection.
var ErrAcquire = errors.New("failed to acquire connection")

// TxSettings are applied with SET LOCAL semantics at the start of every
// read-only transaction. Zero disables the corresponding timeout.
type TxSettings struct {
	StatementTimeout         time.Duration
	LockTimeout              time.Duration
	IdleInTransactionTimeout time.Duration

	// CleanupTimeout bounds rollback and cancel after the caller's context is
	// gone (default: 5s).
	CleanupTimeout time.Duration
}

// SetLocal sets a configuration parameter for the current transaction only.
func SetLocal(ctx context.Context, tx pgx.Tx, name, value string) error {
	if _, err := tx.Exec(ctx, "SELECT set_config($1, $2, true)", name, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", name, err)
	}
	return nil
}

// RunReadOnly acquires a connection, opens a READ ONLY transaction with the
// configured timeouts and runs fn inside it. The transaction is committed when
// fn succeeds and rolled back otherwise.
//
// When ctx is cancelled while fn runs, a cancel request is sent to the
// backend so the running statement stops on the server. The connection is
// then closed instead of returned to the pool, since a late cancel could hit
// the next statement run on it.
func RunReadOnly(ctx context.Context, pool *pgxpool.Pool, settings TxSettings, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	cleanup := settings.CleanupTimeout
	if cleanup <= 0 {
		cleanup = 5 * time.Second
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	defer conn.Release()

	var cancelled atomic.Bool
	stop := context.AfterFunc(ctx, func() {
		cancelled.Store(true)
		cctx, cancel := context.WithTimeout(context.Background(), cleanup)
		defer cancel()
		_ = conn.Conn().PgConn().CancelRequest(cctx)
	})
	defer func() {
		if !stop() && cancelled.Load() {
			cctx, cancel := context.WithTimeout(context.Background(), cleanup)
			defer cancel()
			_ = conn.Conn().Close(cctx)
		}
	}()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanup)
		defer cancel()
		_ = tx.Rollback(rctx)
	}()

	for _, s := range []struct {
		name string
		d    time.Duration
	}{
		{"statement_timeout", settings.StatementTimeout},
		{"lock_timeout", settings.LockTimeout},
		{"idle_in_transaction_session_timeout", settings.IdleInTransactionTimeout},
	} {
		if s.d <= 0 {
			continue
		}
		if err = SetLocal(ctx, tx, s.name, strconv.FormatInt(s.d.Milliseconds(), 10)); err != nil {
			return err
		}
	}

	if err = fn(ctx, tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
