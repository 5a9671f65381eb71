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
package postgres

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/teradata-labs/spendq/internal/pgxdriver"
	"github.com/teradata-labs/spendq/pkg/fabric"
)

// mapError converts a pgx error into a *fabric.ExecutionError.
func mapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &fabric.ExecutionError{
			Kind:    kindForSQLState(ctx, pgErr),
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Err:     err,
		}
	}

	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return &fabric.ExecutionError{Kind: fabric.KindCancelled, Message: "query cancelled", Err: err}
	}

	var (
		connectErr *pgconn.ConnectError
		netErr     net.Error
	)
	if errors.Is(err, pgxdriver.ErrAcquire) || errors.As(err, &connectErr) || errors.As(err, &netErr) {
		return &fabric.ExecutionError{Kind: fabric.KindConnection, Message: err.Error(), Err: err}
	}
	return &fabric.ExecutionError{Kind: fabric.KindDatabase, Message: err.Error(), Err: err}
}

func kindForSQLState(ctx context.Context, pgErr *pgconn.PgError) fabric.ExecutionKind {
	code := pgErr.Code
	switch {
	case code == "57014":
		if ctx.Err() == nil && strings.Contains(pgErr.Message, "statement timeout") {
			return fabric.KindTimeout
		}
		return fabric.KindCancelled
	case code == "55P03":
		return fabric.KindLockTimeout
	case code == "25P03":
		return fabric.KindIdleTimeout
	case code == "25006":
		return fabric.KindReadOnlyViolation
	case code == "42501":
		return fabric.KindPermission
	case strings.HasPrefix(code, "42"), strings.HasPrefix(code, "22"):
		return fabric.KindInvalidQuery
	case strings.HasPrefix(code, "08"), code == "57P01", code == "57P02", code == "57P03":
		return fabric.KindConnection
	default:
		return fabric.KindDatabase
	}
}
