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
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/spendq/internal/pgxdriver"
	"github.com/teradata-labs/spendq/pkg/fabric"
)

func TestMapError_SQLState(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		message string
		want    fabric.ExecutionKind
	}{
		{"statement timeout", "57014", "canceling statement due to statement timeout", fabric.KindTimeout},
		{"user cancel", "57014", "canceling statement due to user request", fabric.KindCancelled},
		{"lock timeout", "55P03", "canceling statement due to lock timeout", fabric.KindLockTimeout},
		{"idle timeout", "25P03", "terminating connection due to idle-in-transaction timeout", fabric.KindIdleTimeout},
		{"read only", "25006", "cannot execute INSERT in a read-only transaction", fabric.KindReadOnlyViolation},
		{"undefined column", "42703", `column "amt" does not exist`, fabric.KindInvalidQuery},
		{"syntax", "42601", `syntax error at or near "FORM"`, fabric.KindInvalidQuery},
		{"bad input", "22P02", `invalid input syntax for type date: "last year"`, fabric.KindInvalidQuery},
		{"permission", "42501", "permission denied for table secrets", fabric.KindPermission},
		{"admin shutdown", "57P01", "terminating connection due to administrator command", fabric.KindConnection},
		{"other", "53200", "out of memory", fabric.KindDatabase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pgErr := &pgconn.PgError{Code: tt.code, Message: tt.message}
			err := mapError(context.Background(), fmt.Errorf("wrapped: %w", pgErr))

			ee, ok := fabric.AsExecutionError(err)
			require.True(t, ok)
			assert.Equal(t, tt.want, ee.Kind)
			assert.Equal(t, tt.code, ee.Code)
			assert.Equal(t, tt.message, ee.Message)
			assert.ErrorIs(t, err, pgErr)
		})
	}
}

func TestMapError_StatementTimeoutAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := mapError(ctx, &pgconn.PgError{Code: "57014", Message: "canceling statement due to statement timeout"})
	ee, ok := fabric.AsExecutionError(err)
	require.True(t, ok)
	assert.Equal(t, fabric.KindCancelled, ee.Kind)
}

func TestMapError_NonServerErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ee, ok := fabric.AsExecutionError(mapError(ctx, errors.New("read tcp: use of closed connection")))
	require.True(t, ok)
	assert.Equal(t, fabric.KindCancelled, ee.Kind)

	ee, ok = fabric.AsExecutionError(mapError(context.Background(), fmt.Errorf("%w: %w", pgxdriver.ErrAcquire, errors.New("dial tcp: refused"))))
	require.True(t, ok)
	assert.Equal(t, fabric.KindConnection, ee.Kind)
	assert.True(t, fabric.CountsAgainstDatabase(ee))

	ee, ok = fabric.AsExecutionError(mapError(context.Background(), errors.New("unexpected")))
	require.True(t, ok)
	assert.Equal(t, fabric.KindDatabase, ee.Kind)

	assert.NoError(t, mapError(context.Background(), nil))
}

func TestNormalizeValue(t *testing.T) {
	var n pgtype.Numeric
	require.NoError(t, n.Scan("1234.50"))
	assert.InDelta(t, 1234.5, normalizeValue(n), 0.0001)
	assert.Nil(t, normalizeValue(pgtype.Numeric{}))

	id := [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}
	assert.Equal(t, "12345678-9abc-def0-1234-56789abcdef0", normalizeValue(id))
	assert.Equal(t, "x", normalizeValue("x"))
}

func TestTruncateQuery(t *testing.T) {
	assert.Equal(t, "SELECT 1", truncateQuery("SELECT 1", 100))
	assert.Equal(t, "SELEC...", truncateQuery("SELECT 1", 5))
}
