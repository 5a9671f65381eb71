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
package sqlitedriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrEncryptionUnsupported is returned when a key is supplied to a build
// without SQLCipher.
var ErrEncryptionUnsupported = errors.New("sqlite encryption requires a CGO build with SQLCipher")

// Open opens path with a single connection, WAL journaling and a busy
// timeout. A non-empty key enables SQLCipher encryption.
func Open(ctx context.Context, path, key string) (*sql.DB, error) {
	if key != "" && !EncryptionSupported {
		return nil, ErrEncryptionUnsupported
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps PRAGMA key and the write lock on the same handle.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL", "PRAGMA foreign_keys = ON"}
	if key != "" {
		pragmas = append([]string{fmt.Sprintf("PRAGMA key = '%s'", strings.ReplaceAll(key, "'", "''"))}, pragmas...)
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close() //nolint:errcheck
			if key != "" {
				return nil, fmt.Errorf("failed to open encrypted database (wrong key or corrupted file): %w", err)
			}
			return nil, fmt.Errorf("failed to configure database: %w", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}
