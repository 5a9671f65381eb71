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
package observability

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"
)

// SQLRetention controls how much query text is kept in telemetry.
type SQLRetention string

const (
	RetainFull      SQLRetention = "full"
	RetainTruncated SQLRetention = "truncated"
	RetainHashed    SQLRetention = "hashed"
	RetainNone      SQLRetention = "none"
)

// DefaultSQLTruncateChars is used when a truncation length is not configured.
const DefaultSQLTruncateChars = 500

// ParseSQLRetention parses a retention mode; empty means truncated.
func ParseSQLRetention(s string) (SQLRetention, error) {
	switch SQLRetention(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return RetainTruncated, nil
	case RetainFull:
		return RetainFull, nil
	case RetainTruncated:
		return RetainTruncated, nil
	case RetainHashed:
		return RetainHashed, nil
	case RetainNone:
		return RetainNone, nil
	}
	return "", fmt.Errorf("unknown sql retention mode %q (want full, truncated, hashed or none)", s)
}

// Render returns the text and hash to store for sql under this mode.
// Hashed mode keeps only the hash; none keeps neither.
func (m SQLRetention) Render(sql string, maxChars int) (text, hash string) {
	if sql == "" || m == RetainNone {
		return "", ""
	}
	hash = HashSQL(sql)
	switch m {
	case RetainFull:
		return sql, hash
	case RetainHashed:
		return "", hash
	default:
		return truncateRunes(sql, maxChars), hash
	}
}

// HashSQL returns the hex SHA-256 of sql.
func HashSQL(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}

func truncateRunes(s string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultSQLTruncateChars
	}
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChars]) + "..."
}
