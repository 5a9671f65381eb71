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
package sqlguard

import (
	"fmt"
	"strconv"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ClampResult is the row-bounded SQL to execute.
type ClampResult struct {
	// SQL is the final statement.
	SQL string

	// Limit is the effective row cap.
	Limit int

	// Truncated is set when the clamp imposed or tightened a limit, so the
	// result may be missing rows the model asked for.
	Truncated bool

	// Wrapped is set when the statement was wrapped in an outer SELECT.
	Wrapped bool
}

// Clamp guarantees the statement returns at most maxRows rows.
//
// A plain SELECT without LIMIT gets one appended. A plain SELECT whose
// numeric LIMIT is within the cap runs unchanged. Everything else (a larger
// or non-numeric LIMIT, FETCH ... WITH TIES, set operations, WITH, VALUES)
// is wrapped as SELECT * FROM (...) AS q LIMIT n; the inner LIMIT is never
// rewritten, so OFFSET and ORDER BY keep their meaning.
func Clamp(stmt *Statement, maxRows int) (ClampResult, error) {
	if stmt == nil || stmt.selectStmt == nil {
		return ClampResult{}, reject(RuleClamp, "no validated statement to clamp")
	}
	if maxRows < 1 {
		return ClampResult{}, reject(RuleClamp, "row cap must be at least 1, got %d", maxRows)
	}

	sel := stmt.selectStmt
	if stmt.Shape != ShapeSelect {
		return wrap(stmt.Canonical, maxRows), nil
	}

	if sel.GetLimitCount() == nil {
		return ClampResult{
			SQL:       fmt.Sprintf("%s LIMIT %d", stmt.Canonical, maxRows),
			Limit:     maxRows,
			Truncated: true,
		}, nil
	}

	n, ok := numericLimit(sel)
	if ok && n <= int64(maxRows) {
		return ClampResult{SQL: stmt.Canonical, Limit: int(n)}, nil
	}
	return wrap(stmt.Canonical, maxRows), nil
}

func wrap(canonical string, maxRows int) ClampResult {
	return ClampResult{
		SQL:       fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", canonical, maxRows),
		Limit:     maxRows,
		Truncated: true,
		Wrapped:   true,
	}
}

// numericLimit returns the constant LIMIT value of a plain SELECT.
func numericLimit(sel *pg_query.SelectStmt) (int64, bool) {
	if sel.GetLimitOption() == pg_query.LimitOption_LIMIT_OPTION_WITH_TIES {
		return 0, false
	}
	c := sel.GetLimitCount().GetAConst()
	if c == nil || c.GetIsnull() {
		return 0, false
	}
	if i := c.GetIval(); i != nil {
		return int64(i.GetIval()), i.GetIval() >= 0
	}
	if f := c.GetFval(); f != nil {
		n, err := strconv.ParseInt(f.GetFval(), 10, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
