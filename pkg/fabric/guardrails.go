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
package fabric

import (
	"strings"

	"github.com/teradata-labs/spendq/pkg/sqlguard"
)

// Suggest returns a short correction hint for a failed query, phrased for
// the model that wrote it.
func Suggest(err error) string {
	if ve, ok := sqlguard.AsValidationError(err); ok {
		switch ve.Rule {
		case sqlguard.RuleTableNotAllowed, sqlguard.RuleSchema:
			return "Use only the allowed tables listed in the schema; spend questions belong on the payments fact table with a date filter."
		case sqlguard.RuleMultiStatement, sqlguard.RuleStatementKind, sqlguard.RuleSelectInto, sqlguard.RuleDataModifying:
			return "Send exactly one read-only SELECT statement."
		case sqlguard.RuleLocking:
			return "Remove the FOR UPDATE/FOR SHARE clause."
		case sqlguard.RuleFromFunction:
			return "Select from tables, not from set-returning functions."
		case sqlguard.RuleDeniedFunction:
			return "Remove the call to " + ve.Function + "; it is not permitted."
		case sqlguard.RuleParse:
			return "Fix the SQL syntax."
		}
		return ""
	}

	if IsCostGateError(err) {
		return "Add selective WHERE predicates (a date range on the fact table), aggregate instead of listing rows, or join fewer tables."
	}

	if ee, ok := AsExecutionError(err); ok {
		switch ee.Kind {
		case KindTimeout:
			return "The query ran too long. Narrow the date range, filter on indexed columns, or aggregate."
		case KindLockTimeout:
			return "The data is busy. Retry the same query once."
		case KindInvalidQuery:
			return suggestForMessage(ee.Message)
		case KindReadOnlyViolation:
			return "Only read-only SELECT statements can run."
		}
	}
	return ""
}

// suggestForMessage classifies database error text.
func suggestForMessage(message string) string {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "syntax"):
		return "Fix the SQL syntax; check parentheses, commas and quoting."
	case strings.Contains(m, "column") && strings.Contains(m, "does not exist"):
		return "A column name is wrong. Use only columns listed in the schema."
	case strings.Contains(m, "relation") && strings.Contains(m, "does not exist"):
		return "A table name is wrong. Use only tables listed in the schema."
	case strings.Contains(m, "group by"):
		return "Every non-aggregated selected column must appear in GROUP BY."
	case strings.Contains(m, "operator does not exist"), strings.Contains(m, "invalid input syntax"):
		return "A comparison mixes types; cast literals to the column's type."
	case strings.Contains(m, "permission"):
		return "That object is not readable. Use only tables listed in the schema."
	}
	return "Review the error and correct the query."
}
