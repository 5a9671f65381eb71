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
	"errors"
	"fmt"
)

// Rule identifies which validation rule rejected a statement.
type Rule string

const (
	RuleEmpty           Rule = "empty"
	RuleParse           Rule = "parse"
	RuleMultiStatement  Rule = "multi_statement"
	RuleStatementKind   Rule = "statement_kind"
	RuleSelectInto      Rule = "select_into"
	RuleLocking         Rule = "locking_clause"
	RuleDataModifying   Rule = "data_modifying"
	RuleFromFunction    Rule = "from_function"
	RuleDeniedFunction  Rule = "denied_function"
	RuleTableNotAllowed Rule = "table_not_allowed"
	RuleSchema          Rule = "schema"
	RuleClamp           Rule = "clamp"
)

// ValidationError reports why a statement was rejected.
type ValidationError struct {
	Rule     Rule
	Reason   string
	Table    string
	Function string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AsValidationError extracts the ValidationError from err.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

func reject(rule Rule, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}
