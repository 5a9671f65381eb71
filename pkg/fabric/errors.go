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
	"context"
	"errors"
	"fmt"

	"github.com/teradata-labs/spendq/pkg/sqlguard"
)

// ErrorClass is the category of a failed execute_sql call.
type ErrorClass string

const (
	ClassNone       ErrorClass = ""
	ClassValidation ErrorClass = "validation"
	ClassCostGate   ErrorClass = "cost_gate"
	ClassExecution  ErrorClass = "execution"
	ClassCircuit    ErrorClass = "circuit_open"
	ClassUnknown    ErrorClass = "unknown"
)

// Classify maps err onto the error taxonomy.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	var (
		ve *sqlguard.ValidationError
		ge *CostGateError
		ee *ExecutionError
	)
	switch {
	case errors.As(err, &ve):
		return ClassValidation
	case errors.As(err, &ge):
		return ClassCostGate
	case errors.Is(err, ErrCircuitOpen):
		return ClassCircuit
	case errors.As(err, &ee):
		return ClassExecution
	default:
		return ClassUnknown
	}
}

// GateRule identifies which cost-gate threshold rejected a plan.
type GateRule string

const (
	GateMaxCost        GateRule = "max_total_cost"
	GateMaxRows        GateRule = "max_plan_rows"
	GateUnfilteredScan GateRule = "unfiltered_fact_scan"
)

// CostGateError reports a plan rejected before execution.
type CostGateError struct {
	Rule    GateRule
	Reason  string
	Summary *ExplainSummary
}

func (e *CostGateError) Error() string {
	return "cost gate rejected query: " + e.Reason
}

// IsCostGateError reports whether err is, or wraps, a CostGateError.
func IsCostGateError(err error) bool {
	var ge *CostGateError
	return errors.As(err, &ge)
}

// ExecutionKind classifies a database-level failure.
type ExecutionKind string

const (
	KindTimeout           ExecutionKind = "timeout"
	KindLockTimeout       ExecutionKind = "lock_timeout"
	KindIdleTimeout       ExecutionKind = "idle_timeout"
	KindCancelled         ExecutionKind = "cancelled"
	KindReadOnlyViolation ExecutionKind = "read_only_violation"
	KindInvalidQuery      ExecutionKind = "invalid_query"
	KindPermission        ExecutionKind = "permission_denied"
	KindConnection        ExecutionKind = "connection"
	KindDatabase          ExecutionKind = "database"
)

// ExecutionError reports a failure inside the sandbox.
type ExecutionError struct {
	Kind    ExecutionKind
	Code    string
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("execution failed (%s, SQLSTATE %s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("execution failed (%s): %s", e.Kind, e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsExecutionError reports whether err is, or wraps, an ExecutionError.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// AsExecutionError extracts the ExecutionError from err.
func AsExecutionError(err error) (*ExecutionError, bool) {
	var ee *ExecutionError
	ok := errors.As(err, &ee)
	return ee, ok
}

// IsCancellation reports whether err stems from the caller giving up.
func IsCancellation(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	if ee, ok := AsExecutionError(err); ok {
		return ee.Kind == KindCancelled
	}
	return false
}

// Retryable reports whether asking the model for a corrected query can help.
// Connection failures and cancellations cannot be fixed by rewriting SQL.
func (e *ExecutionError) Retryable() bool {
	switch e.Kind {
	case KindCancelled, KindConnection:
		return false
	default:
		return true
	}
}
