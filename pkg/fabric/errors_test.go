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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teradata-labs/spendq/pkg/sqlguard"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassNone},
		{"validation", &sqlguard.ValidationError{Rule: sqlguard.RuleParse, Reason: "bad"}, ClassValidation},
		{"wrapped validation", fmt.Errorf("tool: %w", &sqlguard.ValidationError{Rule: sqlguard.RuleParse}), ClassValidation},
		{"gate", &CostGateError{Rule: GateMaxRows}, ClassCostGate},
		{"circuit", fmt.Errorf("%w: down", ErrCircuitOpen), ClassCircuit},
		{"execution", &ExecutionError{Kind: KindTimeout}, ClassExecution},
		{"unknown", errors.New("boom"), ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestExecutionError(t *testing.T) {
	inner := errors.New("pg said no")
	err := &ExecutionError{Kind: KindLockTimeout, Code: "55P03", Message: "could not obtain lock", Err: inner}
	assert.Equal(t, "execution failed (lock_timeout, SQLSTATE 55P03): could not obtain lock", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.True(t, err.Retryable())

	noCode := &ExecutionError{Kind: KindConnection, Message: "dial tcp: refused"}
	assert.Equal(t, "execution failed (connection): dial tcp: refused", noCode.Error())
	assert.False(t, noCode.Retryable())
	assert.False(t, (&ExecutionError{Kind: KindCancelled}).Retryable())
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, IsCancellation(context.Canceled))
	assert.True(t, IsCancellation(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.True(t, IsCancellation(&ExecutionError{Kind: KindCancelled}))
	assert.False(t, IsCancellation(&ExecutionError{Kind: KindTimeout}))
	assert.False(t, IsCancellation(errors.New("x")))
}

func TestSuggest(t *testing.T) {
	assert.Contains(t, Suggest(&sqlguard.ValidationError{Rule: sqlguard.RuleTableNotAllowed}), "allowed tables")
	assert.Contains(t, Suggest(&sqlguard.ValidationError{Rule: sqlguard.RuleDeniedFunction, Function: "pg_sleep"}), "pg_sleep")
	assert.Contains(t, Suggest(&CostGateError{Rule: GateUnfilteredScan}), "date range")
	assert.Contains(t, Suggest(&ExecutionError{Kind: KindTimeout}), "too long")
	assert.Contains(t, Suggest(&ExecutionError{Kind: KindInvalidQuery, Message: `column "amt" does not exist`}), "column name")
	assert.Contains(t, Suggest(&ExecutionError{Kind: KindInvalidQuery, Message: `relation "foo" does not exist`}), "table name")
	assert.Contains(t, Suggest(&ExecutionError{Kind: KindInvalidQuery, Message: `column "s.name" must appear in the GROUP BY clause`}), "GROUP BY")
	assert.Empty(t, Suggest(&ExecutionError{Kind: KindConnection}))
	assert.Empty(t, Suggest(errors.New("x")))
}
