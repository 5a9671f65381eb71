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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/pkg/sqlguard"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestBreaker(clock *fakeClock, transitions *[]CircuitState) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          10 * time.Second,
		MaxTimeout:       30 * time.Second,
		Logger:           zap.NewNop(),
		Now:              clock.Now,
		OnStateChange: func(from, to CircuitState) {
			if transitions != nil {
				*transitions = append(*transitions, to)
			}
		},
	})
}

var connErr = &ExecutionError{Kind: KindConnection, Message: "connection refused"}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var transitions []CircuitState
	cb := newTestBreaker(clock, &transitions)

	for i := 0; i < 3; i++ {
		err := cb.Execute(func() error { return connErr })
		assert.ErrorIs(t, err, connErr)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, ClassCircuit, Classify(err))
	assert.Equal(t, []CircuitState{StateOpen}, transitions)
}

func TestCircuitBreaker_IgnoresCallerErrors(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cb := newTestBreaker(clock, nil)

	callerErrs := []error{
		&sqlguard.ValidationError{Rule: sqlguard.RuleTableNotAllowed, Reason: "nope"},
		&CostGateError{Rule: GateMaxCost, Reason: "too costly"},
		&ExecutionError{Kind: KindInvalidQuery, Code: "42703", Message: "column does not exist"},
		&ExecutionError{Kind: KindTimeout, Code: "57014", Message: "statement timeout"},
		errors.New("something else"),
	}
	for i := 0; i < 5; i++ {
		for _, e := range callerErrs {
			e := e
			_ = cb.Execute(func() error { return e })
		}
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var transitions []CircuitState
	cb := newTestBreaker(clock, &transitions)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return connErr })
	}
	require.Equal(t, StateOpen, cb.State())

	clock.now = clock.now.Add(11 * time.Second)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []CircuitState{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreaker_ReopenBacksOff(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock, nil)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return connErr })
	}
	clock.now = clock.now.Add(11 * time.Second)
	_ = cb.Execute(func() error { return connErr })
	require.Equal(t, StateOpen, cb.State())

	// Second open waits twice as long.
	clock.now = clock.now.Add(15 * time.Second)
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	clock.now = clock.now.Add(6 * time.Second)
	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cb := newTestBreaker(clock, nil)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return connErr })
	}
	require.Equal(t, StateOpen, cb.State())
	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Execute(func() error { return nil }))
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(42).String())
}
