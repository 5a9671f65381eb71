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
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Failing - reject requests immediately
	StateHalfOpen                     // Testing - allow limited requests
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig defines circuit breaker behavior.
type CircuitBreakerConfig struct {
	FailureThreshold int           // Consecutive counted failures that open the circuit (default: 5)
	SuccessThreshold int           // Consecutive successes that close it from half-open (default: 2)
	Timeout          time.Duration // Base wait before half-open, doubled per consecutive open (default: 30s)
	MaxTimeout       time.Duration // Cap for the doubled wait (default: 5m)

	// Counts decides whether an error is the database's fault. Defaults to
	// CountsAgainstDatabase.
	Counts func(error) bool

	OnStateChange func(from, to CircuitState)
	Logger        *zap.Logger
	Now           func() time.Time
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		MaxTimeout:       5 * time.Minute,
	}
}

// CountsAgainstDatabase reports whether err indicates the database itself is
// unhealthy. Rejections by the validator or gate, bad SQL and cancellations
// are the caller's problem and never trip the breaker.
func CountsAgainstDatabase(err error) bool {
	ee, ok := AsExecutionError(err)
	if !ok {
		return false
	}
	switch ee.Kind {
	case KindConnection, KindDatabase:
		return true
	default:
		return false
	}
}

// CircuitBreaker guards the sandbox so a database outage fails fast instead
// of burning every turn's retry budget on connection errors.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitState
	failureCount     int
	successCount     int
	consecutiveOpens int
	lastFailureTime  time.Time
	lastError        error
	config           CircuitBreakerConfig
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxTimeout <= 0 {
		config.MaxTimeout = def.MaxTimeout
	}
	if config.Counts == nil {
		config.Counts = CountsAgainstDatabase
	}
	if config.Logger == nil {
		config.Logger = zap.L()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &CircuitBreaker{state: StateClosed, config: config}
}

// Execute runs operation unless the circuit is open.
func (cb *CircuitBreaker) Execute(operation func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := operation()
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	timeout := cb.timeoutLocked()
	elapsed := cb.config.Now().Sub(cb.lastFailureTime)
	if elapsed >= timeout {
		cb.setStateLocked(StateHalfOpen)
		cb.config.Logger.Info("circuit_breaker_half_open",
			zap.Duration("elapsed", elapsed),
			zap.Int("consecutive_opens", cb.consecutiveOpens))
		return nil
	}
	return fmt.Errorf("%w: database unavailable after %d consecutive failures, retry after %v (last error: %v)",
		ErrCircuitOpen, cb.config.FailureThreshold, (timeout - elapsed).Round(time.Second), cb.lastError)
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil || !cb.config.Counts(err) {
		cb.onSuccess()
		return
	}
	cb.onFailure(err)
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.failureCount = 0
			cb.successCount = 0
			cb.consecutiveOpens = 0
			cb.setStateLocked(StateClosed)
			cb.config.Logger.Info("circuit_breaker_closed")
		}
	}
}

func (cb *CircuitBreaker) onFailure(err error) {
	cb.failureCount++
	cb.lastFailureTime = cb.config.Now()
	cb.lastError = err

	switch cb.state {
	case StateClosed:
		cb.config.Logger.Warn("circuit_breaker_failure",
			zap.Error(err),
			zap.Int("failure_count", cb.failureCount),
			zap.Int("threshold", cb.config.FailureThreshold))
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.consecutiveOpens++
			cb.setStateLocked(StateOpen)
			cb.config.Logger.Error("circuit_breaker_opened",
				zap.Int("consecutive_failures", cb.failureCount),
				zap.Duration("timeout", cb.timeoutLocked()))
		}
	case StateHalfOpen:
		cb.consecutiveOpens++
		cb.successCount = 0
		cb.setStateLocked(StateOpen)
		cb.config.Logger.Warn("circuit_breaker_reopened", zap.Error(err))
	}
}

func (cb *CircuitBreaker) setStateLocked(newState CircuitState) {
	if cb.state == newState {
		return
	}
	old := cb.state
	cb.state = newState
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(old, newState)
	}
}

// timeoutLocked doubles the base timeout for each consecutive open.
func (cb *CircuitBreaker) timeoutLocked() time.Duration {
	if cb.consecutiveOpens <= 1 {
		return cb.config.Timeout
	}
	delay := cb.config.Timeout
	for i := 1; i < cb.consecutiveOpens && delay < cb.config.MaxTimeout; i++ {
		delay *= 2
	}
	if delay > cb.config.MaxTimeout {
		delay = cb.config.MaxTimeout
	}
	return delay
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit and clears counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
	cb.successCount = 0
	cb.consecutiveOpens = 0
	cb.lastFailureTime = time.Time{}
	cb.lastError = nil
	cb.setStateLocked(StateClosed)
}
