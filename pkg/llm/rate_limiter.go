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
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrRateLimiterClosed is returned by Do after Close.
var ErrRateLimiterClosed = errors.New("rate limiter stopped")

// RateLimiterConfig configures the model-call rate limiter.
type RateLimiterConfig struct {
	// Enabled enables rate limiting. When false Do calls through directly.
	Enabled bool

	// RequestsPerSecond is the steady-state request rate shared by every
	// caller of the limiter.
	RequestsPerSecond float64

	// BurstCapacity is the maximum burst of requests allowed.
	BurstCapacity int

	// TokensPerMinute caps tokens recorded through RecordTokenUsage over a
	// sliding one-minute window. Zero disables the token cap.
	TokensPerMinute int64

	// MaxRetries is the number of retries after a throttling error (HTTP 429).
	MaxRetries int

	// RetryBackoff is the initial backoff; it doubles each retry up to
	// MaxBackoff.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration

	// QueueTimeout bounds how long a call may wait for capacity.
	QueueTimeout time.Duration

	Logger *zap.Logger
}

// DefaultRateLimiterConfig returns conservative defaults suitable for a
// Tier 1 Anthropic or on-demand Bedrock account.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 2.0,
		BurstCapacity:     5,
		TokensPerMinute:   80000,
		MaxRetries:        5,
		RetryBackoff:      time.Second,
		MaxBackoff:        30 * time.Second,
		QueueTimeout:      2 * time.Minute,
		Logger:            zap.NewNop(),
	}
}

// RateLimiterMetrics tracks rate limiter activity.
type RateLimiterMetrics struct {
	TotalRequests     int64
	ThrottledRequests int64
	DroppedRequests   int64
	TokensConsumed    int64
	LastThrottleTime  time.Time
}

type tokenUsage struct {
	timestamp time.Time
	tokens    int64
}

// RateLimiter applies a token bucket to model calls and retries throttled
// calls with exponential backoff. One limiter is constructed per process and
// injected into providers; it is never a package global.
type RateLimiter struct {
	config RateLimiterConfig

	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time

	windowMu    sync.Mutex
	tokenWindow []tokenUsage

	metricsMu sync.RWMutex
	metrics   RateLimiterMetrics

	now    func() time.Time
	stopCh chan struct{}
	closed atomic.Bool
}

// NewRateLimiter creates a limiter. Zero fields take DefaultRateLimiterConfig values.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = def.RequestsPerSecond
	}
	if config.BurstCapacity <= 0 {
		config.BurstCapacity = def.BurstCapacity
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = def.RetryBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if config.QueueTimeout <= 0 {
		config.QueueTimeout = def.QueueTimeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &RateLimiter{
		config:      config,
		tokens:      float64(config.BurstCapacity),
		maxTokens:   float64(config.BurstCapacity),
		refillRate:  config.RequestsPerSecond,
		lastRefill:  time.Now(),
		tokenWindow: make([]tokenUsage, 0, 64),
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}
}

// Do waits for capacity and runs call, retrying throttling errors.
func (rl *RateLimiter) Do(ctx context.Context, call func(context.Context) error) error {
	if rl == nil || !rl.config.Enabled {
		return call(ctx)
	}
	if rl.closed.Load() {
		return ErrRateLimiterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, rl.config.QueueTimeout)
	defer cancel()

	backoff := rl.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		if err := rl.wait(ctx, waitCtx); err != nil {
			rl.recordMetric("dropped", 0)
			return err
		}

		err := call(ctx)
		rl.recordMetric("request", 0)
		if err == nil || !IsThrottlingError(err) {
			return err
		}

		rl.recordMetric("throttled", 0)
		if attempt >= rl.config.MaxRetries {
			return &ThrottledError{Attempts: attempt + 1, Err: err}
		}
		rl.config.Logger.Warn("model request throttled, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", rl.config.MaxRetries),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		case <-rl.stopCh:
			return ErrRateLimiterClosed
		}
		backoff = min(backoff*2, rl.config.MaxBackoff)
	}
}

// wait blocks until a request token is available and the per-minute token
// budget has room.
func (rl *RateLimiter) wait(ctx, waitCtx context.Context) error {
	for {
		delay, ok := rl.acquire()
		if ok {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-waitCtx.Done():
			timer.Stop()
			if err := ctx.Err(); err != nil {
				return err
			}
			return fmt.Errorf("rate limiter queue timeout after %v", rl.config.QueueTimeout)
		case <-rl.stopCh:
			timer.Stop()
			return ErrRateLimiterClosed
		}
	}
}

// acquire takes a request token, or reports how long to wait for one.
func (rl *RateLimiter) acquire() (time.Duration, bool) {
	if d := rl.tokenBudgetDelay(); d > 0 {
		return d, false
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens = min(rl.maxTokens, rl.tokens+elapsed*rl.refillRate)
	rl.lastRefill = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return 0, true
	}
	missing := (1.0 - rl.tokens) / rl.refillRate
	return max(time.Duration(missing*float64(time.Second)), time.Millisecond), false
}

// tokenBudgetDelay returns how long until the sliding window drops below
// TokensPerMinute, or zero when there is room.
func (rl *RateLimiter) tokenBudgetDelay() time.Duration {
	if rl.config.TokensPerMinute <= 0 {
		return 0
	}
	rl.windowMu.Lock()
	defer rl.windowMu.Unlock()

	now := rl.now()
	rl.pruneLocked(now)
	var total int64
	for _, u := range rl.tokenWindow {
		total += u.tokens
	}
	if total < rl.config.TokensPerMinute || len(rl.tokenWindow) == 0 {
		return 0
	}
	return max(rl.tokenWindow[0].timestamp.Add(time.Minute).Sub(now), time.Millisecond)
}

func (rl *RateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(rl.tokenWindow) && !rl.tokenWindow[i].timestamp.After(cutoff) {
		i++
	}
	rl.tokenWindow = rl.tokenWindow[i:]
}

// RecordTokenUsage records token consumption against the per-minute budget.
func (rl *RateLimiter) RecordTokenUsage(tokens int64) {
	if rl == nil || tokens <= 0 {
		return
	}
	rl.windowMu.Lock()
	now := rl.now()
	rl.tokenWindow = append(rl.tokenWindow, tokenUsage{timestamp: now, tokens: tokens})
	rl.pruneLocked(now)
	rl.windowMu.Unlock()

	rl.recordMetric("tokens", tokens)
}

// TokenUsageLastMinute returns token consumption in the last minute.
func (rl *RateLimiter) TokenUsageLastMinute() int64 {
	rl.windowMu.Lock()
	defer rl.windowMu.Unlock()
	rl.pruneLocked(rl.now())
	var total int64
	for _, u := range rl.tokenWindow {
		total += u.tokens
	}
	return total
}

func (rl *RateLimiter) recordMetric(event string, value int64) {
	rl.metricsMu.Lock()
	defer rl.metricsMu.Unlock()

	switch event {
	case "request":
		rl.metrics.TotalRequests++
	case "throttled":
		rl.metrics.ThrottledRequests++
		rl.metrics.LastThrottleTime = rl.now()
	case "dropped":
		rl.metrics.DroppedRequests++
	case "tokens":
		rl.metrics.TokensConsumed += value
	}
}

// Metrics returns a snapshot of the limiter's counters.
func (rl *RateLimiter) Metrics() RateLimiterMetrics {
	rl.metricsMu.RLock()
	defer rl.metricsMu.RUnlock()
	return rl.metrics
}

// Close stops the limiter; waiting calls return ErrRateLimiterClosed.
func (rl *RateLimiter) Close() error {
	if rl == nil || !rl.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(rl.stopCh)
	return nil
}

// ThrottledError is returned when every retry was throttled.
type ThrottledError struct {
	Attempts int
	Err      error
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("model request failed after %d attempts due to throttling: %v", e.Attempts, e.Err)
}

func (e *ThrottledError) Unwrap() error {
	return e.Err
}

// IsThrottlingError reports whether err looks like a provider rate-limit
// response.
func IsThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) && sc.StatusCode() == 429 {
		return true
	}
	s := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "throttlingexception", "too many requests", "toomanyrequests", "rate limit", "rate_limit", "throttl"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
