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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastConfig(t *testing.T) RateLimiterConfig {
	config := DefaultRateLimiterConfig()
	config.Logger = zaptest.NewLogger(t)
	config.RequestsPerSecond = 100
	config.BurstCapacity = 10
	config.RetryBackoff = 5 * time.Millisecond
	config.MaxBackoff = 20 * time.Millisecond
	config.TokensPerMinute = 0
	return config
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Enabled: true})
	defer rl.Close()

	def := DefaultRateLimiterConfig()
	assert.Equal(t, def.RequestsPerSecond, rl.refillRate)
	assert.Equal(t, float64(def.BurstCapacity), rl.maxTokens)
	assert.Equal(t, def.QueueTimeout, rl.config.QueueTimeout)
}

func TestRateLimiter_Do_Success(t *testing.T) {
	rl := NewRateLimiter(fastConfig(t))
	defer rl.Close()

	calls := 0
	err := rl.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	m := rl.Metrics()
	assert.Equal(t, int64(1), m.TotalRequests)
	assert.Equal(t, int64(0), m.ThrottledRequests)
}

func TestRateLimiter_Do_ThrottlingRetry(t *testing.T) {
	config := fastConfig(t)
	config.MaxRetries = 3
	rl := NewRateLimiter(config)
	defer rl.Close()

	calls := 0
	err := rl.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("429 Too Many Requests")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(2), rl.Metrics().ThrottledRequests)
}

func TestRateLimiter_Do_RetriesExhausted(t *testing.T) {
	config := fastConfig(t)
	config.MaxRetries = 2
	rl := NewRateLimiter(config)
	defer rl.Close()

	calls := 0
	err := rl.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("ThrottlingException: slow down")
	})
	require.Error(t, err)
	var te *ThrottledError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.Attempts)
	assert.Equal(t, 3, calls)
}

func TestRateLimiter_Do_NonThrottlingErrorNotRetried(t *testing.T) {
	rl := NewRateLimiter(fastConfig(t))
	defer rl.Close()

	calls := 0
	boom := errors.New("invalid request")
	err := rl.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRateLimiter_Disabled(t *testing.T) {
	config := fastConfig(t)
	config.Enabled = false
	rl := NewRateLimiter(config)
	defer rl.Close()

	err := rl.Do(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, int64(0), rl.Metrics().TotalRequests)

	var nilLimiter *RateLimiter
	assert.NoError(t, nilLimiter.Do(context.Background(), func(ctx context.Context) error { return nil }))
}

func TestRateLimiter_ContextCancelledWhileWaiting(t *testing.T) {
	config := fastConfig(t)
	config.RequestsPerSecond = 0.01
	config.BurstCapacity = 1
	rl := NewRateLimiter(config)
	defer rl.Close()

	require.NoError(t, rl.Do(context.Background(), func(ctx context.Context) error { return nil }))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := rl.Do(ctx, func(ctx context.Context) error {
		t.Fatal("call must not run without capacity")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), rl.Metrics().DroppedRequests)
}

func TestRateLimiter_Close(t *testing.T) {
	rl := NewRateLimiter(fastConfig(t))
	require.NoError(t, rl.Close())
	require.NoError(t, rl.Close())

	err := rl.Do(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrRateLimiterClosed)
}

func TestRateLimiter_TokenBudget(t *testing.T) {
	config := fastConfig(t)
	config.TokensPerMinute = 100
	rl := NewRateLimiter(config)
	defer rl.Close()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.RecordTokenUsage(60)
	assert.Zero(t, rl.tokenBudgetDelay())
	rl.RecordTokenUsage(40)
	assert.Equal(t, int64(100), rl.TokenUsageLastMinute())
	assert.Equal(t, time.Minute, rl.tokenBudgetDelay())

	now = now.Add(30 * time.Second)
	assert.Equal(t, 30*time.Second, rl.tokenBudgetDelay())

	now = now.Add(31 * time.Second)
	assert.Zero(t, rl.tokenBudgetDelay())
	assert.Equal(t, int64(0), rl.TokenUsageLastMinute())
	assert.Equal(t, int64(100), rl.Metrics().TokensConsumed)
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter(fastConfig(t))
	defer rl.Close()

	var ok atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Do(context.Background(), func(ctx context.Context) error { return nil }) == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(20), ok.Load())
	assert.Equal(t, int64(20), rl.Metrics().TotalRequests)
}

type statusErr struct{ code int }

func (e statusErr) Error() string   { return "request failed" }
func (e statusErr) StatusCode() int { return e.code }

func TestIsThrottlingError(t *testing.T) {
	assert.False(t, IsThrottlingError(nil))
	assert.True(t, IsThrottlingError(errors.New("status 429")))
	assert.True(t, IsThrottlingError(errors.New("rate limit exceeded")))
	assert.True(t, IsThrottlingError(statusErr{code: 429}))
	assert.False(t, IsThrottlingError(statusErr{code: 500}))
	assert.False(t, IsThrottlingError(errors.New("invalid api key")))
}
