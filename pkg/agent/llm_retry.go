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
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/pkg/llm"
	"github.com/teradata-labs/spendq/pkg/shuttle"
	"github.com/teradata-labs/spendq/pkg/types"
)

// ErrModelUnavailable wraps model failures that end a turn.
var ErrModelUnavailable = errors.New("model unavailable")

// RetryConfig configures exponential backoff for model calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries)
	MaxRetries int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier (2.0 doubles the delay)
	Multiplier float64

	Enabled bool
}

// DefaultRetryConfig returns the defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:      true,
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// chatWithRetry calls the model, retrying failures with exponential backoff.
// Cancellation and rate-limiter exhaustion are not retried. The returned
// error wraps ErrModelUnavailable.
func chatWithRetry(ctx context.Context, provider types.LLMProvider, cfg RetryConfig, logger *zap.Logger,
	messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error) {
	attempts := 1
	if cfg.Enabled {
		attempts += max(cfg.MaxRetries, 0)
	}
	delay := cfg.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := provider.Chat(ctx, messages, tools)
		if err == nil {
			if attempt > 1 {
				logger.Info("llm retry succeeded", zap.Int("attempt", attempt))
			}
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("llm call failed (attempt %d/%d): %w", attempt, attempts, ctx.Err())
		}
		var throttled *llm.ThrottledError
		if errors.As(err, &throttled) || attempt == attempts {
			break
		}

		logger.Warn("llm call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", cfg.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("llm call failed (attempt %d/%d): %w", attempt, attempts, ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	logger.Error("llm call failed", zap.Int("attempts", attempts), zap.Error(lastErr))
	return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, lastErr)
}
