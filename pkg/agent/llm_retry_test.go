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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/pkg/llm"
	"github.com/teradata-labs/spendq/pkg/types"
)

func fastRetry(retries int) RetryConfig {
	return RetryConfig{Enabled: true, MaxRetries: retries, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestChatWithRetry_RecoversFromTransientFailure(t *testing.T) {
	provider := llm.NewScriptedProvider(llm.Fail(errors.New("502 bad gateway")), llm.Reply("ok"))

	resp, err := chatWithRetry(context.Background(), provider, fastRetry(2), zap.NewNop(),
		[]types.Message{types.NewUserMessage("q")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Len(t, provider.Calls(), 2)
}

func TestChatWithRetry_ExhaustsRetries(t *testing.T) {
	boom := errors.New("502 bad gateway")
	provider := llm.NewScriptedProvider(llm.Fail(boom), llm.Fail(boom), llm.Fail(boom))

	_, err := chatWithRetry(context.Background(), provider, fastRetry(2), zap.NewNop(), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, provider.Calls(), 3)
}

func TestChatWithRetry_DisabledMakesOneAttempt(t *testing.T) {
	provider := llm.NewScriptedProvider(llm.Fail(errors.New("down")), llm.Reply("ok"))
	cfg := fastRetry(3)
	cfg.Enabled = false

	_, err := chatWithRetry(context.Background(), provider, cfg, zap.NewNop(), nil, nil)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Len(t, provider.Calls(), 1)
}

func TestChatWithRetry_DoesNotRetryThrottling(t *testing.T) {
	throttled := &llm.ThrottledError{Attempts: 5, Err: errors.New("429 too many requests")}
	provider := llm.NewScriptedProvider(llm.Fail(throttled), llm.Reply("ok"))

	_, err := chatWithRetry(context.Background(), provider, fastRetry(3), zap.NewNop(), nil, nil)
	var te *llm.ThrottledError
	assert.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Len(t, provider.Calls(), 1)
}

func TestChatWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider := llm.NewScriptedProvider(llm.Reply("ok"))

	_, err := chatWithRetry(ctx, provider, fastRetry(3), zap.NewNop(), nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrModelUnavailable)
}
