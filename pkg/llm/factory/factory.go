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

// Package factory builds the configured model provider.
package factory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/pkg/llm"
	"github.com/teradata-labs/spendq/pkg/llm/anthropic"
	"github.com/teradata-labs/spendq/pkg/llm/bedrock"
	"github.com/teradata-labs/spendq/pkg/llm/openai"
	"github.com/teradata-labs/spendq/pkg/types"
)

// Supported provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderOpenAI    = "openai"
)

// Config holds settings for every supported provider. Only the fields of
// the selected provider are read.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	BedrockRegion          string
	BedrockProfile         string
	BedrockAccessKeyID     string
	BedrockSecretAccessKey string
	BedrockSessionToken    string
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	switch strings.ToLower(provider) {
	case ProviderBedrock:
		return bedrock.DefaultModelID
	case ProviderOpenAI:
		return openai.DefaultModel
	default:
		return anthropic.DefaultModel
	}
}

// NewProvider creates the provider named by cfg.Provider. modelOverride,
// when set, replaces cfg.Model for this provider instance. The limiter is
// shared; pass nil to disable rate limiting.
func NewProvider(ctx context.Context, cfg Config, modelOverride string, limiter *llm.RateLimiter, logger *zap.Logger) (types.LLMProvider, error) {
	if logger == nil {
		logger = zap.L()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderAnthropic
	}
	model := cfg.Model
	if modelOverride != "" {
		model = modelOverride
	}
	if model == "" {
		model = DefaultModel(provider)
	}

	switch provider {
	case ProviderAnthropic:
		return anthropic.NewClient(anthropic.Config{
			APIKey:      cfg.APIKey,
			Model:       model,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			RateLimiter: limiter,
			Logger:      logger,
		}), nil

	case ProviderBedrock:
		c, err := bedrock.NewClient(ctx, bedrock.Config{
			Region:          cfg.BedrockRegion,
			Profile:         cfg.BedrockProfile,
			AccessKeyID:     cfg.BedrockAccessKeyID,
			SecretAccessKey: cfg.BedrockSecretAccessKey,
			SessionToken:    cfg.BedrockSessionToken,
			ModelID:         model,
			MaxTokens:       cfg.MaxTokens,
			Temperature:     cfg.Temperature,
			Timeout:         cfg.Timeout,
			RateLimiter:     limiter,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bedrock provider: %w", err)
		}
		return c, nil

	case ProviderOpenAI:
		return openai.NewClient(openai.Config{
			APIKey:      cfg.APIKey,
			Model:       model,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			RateLimiter: limiter,
			Logger:      logger,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported llm provider %q (want anthropic, bedrock or openai)", cfg.Provider)
	}
}
