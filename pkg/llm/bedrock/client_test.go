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
package bedrock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestApplyDefaults(t *testing.T) {
	t.Setenv("AWS_BEDROCK_MODEL_ID", "")
	t.Setenv("AWS_DEFAULT_REGION", "")

	var cfg Config
	applyDefaults(&cfg)
	assert.Equal(t, DefaultModelID, cfg.ModelID)
	assert.Equal(t, DefaultRegion, cfg.Region)
	assert.NotZero(t, cfg.Timeout)

	t.Setenv("AWS_BEDROCK_MODEL_ID", "anthropic.claude-haiku-4-5")
	t.Setenv("AWS_DEFAULT_REGION", "eu-west-1")
	cfg = Config{}
	applyDefaults(&cfg)
	assert.Equal(t, "anthropic.claude-haiku-4-5", cfg.ModelID)
	assert.Equal(t, "eu-west-1", cfg.Region)
}

func TestNewClient_StaticCredentials(t *testing.T) {
	c, err := NewClient(context.Background(), Config{
		Region:          "us-east-1",
		AccessKeyID:     "AKIATEST",
		SecretAccessKey: "secret",
		ModelID:         "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		Logger:          zap.NewNop(),
	})
	require.NoError(t, err)
	assert.Equal(t, "bedrock", c.Name())
	assert.Equal(t, "us.anthropic.claude-sonnet-4-5-20250929-v1:0", c.Model())
}

func TestLoadAWSConfig_Static(t *testing.T) {
	awsCfg, err := loadAWSConfig(context.Background(), Config{
		Region: "us-east-1", AccessKeyID: "AKIATEST", SecretAccessKey: "secret", SessionToken: "tok",
	})
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", awsCfg.Region)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIATEST", creds.AccessKeyID)
	assert.Equal(t, "tok", creds.SessionToken)
}
