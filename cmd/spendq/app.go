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
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/internal/pgxdriver"
	"github.com/teradata-labs/spendq/pkg/agent"
	"github.com/teradata-labs/spendq/pkg/backends/postgres"
	"github.com/teradata-labs/spendq/pkg/fabric"
	"github.com/teradata-labs/spendq/pkg/llm"
	"github.com/teradata-labs/spendq/pkg/llm/factory"
	"github.com/teradata-labs/spendq/pkg/observability"
	"github.com/teradata-labs/spendq/pkg/schema"
	"github.com/teradata-labs/spendq/pkg/shuttle"
	"github.com/teradata-labs/spendq/pkg/sqlguard"
	"github.com/teradata-labs/spendq/pkg/storage"
	pgstore "github.com/teradata-labs/spendq/pkg/storage/postgres"
	"github.com/teradata-labs/spendq/pkg/storage/sqlite"
	"github.com/teradata-labs/spendq/pkg/types"
)

// app holds the components shared by the commands. Each open* method is
// idempotent and registers its cleanup with close.
type app struct {
	config *Config
	logger *zap.Logger
	tracer observability.Tracer

	pool    *pgxpool.Pool
	backend *postgres.Sandbox
	sandbox fabric.Sandbox

	desc   *schema.Description
	cache  *schema.Cached
	schema schema.Provider

	checkpoints storage.CheckpointStore
	writer      *storage.AsyncToolCallWriter
	limiter     *llm.RateLimiter

	closers []func(ctx context.Context)
}

func newApp(config *Config) (*app, error) {
	logger, err := newLogger(config.Logging)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)

	var tracer observability.Tracer = observability.NewNoOpTracer()
	if config.Telemetry.Tracing {
		tracer = observability.NewLogTracer(logger)
	}
	return &app{config: config, logger: logger, tracer: tracer}, nil
}

// close releases everything in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
	_ = a.logger.Sync()
}

func (a *app) onClose(fn func(ctx context.Context)) {
	a.closers = append(a.closers, fn)
}

// openDatabase connects to the spend database and builds the sandbox.
func (a *app) openDatabase(ctx context.Context) error {
	if a.pool != nil {
		return nil
	}
	if err := a.config.ValidateDatabase(); err != nil {
		return err
	}
	pool, err := pgxdriver.NewPool(ctx, pgxdriver.Config{
		URL:             a.config.Database.URL,
		ApplicationName: a.config.Database.ApplicationName,
		MaxConns:        a.config.Database.MaxConns,
		MinConns:        a.config.Database.MinConns,
	}, a.tracer)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.pool = pool
	a.onClose(func(context.Context) { pool.Close() })

	sandboxConfig := postgres.DefaultConfig()
	sandboxConfig.StatementTimeout = millis(a.config.Sandbox.StatementTimeoutMs, sandboxConfig.StatementTimeout)
	sandboxConfig.LockTimeout = millis(a.config.Sandbox.LockTimeoutMs, sandboxConfig.LockTimeout)
	sandboxConfig.IdleInTransactionTimeout = millis(a.config.Sandbox.IdleInTransactionTimeoutMs, sandboxConfig.IdleInTransactionTimeout)

	a.backend = postgres.NewSandbox(pool, sandboxConfig,
		postgres.WithLogger(a.logger),
		postgres.WithMaxResultRows(a.config.Limits.HardMaxRows))
	a.sandbox = fabric.NewInstrumentedSandbox(a.backend, a.tracer)
	return nil
}

// openSchema loads the schema description. A description file or
// introspection yields a cached provider that can be refreshed while serving.
func (a *app) openSchema(ctx context.Context) error {
	if a.desc != nil {
		return nil
	}
	file, introspect := a.config.Schema.File, a.config.Schema.Introspect
	if file == "" && !introspect {
		a.desc = schema.Default()
		a.schema = schema.NewStatic(a.desc)
		return nil
	}
	if introspect {
		if err := a.openDatabase(ctx); err != nil {
			return err
		}
	}

	load := func(ctx context.Context) (*schema.Description, error) {
		base, err := schema.Load(file)
		if err != nil {
			return nil, err
		}
		if !introspect {
			return base, nil
		}
		return schema.NewIntrospector(a.backend, base).Describe(ctx)
	}
	a.cache = schema.NewCached(load,
		schema.WithTTL(time.Duration(a.config.Schema.CacheTTLSeconds)*time.Second),
		schema.WithCacheLogger(a.logger))
	if err := a.cache.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to load schema description: %w", err)
	}
	a.desc = a.cache.Description()
	a.schema = a.cache
	return nil
}

// policy builds the validator policy, taking the allowlist from the schema
// description when none is configured.
func (a *app) policy() sqlguard.Policy {
	allowed := a.config.SQL.AllowedTables
	if len(allowed) == 0 && a.desc != nil {
		allowed = a.desc.TableNames()
	}
	p := sqlguard.DefaultPolicy(allowed...)
	p.RequirePublicSchema = a.config.SQL.RequirePublicSchema
	p.DeniedFunctions = append(p.DeniedFunctions, a.config.SQL.DeniedFunctions...)
	return p
}

// factTable returns the fact table and its date column.
func (a *app) factTable() (table, dateColumn string) {
	table, dateColumn = a.config.SQL.FactTable, a.config.SQL.FactDateColumn
	if a.desc != nil {
		if table == "" {
			table = a.desc.FactTable
		}
		if dateColumn == "" {
			dateColumn = a.desc.FactDateColumn
		}
	}
	return sqlguard.QualifyTable(table), dateColumn
}

func (a *app) costGate() *fabric.CostGate {
	table, dateColumn := a.factTable()
	return fabric.NewCostGate(a.sandbox, fabric.GateThresholds{
		MaxTotalCost:             a.config.Gate.MaxTotalCost,
		MaxPlanRows:              a.config.Gate.MaxPlanRows,
		RejectUnfilteredFactScan: a.config.Gate.RejectUnfilteredFactScan,
		FactTable:                table,
		FactDateColumn:           dateColumn,
	}, fabric.WithGateLogger(a.logger), fabric.WithGateTracer(a.tracer))
}

// tools builds execute_sql behind the circuit breaker and wraps the registry
// in an instrumented executor.
func (a *app) tools() (shuttle.ToolExecutor, error) {
	retention, err := observability.ParseSQLRetention(a.config.Telemetry.SQLRetention)
	if err != nil {
		return nil, err
	}
	table, dateColumn := a.factTable()

	toolConfig := shuttle.DefaultSQLToolConfig(a.policy())
	toolConfig.DefaultMaxRows = a.config.Limits.DefaultMaxRows
	toolConfig.HardMaxRows = a.config.Limits.HardMaxRows
	toolConfig.FactTable = table
	toolConfig.FactDateColumn = dateColumn
	toolConfig.Retention = retention
	toolConfig.SQLTruncateChars = a.config.Telemetry.SQLTruncateChars

	opts := []shuttle.SQLToolOption{shuttle.WithSQLToolLogger(a.logger)}
	if a.config.Sandbox.BreakerThreshold > 0 {
		breakerConfig := fabric.DefaultCircuitBreakerConfig()
		breakerConfig.FailureThreshold = a.config.Sandbox.BreakerThreshold
		breakerConfig.Logger = a.logger
		opts = append(opts, shuttle.WithCircuitBreaker(fabric.NewCircuitBreaker(breakerConfig)))
	}

	tool := shuttle.NewExecuteSQLTool(a.sandbox, a.costGate(), toolConfig, opts...)
	return shuttle.NewInstrumentedExecutor(shuttle.NewExecutor(shuttle.NewRegistry(tool)), a.tracer), nil
}

// openCheckpoints opens the configured checkpoint store and the tool-call
// writer on top of it.
func (a *app) openCheckpoints(ctx context.Context) error {
	if a.checkpoints != nil {
		return nil
	}
	var toolCalls storage.ToolCallStore
	switch a.config.Checkpoint.Backend {
	case "memory":
		store := storage.NewMemoryStore()
		a.checkpoints, toolCalls = store, store

	case "postgres":
		if err := a.openDatabase(ctx); err != nil {
			return err
		}
		migrator, err := pgstore.NewMigrator(a.pool, a.tracer)
		if err != nil {
			return err
		}
		if _, err := migrator.Up(ctx); err != nil {
			return fmt.Errorf("failed to migrate checkpoint tables: %w", err)
		}
		store, err := pgstore.NewStore(a.pool, a.tracer)
		if err != nil {
			return err
		}
		a.checkpoints, toolCalls = store, store

	case "sqlite":
		store, err := sqlite.Open(ctx, sqlite.Config{
			Path:          a.config.Checkpoint.SQLitePath,
			EncryptionKey: a.config.Checkpoint.EncryptionKey,
		}, a.tracer)
		if err != nil {
			return err
		}
		a.checkpoints, toolCalls = store, store

	default:
		return fmt.Errorf("unsupported checkpoint backend: %s", a.config.Checkpoint.Backend)
	}
	store := a.checkpoints
	a.onClose(func(context.Context) {
		if err := store.Close(); err != nil {
			a.logger.Warn("failed to close checkpoint store", zap.Error(err))
		}
	})

	writerConfig := storage.DefaultToolCallWriterConfig()
	if a.config.Telemetry.QueueSize > 0 {
		writerConfig.QueueSize = a.config.Telemetry.QueueSize
	}
	a.writer = storage.NewAsyncToolCallWriter(toolCalls, writerConfig, a.logger)
	writer := a.writer
	a.onClose(func(ctx context.Context) {
		if err := writer.Close(ctx); err != nil {
			a.logger.Warn("tool-call writer did not drain", zap.Error(err))
		}
		written, failed, dropped := writer.Stats()
		a.logger.Debug("tool-call writer closed",
			zap.Int64("written", written),
			zap.Int64("failed", failed),
			zap.Int64("dropped", dropped))
	})
	return nil
}

func (a *app) llmConfig() factory.Config {
	return factory.Config{
		Provider:       a.config.LLM.Provider,
		Model:          a.config.LLM.Model,
		APIKey:         a.config.LLM.APIKey,
		BaseURL:        a.config.LLM.BaseURL,
		MaxTokens:      a.config.LLM.MaxTokens,
		Temperature:    a.config.LLM.Temperature,
		Timeout:        time.Duration(a.config.LLM.TimeoutSeconds) * time.Second,
		BedrockRegion:  a.config.LLM.BedrockRegion,
		BedrockProfile: a.config.LLM.BedrockProfile,
	}
}

// provider creates an instrumented provider for model ("" for the
// configured one). All providers share one rate limiter.
func (a *app) provider(ctx context.Context, model string) (types.LLMProvider, error) {
	if a.limiter == nil {
		rl := a.config.LLM.RateLimit
		a.limiter = llm.NewRateLimiter(llm.RateLimiterConfig{
			Enabled:           rl.Enabled,
			RequestsPerSecond: rl.RequestsPerSecond,
			BurstCapacity:     rl.BurstCapacity,
			TokensPerMinute:   rl.TokensPerMinute,
			MaxRetries:        rl.MaxRetries,
			Logger:            a.logger,
		})
		limiter := a.limiter
		a.onClose(func(context.Context) { _ = limiter.Close() })
	}
	p, err := factory.NewProvider(ctx, a.llmConfig(), model, a.limiter, a.logger)
	if err != nil {
		return nil, err
	}
	return llm.NewInstrumentedProvider(p, a.tracer, llm.WithTokenCounter(llm.NewTokenCounter())), nil
}

// resolver caches one provider per overridden model.
func (a *app) resolver() agent.ProviderResolver {
	var (
		mu        sync.Mutex
		providers = make(map[string]types.LLMProvider)
	)
	return func(ctx context.Context, model string) (types.LLMProvider, error) {
		mu.Lock()
		defer mu.Unlock()
		if p, ok := providers[model]; ok {
			return p, nil
		}
		p, err := a.provider(ctx, model)
		if err != nil {
			return nil, err
		}
		providers[model] = p
		return p, nil
	}
}

// buildAgent wires every component into an agent.
func (a *app) buildAgent(ctx context.Context) (*agent.Agent, error) {
	if err := a.config.ValidateLLM(); err != nil {
		return nil, err
	}
	if err := a.openDatabase(ctx); err != nil {
		return nil, err
	}
	if err := a.openSchema(ctx); err != nil {
		return nil, err
	}
	if err := a.openCheckpoints(ctx); err != nil {
		return nil, err
	}
	tools, err := a.tools()
	if err != nil {
		return nil, err
	}
	provider, err := a.provider(ctx, "")
	if err != nil {
		return nil, err
	}

	agentConfig := agent.DefaultConfig()
	agentConfig.Executor.MaxIterations = a.config.Agent.MaxIterations
	agentConfig.Executor.MaxRetries = a.config.Agent.MaxRetries
	agentConfig.FallbackRecencyDays = a.config.Agent.FallbackRecencyDays
	agentConfig.Retry = agent.RetryConfig{
		Enabled:      a.config.LLM.Retry.Enabled,
		MaxRetries:   a.config.LLM.Retry.MaxRetries,
		InitialDelay: time.Duration(a.config.LLM.Retry.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(a.config.LLM.Retry.MaxDelayMs) * time.Millisecond,
		Multiplier:   a.config.LLM.Retry.Multiplier,
	}

	return agent.New(provider, tools, a.schema, a.desc, a.checkpoints,
		agent.WithConfig(agentConfig),
		agent.WithToolCallSink(a.writer),
		agent.WithProviderResolver(a.resolver()),
		agent.WithTracer(a.tracer),
		agent.WithLogger(a.logger),
	), nil
}

func millis(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
