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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/pkg/observability"
	"github.com/teradata-labs/spendq/pkg/schema"
	"github.com/teradata-labs/spendq/pkg/shuttle"
	"github.com/teradata-labs/spendq/pkg/storage"
	"github.com/teradata-labs/spendq/pkg/types"
)

// ErrNoQuestion is returned when a turn request does not end with a user
// message.
var ErrNoQuestion = errors.New("turn request must end with a user message")

// InputMessage is one message supplied by the caller.
type InputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnRequest starts a turn. ConversationID and RequestID are generated
// when empty; Model selects a different model for this turn.
type TurnRequest struct {
	Messages       []InputMessage `json:"messages"`
	Model          string         `json:"model,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	RequestID      string         `json:"requestId,omitempty"`
}

// TokenUsage is the token total of a turn.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// TurnMetadata reports where the turn spent its time and money. CostUSD is
// nil when a model without pricing was used.
type TurnMetadata struct {
	TotalTimeMs int64                     `json:"totalTimeMs"`
	LLMTimeMs   int64                     `json:"llmTimeMs"`
	DBTimeMs    int64                     `json:"dbTimeMs"`
	Tokens      TokenUsage                `json:"tokens"`
	CostUSD     *float64                  `json:"costUsd,omitempty"`
	Status      observability.UsageStatus `json:"status"`
}

// TurnResponse is the answer to a turn.
type TurnResponse struct {
	Text           string       `json:"text"`
	ConversationID string       `json:"conversationId"`
	RequestID      string       `json:"requestId"`
	Metadata       TurnMetadata `json:"metadata"`
}

// ProviderResolver returns the provider for a per-turn model override.
type ProviderResolver func(ctx context.Context, model string) (types.LLMProvider, error)

// Config configures an Agent.
type Config struct {
	Executor ExecutorConfig
	Retry    RetryConfig
	// FallbackRecencyDays is the window of the default fact-table filter.
	FallbackRecencyDays int
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Executor:            DefaultExecutorConfig(),
		Retry:               DefaultRetryConfig(),
		FallbackRecencyDays: 365,
	}
}

// Agent runs turns: load the checkpoint, plan, execute, save.
type Agent struct {
	planner  *Planner
	executor *Executor
	store    storage.CheckpointStore
	sink     observability.ToolCallSink
	resolver ProviderResolver
	tracer   observability.Tracer
	logger   *zap.Logger
	locks    *keyedMutex
}

// Option configures an Agent.
type Option func(*agentOptions)

type agentOptions struct {
	config   Config
	sink     observability.ToolCallSink
	resolver ProviderResolver
	tracer   observability.Tracer
	logger   *zap.Logger
}

// WithConfig sets the agent configuration.
func WithConfig(config Config) Option {
	return func(o *agentOptions) {
		o.config = config
	}
}

// WithToolCallSink persists every tool-call span of every turn.
func WithToolCallSink(sink observability.ToolCallSink) Option {
	return func(o *agentOptions) {
		o.sink = sink
	}
}

// WithProviderResolver enables TurnRequest.Model.
func WithProviderResolver(resolver ProviderResolver) Option {
	return func(o *agentOptions) {
		o.resolver = resolver
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer observability.Tracer) Option {
	return func(o *agentOptions) {
		o.tracer = tracer
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *agentOptions) {
		o.logger = logger
	}
}

// New creates an agent. desc supplies the fact-table rules; schemaProvider
// supplies the schema text shown to the model. Token and cost accounting
// comes from provider, so it is normally an llm.InstrumentedProvider.
func New(provider types.LLMProvider, tools shuttle.ToolExecutor, schemaProvider schema.Provider, desc *schema.Description,
	store storage.CheckpointStore, opts ...Option) *Agent {
	o := agentOptions{config: DefaultConfig(), tracer: observability.NewNoOpTracer(), logger: zap.L()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.config.FallbackRecencyDays <= 0 {
		o.config.FallbackRecencyDays = DefaultConfig().FallbackRecencyDays
	}
	rules := FactRules{
		FactTable:       desc.FactTable,
		DateColumn:      desc.FactDateColumn,
		DimensionTables: desc.DimensionTables(),
		RecencyDays:     o.config.FallbackRecencyDays,
	}
	return &Agent{
		planner:  NewPlanner(provider, schemaProvider, rules, o.config.Retry, o.tracer, o.logger),
		executor: NewExecutor(provider, tools, schemaProvider, rules, o.config.Executor, o.config.Retry, o.tracer, o.logger),
		store:    store,
		sink:     o.sink,
		resolver: o.resolver,
		tracer:   o.tracer,
		logger:   o.logger,
		locks:    newKeyedMutex(),
	}
}

// Turn answers the last user message of req. A failed turn saves nothing;
// the returned error wraps the cause (ErrModelUnavailable, a storage error
// or the context error).
func (a *Agent) Turn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	unlock := a.locks.Lock(conversationID)
	defer unlock()

	rec := observability.NewTurnRecorder(conversationID, requestID,
		observability.WithToolCallSink(a.sink),
		observability.WithRecorderLogger(a.logger))
	ctx = observability.WithRecorder(ctx, rec)
	ctx, span := a.tracer.StartSpan(ctx, observability.SpanAgentTurn)
	defer a.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrConversationID, conversationID)
	span.SetAttribute(observability.AttrRequestID, requestID)

	state, err := a.run(ctx, conversationID, req, rec)
	if err != nil {
		status := observability.UsageError
		if ctx.Err() != nil {
			status = observability.UsageAborted
		}
		span.RecordError(err)
		usage := rec.Finish(status)
		observability.LogUsage(a.logger, usage)
		a.recordTurnMetrics(usage)
		return nil, err
	}

	usage := rec.Finish(observability.UsageOK)
	observability.LogUsage(a.logger, usage)
	a.recordTurnMetrics(usage)
	return &TurnResponse{
		Text:           state.LastAssistantText(),
		ConversationID: conversationID,
		RequestID:      requestID,
		Metadata:       metadataFrom(usage),
	}, nil
}

func (a *Agent) run(ctx context.Context, conversationID string, req TurnRequest, rec *observability.TurnRecorder) (*State, error) {
	planner, executor := a.planner, a.executor
	if req.Model != "" && a.resolver != nil {
		provider, err := a.resolver(ctx, req.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to select model %q: %w", req.Model, err)
		}
		planner, executor = planner.withLLM(provider), executor.withLLM(provider)
	}

	state, version, err := a.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	incoming, err := newMessages(req.Messages, version > 0)
	if err != nil {
		return nil, err
	}
	state.BeginTurn()
	state.Apply(Update{Messages: incoming})

	if err := a.step(ctx, &state, rec, planner.Plan); err != nil {
		return nil, err
	}
	if state.Phase == PhaseExecuting {
		if err := a.step(ctx, &state, rec, executor.Execute); err != nil {
			return nil, err
		}
	}
	if state.Phase != PhaseDone {
		return nil, fmt.Errorf("turn ended in phase %q", state.Phase)
	}

	if err := a.save(ctx, conversationID, version, state); err != nil {
		return nil, err
	}
	return &state, nil
}

// step runs one node and merges its update together with the spans it
// recorded.
func (a *Agent) step(ctx context.Context, state *State, rec *observability.TurnRecorder,
	node func(context.Context, State) (Update, error)) error {
	llmBefore, toolsBefore := rec.Counts()
	update, err := node(ctx, state.Clone())
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	update.LLMSpans, update.ToolSpans = rec.Since(llmBefore, toolsBefore)
	for _, s := range update.ToolSpans {
		update.DBTimeMs += s.DBTime().Milliseconds()
	}
	state.Apply(update)
	return nil
}

func (a *Agent) load(ctx context.Context, conversationID string) (State, int64, error) {
	ctx, span := a.tracer.StartSpan(ctx, observability.SpanCheckpointLoad)
	defer a.tracer.EndSpan(span)

	cp, err := a.store.Load(ctx, conversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return State{ConversationID: conversationID, Phase: PhaseDone}, 0, nil
	}
	if err != nil {
		span.RecordError(err)
		return State{}, 0, fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}
	var state State
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return State{}, 0, fmt.Errorf("failed to decode conversation %s: %w", conversationID, err)
	}
	state.ConversationID = conversationID
	return state, cp.Version, nil
}

func (a *Agent) save(ctx context.Context, conversationID string, version int64, state State) error {
	ctx, span := a.tracer.StartSpan(ctx, observability.SpanCheckpointSave)
	defer a.tracer.EndSpan(span)

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode conversation %s: %w", conversationID, err)
	}
	if _, err := a.store.Save(ctx, conversationID, version, data); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save conversation %s: %w", conversationID, err)
	}
	return nil
}

func (a *Agent) recordTurnMetrics(usage observability.UsageRecord) {
	labels := map[string]string{"status": string(usage.Status)}
	a.tracer.RecordMetric(observability.MetricAgentTurns, 1, labels)
	a.tracer.RecordMetric(observability.MetricAgentTurnDuration, float64(usage.TotalMs), labels)
}

// newMessages picks what a request adds to the conversation. A new
// conversation takes the caller's user and assistant history; an existing
// one takes only the final user message, since the rest is already stored.
func newMessages(input []InputMessage, existing bool) ([]types.Message, error) {
	if len(input) == 0 || input[len(input)-1].Role != types.RoleUser || strings.TrimSpace(input[len(input)-1].Content) == "" {
		return nil, ErrNoQuestion
	}
	if existing {
		return []types.Message{types.NewUserMessage(input[len(input)-1].Content)}, nil
	}
	var out []types.Message
	for _, m := range input {
		switch m.Role {
		case types.RoleUser:
			out = append(out, types.NewUserMessage(m.Content))
		case types.RoleAssistant:
			out = append(out, types.NewAssistantMessage(m.Content))
		}
	}
	return out, nil
}

func metadataFrom(usage observability.UsageRecord) TurnMetadata {
	md := TurnMetadata{
		TotalTimeMs: usage.TotalMs,
		LLMTimeMs:   usage.LLMMs,
		DBTimeMs:    usage.DBMs,
		Tokens: TokenUsage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		},
		Status: usage.Status,
	}
	if !usage.CostUnknown {
		cost := usage.CostUSD
		md.CostUSD = &cost
	}
	return md
}

