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
package shuttle

import (
	"context"
	"fmt"
	"time"
)

// Error codes shared by all tools.
const (
	CodeUnknownTool      = "unknown_tool"
	CodeInvalidArguments = "invalid_arguments"
)

// ToolExecutor runs a tool call by name.
type ToolExecutor interface {
	Execute(ctx context.Context, toolName string, params map[string]interface{}) (*Result, error)
	ListTools() []Tool
}

// ArgumentRejecter is implemented by tools that report calls rejected by
// argument validation themselves, for example to record them.
type ArgumentRejecter interface {
	RejectArguments(ctx context.Context, params map[string]interface{}, err error) *Result
}

// Executor dispatches tool calls to registered tools. Parameter names are
// normalized to the tool's schema and validated before the tool runs.
type Executor struct {
	registry *Registry
}

// NewExecutor creates an executor over registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Execute runs toolName. An unknown tool or invalid arguments produce a
// failed Result rather than an error so the model can correct itself.
func (e *Executor) Execute(ctx context.Context, toolName string, params map[string]interface{}) (*Result, error) {
	tool, ok := e.registry.Get(toolName)
	if !ok {
		return &Result{
			Success: false,
			Error: &Error{
				Code:       CodeUnknownTool,
				Message:    fmt.Sprintf("unknown tool %q", toolName),
				Retryable:  true,
				Suggestion: fmt.Sprintf("Use one of: %v", e.toolNames()),
			},
		}, nil
	}
	return e.ExecuteWithTool(ctx, tool, params)
}

// ExecuteWithTool runs a specific tool instance.
func (e *Executor) ExecuteWithTool(ctx context.Context, tool Tool, params map[string]interface{}) (*Result, error) {
	start := time.Now()
	schema := tool.InputSchema()
	params = normalizeParametersToSchema(schema, params)

	if err := ValidateParams(schema, params); err != nil {
		if r, ok := tool.(ArgumentRejecter); ok {
			return r.RejectArguments(ctx, params, err), nil
		}
		return &Result{
			Success: false,
			Error: &Error{
				Code:       CodeInvalidArguments,
				Message:    err.Error(),
				Retryable:  true,
				Suggestion: "Call the tool again with arguments matching its input schema.",
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	result, err := tool.Execute(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("tool %s failed: %w", tool.Name(), err)
	}
	if result.ExecutionTimeMs == 0 {
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
	}
	return result, nil
}

// ListTools returns the registered tools.
func (e *Executor) ListTools() []Tool {
	return e.registry.ListTools()
}

func (e *Executor) toolNames() []string {
	tools := e.registry.ListTools()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return names
}

var _ ToolExecutor = (*Executor)(nil)
