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
package observability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogTracer exports finished spans and metrics as structured log lines.
// Spans are logged at debug level, failed spans at warn.
type LogTracer struct {
	logger *zap.Logger
}

// NewLogTracer creates a tracer that writes to logger (zap.L() when nil).
func NewLogTracer(logger *zap.Logger) *LogTracer {
	if logger == nil {
		logger = zap.L()
	}
	return &LogTracer{logger: logger.Named("trace")}
}

// StartSpan creates a span linked to any parent in ctx.
func (t *LogTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	span := newSpan(ctx, name, uuid.NewString(), opts)
	return ContextWithSpan(ctx, span), span
}

// EndSpan stamps the span and logs it.
func (t *LogTracer) EndSpan(span *Span) {
	if span == nil {
		return
	}
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)

	fields := make([]zap.Field, 0, len(span.Attributes)+5)
	fields = append(fields,
		zap.String("span", span.Name),
		zap.String("trace_id", span.TraceID),
		zap.String("span_id", span.SpanID),
		zap.String("parent_id", span.ParentID),
		zap.Duration("duration", span.Duration),
	)
	for k, v := range span.Attributes {
		fields = append(fields, zap.Any(k, v))
	}

	if span.Status.Code == StatusError {
		t.logger.Warn("span failed", append(fields, zap.String("status", span.Status.Message))...)
		return
	}
	t.logger.Debug("span", fields...)
}

// RecordMetric logs the metric at debug level.
func (t *LogTracer) RecordMetric(name string, value float64, labels map[string]string) {
	t.logger.Debug("metric",
		zap.String("name", name),
		zap.Float64("value", value),
		zap.Any("labels", labels))
}

// RecordEvent logs the event at info level.
func (t *LogTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	fields := []zap.Field{zap.String("event", name), zap.Any("attributes", attributes)}
	if span := SpanFromContext(ctx); span != nil {
		fields = append(fields, zap.String("trace_id", span.TraceID))
	}
	t.logger.Info("event", fields...)
}

// Flush syncs the underlying logger.
func (t *LogTracer) Flush(ctx context.Context) error {
	_ = t.logger.Sync()
	return nil
}

var _ Tracer = (*LogTracer)(nil)
