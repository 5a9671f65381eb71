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
package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/pkg/observability"
)

// ToolCallWriterConfig configures an AsyncToolCallWriter.
type ToolCallWriterConfig struct {
	// QueueSize bounds the number of spans waiting to be written.
	QueueSize int
	// BatchSize is the maximum number of spans per insert.
	BatchSize int
	// FlushInterval bounds how long a partial batch waits.
	FlushInterval time.Duration
	// WriteTimeout bounds one insert.
	WriteTimeout time.Duration
}

// DefaultToolCallWriterConfig returns the defaults.
func DefaultToolCallWriterConfig() ToolCallWriterConfig {
	return ToolCallWriterConfig{
		QueueSize:     1024,
		BatchSize:     64,
		FlushInterval: 500 * time.Millisecond,
		WriteTimeout:  5 * time.Second,
	}
}

// AsyncToolCallWriter persists tool-call spans in the background. Submit
// never blocks: when the queue is full the span is dropped and logged.
// Write failures are logged and never reach the turn.
type AsyncToolCallWriter struct {
	store  ToolCallStore
	config ToolCallWriterConfig
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan observability.ToolCallSpan
	done   chan struct{}

	dropped atomic.Int64
	failed  atomic.Int64
	written atomic.Int64
}

// NewAsyncToolCallWriter starts the background worker.
func NewAsyncToolCallWriter(store ToolCallStore, config ToolCallWriterConfig, logger *zap.Logger) *AsyncToolCallWriter {
	def := DefaultToolCallWriterConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = def.FlushInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &AsyncToolCallWriter{
		store:  store,
		config: config,
		logger: logger,
		queue:  make(chan observability.ToolCallSpan, config.QueueSize),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Submit implements observability.ToolCallSink.
func (w *AsyncToolCallWriter) Submit(span observability.ToolCallSpan) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.drop(span, "writer closed")
		return
	}
	select {
	case w.queue <- span:
	default:
		w.drop(span, "queue full")
	}
}

func (w *AsyncToolCallWriter) drop(span observability.ToolCallSpan, reason string) {
	w.dropped.Add(1)
	w.logger.Warn("dropping tool call span",
		zap.String("reason", reason),
		zap.String("conversation_id", span.ConversationID),
		zap.String("request_id", span.RequestID),
		zap.String("span_id", span.ID))
}

func (w *AsyncToolCallWriter) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]observability.ToolCallSpan, 0, w.config.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.write(batch)
		batch = batch[:0]
	}

	for {
		select {
		case span, ok := <-w.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, span)
			if len(batch) >= w.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (w *AsyncToolCallWriter) write(batch []observability.ToolCallSpan) {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
	defer cancel()

	spans := append([]observability.ToolCallSpan(nil), batch...)
	if err := w.store.InsertToolCalls(ctx, spans); err != nil {
		w.failed.Add(int64(len(spans)))
		w.logger.Warn("failed to persist tool calls",
			zap.Int("count", len(spans)),
			zap.Error(err))
		return
	}
	w.written.Add(int64(len(spans)))
}

// Close stops accepting spans, drains the queue and waits for the worker or
// for ctx to end.
func (w *AsyncToolCallWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports how many spans were written, failed and dropped.
func (w *AsyncToolCallWriter) Stats() (written, failed, dropped int64) {
	return w.written.Load(), w.failed.Load(), w.dropped.Load()
}

var _ observability.ToolCallSink = (*AsyncToolCallWriter)(nil)
