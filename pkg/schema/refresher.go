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
package schema

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Refresher calls Refresh on a cron schedule.
type Refresher struct {
	cache    *Cached
	schedule string
	timeout  time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	engine  *cron.Cron
	running bool
}

// NewRefresher validates schedule (standard five-field cron syntax or a
// descriptor such as @hourly) and creates a stopped refresher.
func NewRefresher(cache *Cached, schedule string, logger *zap.Logger) (*Refresher, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid schema refresh schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		cache:    cache,
		schedule: schedule,
		timeout:  30 * time.Second,
		logger:   logger,
	}, nil
}

// Start begins scheduled refreshes. Calling Start twice is an error.
func (r *Refresher) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("schema refresher already running")
	}

	engine := cron.New()
	if _, err := engine.AddFunc(r.schedule, r.run); err != nil {
		return fmt.Errorf("failed to schedule schema refresh: %w", err)
	}
	engine.Start()
	r.engine = engine
	r.running = true
	r.logger.Info("schema refresher started", zap.String("schedule", r.schedule))
	return nil
}

// Stop halts scheduling and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	engine := r.engine
	r.engine = nil
	r.running = false
	r.mu.Unlock()

	if engine != nil {
		<-engine.Stop().Done()
		r.logger.Info("schema refresher stopped")
	}
}

func (r *Refresher) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	if err := r.cache.Refresh(ctx); err != nil {
		r.logger.Error("scheduled schema refresh failed", zap.Error(err))
		return
	}
	r.logger.Info("scheduled schema refresh completed", zap.Duration("duration", time.Since(start)))
}
