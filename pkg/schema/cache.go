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
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// LoadFunc produces a fresh description.
type LoadFunc func(ctx context.Context) (*Description, error)

// Cached renders descriptions produced by a LoadFunc and serves the last good
// rendering until a refresh succeeds. Concurrent loads are collapsed.
type Cached struct {
	load   LoadFunc
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	desc     *Description
	text     string
	loadedAt time.Time
}

// CacheOption configures a Cached provider.
type CacheOption func(*Cached)

// WithTTL reloads on access once the cached text is older than ttl. Zero
// means the text is only replaced by Refresh.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cached) {
		c.ttl = ttl
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *zap.Logger) CacheOption {
	return func(c *Cached) {
		c.logger = logger
	}
}

// NewCached creates a cached provider. Nothing is loaded until first use.
func NewCached(load LoadFunc, opts ...CacheOption) *Cached {
	c := &Cached{load: load, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Context implements Provider.
func (c *Cached) Context(ctx context.Context) (string, error) {
	c.mu.RLock()
	text, loadedAt := c.text, c.loadedAt
	c.mu.RUnlock()

	if text != "" && (c.ttl <= 0 || c.now().Sub(loadedAt) < c.ttl) {
		return text, nil
	}
	if err := c.Refresh(ctx); err != nil {
		if text != "" {
			c.logger.Warn("schema refresh failed, serving cached schema", zap.Error(err))
			return text, nil
		}
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.text, nil
}

// Description returns the last loaded description, or nil.
func (c *Cached) Description() *Description {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.desc
}

// Refresh loads and renders a new description. On failure the previous one
// is kept.
func (c *Cached) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		d, err := c.load(ctx)
		if err != nil {
			return nil, err
		}
		text := Render(d)
		c.mu.Lock()
		c.desc, c.text, c.loadedAt = d, text, c.now()
		c.mu.Unlock()
		c.logger.Debug("schema context refreshed", zap.Int("tables", len(d.Tables)))
		return nil, nil
	})
	return err
}

var (
	_ Provider = (*Cached)(nil)
	_ Provider = (*Static)(nil)
)
