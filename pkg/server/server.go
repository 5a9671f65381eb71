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

// Package server exposes agent turns over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/pkg/agent"
)

// Turner runs one agent turn.
type Turner interface {
	Turn(ctx context.Context, req agent.TurnRequest) (*agent.TurnResponse, error)
}

// Pinger checks database connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns a disabled CORS configuration that allows any
// origin once enabled.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", RequestIDHeader},
		MaxAge:         86400,
	}
}

// Config configures the HTTP server.
type Config struct {
	Addr              string
	CORS              CORSConfig
	ReadHeaderTimeout time.Duration
	HealthTimeout     time.Duration
	// MaxBodyBytes bounds the turn request body.
	MaxBodyBytes int64
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		CORS:              DefaultCORSConfig(),
		ReadHeaderTimeout: 10 * time.Second,
		HealthTimeout:     2 * time.Second,
		MaxBodyBytes:      1 << 20,
	}
}

// Server serves POST /v1/turns and GET /healthz.
type Server struct {
	turner     Turner
	pinger     Pinger
	config     Config
	logger     *zap.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New creates a server. pinger may be nil when no database is configured.
func New(turner Turner, pinger Pinger, config Config, logger *zap.Logger) *Server {
	def := DefaultConfig()
	if config.Addr == "" {
		config.Addr = def.Addr
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = def.ReadHeaderTimeout
	}
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = def.HealthTimeout
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = def.MaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{turner: turner, pinger: pinger, config: config, logger: logger}
	s.engine = s.routes()
	s.httpServer = &http.Server{
		Addr:              config.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger), requestID())
	if s.config.CORS.Enabled {
		r.Use(cors(s.config.CORS))
	}
	r.GET("/healthz", s.handleHealth)
	r.POST("/v1/turns", s.handleTurn)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server. In-flight turns see their request
// context cancelled when ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}
