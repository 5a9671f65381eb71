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
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/teradata-labs/spendq/pkg/agent"
	"github.com/teradata-labs/spendq/pkg/storage"
)

// StatusClientClosedRequest is logged when the caller went away mid-turn.
const StatusClientClosedRequest = 499

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleTurn(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxBodyBytes)

	var req agent.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.RequestID == "" {
		req.RequestID = c.GetString(requestIDKey)
	}

	// The request context is cancelled when the client disconnects, which
	// aborts the turn and its in-flight query.
	resp, err := s.turner.Turn(c.Request.Context(), req)
	if err != nil {
		status := turnErrorStatus(c.Request.Context(), err)
		fields := []zap.Field{
			zap.String("conversation_id", req.ConversationID),
			zap.String("request_id", req.RequestID),
			zap.Int("status", status),
			zap.Error(err),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Error("turn failed", fields...)
		} else {
			s.logger.Info("turn rejected", fields...)
		}
		c.JSON(status, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func turnErrorStatus(ctx context.Context, err error) int {
	switch {
	case ctx.Err() != nil:
		return StatusClientClosedRequest
	case errors.Is(err, agent.ErrNoQuestion):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, agent.ErrModelUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.pinger == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.HealthTimeout)
	defer cancel()
	if err := s.pinger.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
