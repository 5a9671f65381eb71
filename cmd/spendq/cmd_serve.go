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
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/spendq/internal/version"
	"github.com/teradata-labs/spendq/pkg/schema"
	"github.com/teradata-labs/spendq/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve agent turns over HTTP",
	Long: `Start the HTTP endpoint.

  POST /v1/turns   run one turn
  GET  /healthz    database connectivity

The server shuts down gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := config.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(config)
	if err != nil {
		return err
	}
	defer closeApp(a)
	logger := a.logger

	ag, err := a.buildAgent(ctx)
	if err != nil {
		return err
	}

	if a.cache != nil && config.Schema.RefreshCron != "" {
		refresher, err := schema.NewRefresher(a.cache, config.Schema.RefreshCron, logger)
		if err != nil {
			return err
		}
		if err := refresher.Start(); err != nil {
			return err
		}
		defer refresher.Stop()
	}
	if a.cache != nil && config.Schema.File != "" && config.Schema.Watch {
		watcher, err := schema.NewWatcher(a.cache, config.Schema.File, logger)
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Addr = config.Server.Addr
	serverConfig.CORS.Enabled = config.Server.CORS.Enabled
	if len(config.Server.CORS.AllowedOrigins) > 0 {
		serverConfig.CORS.AllowedOrigins = config.Server.CORS.AllowedOrigins
	}
	srv := server.New(ag, a.sandbox, serverConfig, logger)

	logger.Info("starting spendq server",
		zap.String("version", version.Get()),
		zap.String("addr", serverConfig.Addr),
		zap.String("llm_provider", config.LLM.Provider),
		zap.String("checkpoint_backend", config.Checkpoint.Backend))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped")
	return nil
}
