// Copyright 2026 Atelier
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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/cli"
	"github.com/atelierhq/atelier/pkg/core"
)

// stopTimeout bounds the drain of in-flight requests and jobs on shutdown.
const stopTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server, scheduler, and worker pool",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := cli.Load(cmd)
	if err != nil {
		return err
	}
	logger, err := cli.BuildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.File != "" {
		logger.Info("Configuration file loaded", zap.String("path", cfg.File))
	}

	ctx := context.Background()
	c, err := core.New(ctx, core.Config{Settings: cfg.Settings, Logger: logger})
	if err != nil {
		return err
	}
	c.Start(ctx)

	serveErr := make(chan error, 1)
	go func() { serveErr <- c.Serve(ctx) }()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		// The listener failed before any signal arrived.
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		c.Stop(stopCtx)
		return err
	case <-sigch:
		logger.Info("Shutting down gracefully... (press Ctrl+C again to force)")
		go func() {
			<-sigch
			logger.Warn("Force shutdown requested")
			os.Exit(1)
		}()
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		c.Stop(stopCtx)
	}
	return nil
}
