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

// Command atelier-worker runs the scheduler and job worker pool without
// taking public API traffic. It binds its own HTTP surface on :8001 by
// default so probes can hit /health and /stats next to an API process
// on :8000.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/cli"
	"github.com/atelierhq/atelier/internal/version"
	"github.com/atelierhq/atelier/pkg/core"
)

const (
	// defaultHealthAddr keeps worker probes off the API port when no
	// address was configured.
	defaultHealthAddr = ":8001"

	stopTimeout = 10 * time.Second
)

var rootCmd = &cobra.Command{
	Use:   "atelier-worker",
	Short: "Atelier worker - scheduler and job execution daemon",
	Long: `Atelier worker (atelier-worker) runs the cron scheduler and the job
worker pool against the shared database and Redis queue, leaving API
traffic to an atelierd process. Scheduled runs are claimed atomically,
so any number of worker processes can tick the same schedules.

Without REDIS_URL the queue is process-local: this worker executes only
what its own scheduler enqueues, and jobs submitted through the API
process never reach it.`,
	Version:       version.Get(),
	Args:          cobra.NoArgs,
	RunE:          runWorker,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cli.Flags(rootCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	// The platform default address belongs to the API process. Unless an
	// address was given, move the worker's probe surface next door.
	if !cmd.Flags().Changed("addr") && os.Getenv("ADDR") == "" && cfg.Settings.Addr == core.DefaultAddr {
		cfg.Settings.Addr = defaultHealthAddr
	}

	if cfg.Settings.RedisURL == "" {
		logger.Warn("REDIS_URL not set; only jobs scheduled by this process will run",
			zap.String("hint", "point the worker and the API at the same Redis to share the queue"))
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

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
