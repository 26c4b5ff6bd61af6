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

// Package core assembles the platform. A Core value owns every
// long-lived component: the store, the provider adapters, the model
// router, the job queue, the event bus, the tool and prompt
// registries, the workflow engine, the chat service, the scheduler,
// the worker pool, and the HTTP surface. Everything is built once
// from an immutable Settings snapshot and passed by explicit
// reference; there is no package-level state to reach for.
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/secrets"
	"github.com/atelierhq/atelier/pkg/chat"
	"github.com/atelierhq/atelier/pkg/events"
	"github.com/atelierhq/atelier/pkg/llm"
	"github.com/atelierhq/atelier/pkg/llm/factory"
	"github.com/atelierhq/atelier/pkg/prompts"
	"github.com/atelierhq/atelier/pkg/queue"
	"github.com/atelierhq/atelier/pkg/router"
	"github.com/atelierhq/atelier/pkg/scheduler"
	"github.com/atelierhq/atelier/pkg/server"
	"github.com/atelierhq/atelier/pkg/storage"
	"github.com/atelierhq/atelier/pkg/tools"
	"github.com/atelierhq/atelier/pkg/types"
	"github.com/atelierhq/atelier/pkg/worker"
	"github.com/atelierhq/atelier/pkg/workflow"
)

// redisDialTimeout bounds the startup reachability probe. A
// configured but unreachable Redis is a deployment fault worth
// failing on, not falling back from.
const redisDialTimeout = 5 * time.Second

// Config assembles a Core.
type Config struct {
	Settings Settings
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Core is the assembled platform. Fields are exported so commands and
// embedders hand exactly the collaborators each caller needs.
type Core struct {
	Settings Settings

	Store     *storage.Store
	Sealer    *secrets.Sealer
	Providers map[string]llm.Provider
	Router    *router.Router
	Queue     queue.Queue
	Bus       events.Bus
	Tools     *tools.Registry
	Prompts   *prompts.Registry
	Engine    *workflow.Engine
	Chat      *chat.Service
	Scheduler *scheduler.Scheduler
	Worker    *worker.Worker
	Server    *server.Server

	logger *zap.Logger
	redis  *redis.Client

	stopOnce sync.Once
}

// New builds the platform from cfg. The store is opened and migrated,
// Redis is probed when configured, the builtin tool catalog is synced,
// and every component is wired; nothing starts running until Start.
func New(ctx context.Context, cfg Config) (*Core, error) {
	s := cfg.Settings.normalized()
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock

	store, err := storage.Open(ctx, storage.Config{
		DatabaseURL: s.DatabaseURL,
		Logger:      logger,
		Clock:       clock,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	sealer, err := secrets.New(s.SecretKey)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	c := &Core{
		Settings: s,
		Store:    store,
		Sealer:   sealer,
		logger:   logger,
	}

	if err := c.buildTransport(ctx, s, logger, clock); err != nil {
		_ = store.Close()
		return nil, err
	}

	c.Providers = buildProviders(s, logger)
	c.Router = router.New(router.Config{
		Providers: c.Providers,
		Store:     store,
		Secrets:   sealer,
		Logger:    logger,
		Clock:     clock,
	})

	toolReg, err := tools.NewRegistry(tools.RegistryConfig{Store: store, Logger: logger})
	if err != nil {
		c.closeTransport()
		_ = store.Close()
		return nil, err
	}
	builtins := tools.Builtin(nil)
	for _, t := range builtins {
		toolReg.Register(t)
	}
	c.Tools = toolReg
	if err := ensureBuiltinCatalog(ctx, store, builtins); err != nil {
		c.closeTransport()
		_ = store.Close()
		return nil, fmt.Errorf("sync builtin tool catalog: %w", err)
	}

	var files *prompts.FileRegistry
	if s.PromptsDir != "" {
		files = prompts.NewFileRegistry(s.PromptsDir)
		if err := files.Reload(ctx); err != nil {
			// The directory is optional; stored templates still work.
			logger.Warn("Prompt template directory not loaded",
				zap.String("dir", s.PromptsDir),
				zap.Error(err))
		}
	}
	promptReg, err := prompts.New(prompts.Config{Store: store, Files: files, Logger: logger})
	if err != nil {
		c.closeTransport()
		_ = store.Close()
		return nil, err
	}
	c.Prompts = promptReg

	engine, err := workflow.New(workflow.Config{
		Store:          store,
		Bus:            c.Bus,
		Router:         c.Router,
		Tools:          toolReg,
		Prompts:        promptReg,
		Logger:         logger,
		Clock:          clock,
		MaxTransitions: s.MaxIterations,
	})
	if err != nil {
		c.closeTransport()
		_ = store.Close()
		return nil, err
	}
	c.Engine = engine

	chatSvc, err := chat.New(chat.Config{
		Store:  store,
		Router: c.Router,
		Bus:    c.Bus,
		Logger: logger,
		Clock:  clock,
	})
	if err != nil {
		c.closeTransport()
		_ = store.Close()
		return nil, err
	}
	c.Chat = chatSvc

	sched, err := scheduler.New(scheduler.Config{
		Store:           store,
		Engine:          engine,
		Queue:           c.Queue,
		Logger:          logger,
		Clock:           clock,
		DefaultTimezone: s.Timezone,
	})
	if err != nil {
		c.closeTransport()
		_ = store.Close()
		return nil, err
	}
	c.Scheduler = sched

	pool, err := worker.New(worker.Config{
		Queue:      c.Queue,
		Engine:     engine,
		Chat:       chatSvc,
		Prompts:    promptReg,
		Router:     c.Router,
		Tools:      toolReg,
		Store:      store,
		Logger:     logger,
		Clock:      clock,
		MaxJobs:    s.MaxJobs,
		JobTimeout: s.JobTimeout,
	})
	if err != nil {
		c.closeTransport()
		_ = store.Close()
		return nil, err
	}
	c.Worker = pool

	corsCfg := server.DefaultCORSConfig()
	corsCfg.AllowedOrigins = s.AllowedOrigins
	c.Server = server.New(server.Config{
		Addr:      s.Addr,
		Chat:      chatSvc,
		Engine:    engine,
		Scheduler: sched,
		Queue:     c.Queue,
		Bus:       c.Bus,
		Store:     store,
		Health:    c.Router.Health(),
		Logger:    logger,
		Clock:     clock,
		CORS:      &corsCfg,
	})

	logger.Info("Core assembled",
		zap.String("database", s.DatabaseURL),
		zap.Bool("redis", c.redis != nil),
		zap.Int("providers", len(c.Providers)),
		zap.String("addr", s.Addr))
	return c, nil
}

// buildTransport selects the queue and bus backends. With REDIS_URL
// both live in Redis and survive the process; without it both are
// process-local.
func (c *Core) buildTransport(ctx context.Context, s Settings, logger *zap.Logger, clock func() time.Time) error {
	if s.RedisURL == "" {
		c.Queue = queue.NewMemoryQueue()
		c.Bus = events.NewMemoryBus(events.MemoryBusConfig{Logger: logger, Clock: clock})
		return nil
	}

	opts, err := redis.ParseURL(s.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis unreachable at %s: %w", opts.Addr, err)
	}

	q, err := queue.NewRedisQueue(queue.RedisQueueConfig{Redis: client, Logger: logger, Clock: clock})
	if err != nil {
		_ = client.Close()
		return err
	}
	bus, err := events.NewRedisBus(events.RedisBusConfig{Redis: client, Logger: logger, Clock: clock})
	if err != nil {
		_ = client.Close()
		return err
	}

	c.redis = client
	c.Queue = q
	c.Bus = bus
	return nil
}

func (c *Core) closeTransport() {
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Queue != nil {
		_ = c.Queue.Close()
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
}

// buildProviders constructs one adapter per configured platform key.
func buildProviders(s Settings, logger *zap.Logger) map[string]llm.Provider {
	keys := []struct {
		name string
		key  string
	}{
		{"openai", s.OpenAIKey},
		{"anthropic", s.AnthropicKey},
		{"groq", s.GroqKey},
	}

	providers := make(map[string]llm.Provider)
	for _, k := range keys {
		if k.key == "" {
			continue
		}
		p, err := factory.New(factory.Config{Provider: k.name, APIKey: k.key})
		if err != nil {
			logger.Warn("Provider not constructed", zap.String("provider", k.name), zap.Error(err))
			continue
		}
		providers[k.name] = p
		logger.Info("Provider configured", zap.String("provider", k.name))
	}
	if len(providers) == 0 {
		logger.Warn("No LLM providers configured; chat and agent tasks will fail until keys are set")
	}
	return providers
}

// ensureBuiltinCatalog inserts a stored reference for each builtin
// tool that has none yet. Existing rows are left alone so operator
// changes, deactivation included, survive restarts.
func ensureBuiltinCatalog(ctx context.Context, store *storage.Store, builtins []tools.Tool) error {
	for _, t := range builtins {
		_, err := store.Tool(ctx, t.Name())
		if err == nil {
			continue
		}
		if !storage.IsNotFound(err) {
			return err
		}
		ref := &types.ToolRef{
			ID:             t.Name(),
			Name:           t.Name(),
			Description:    t.Description(),
			Category:       t.Name(),
			Status:         types.ToolActive,
			RequiredConfig: t.RequiredConfig(),
		}
		if err := store.SaveTool(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the background components: the prompt template
// watcher, the scheduler, and the worker pool. The HTTP surface is
// started separately with Serve so worker-only processes can skip it
// or bind it to a probe port.
func (c *Core) Start(ctx context.Context) {
	if err := c.Prompts.StartWatch(ctx); err != nil {
		c.logger.Warn("Prompt template watch not started", zap.Error(err))
	}
	c.Scheduler.Start(ctx)
	c.Worker.Start(ctx)
	c.logger.Info("Core started")
}

// Serve runs the HTTP surface until Stop. It blocks.
func (c *Core) Serve(ctx context.Context) error {
	return c.Server.Start(ctx)
}

// Stop tears the platform down in intake-first order: the HTTP
// surface and the scheduler stop producing work, the worker pool
// drains what is in flight, then the transports and the store close.
// Safe to call more than once.
func (c *Core) Stop(ctx context.Context) {
	c.stopOnce.Do(func() {
		if err := c.Server.Stop(ctx); err != nil {
			c.logger.Warn("HTTP server stop failed", zap.Error(err))
		}
		c.Scheduler.Stop()
		c.Worker.Stop()
		if err := c.Bus.Close(); err != nil {
			c.logger.Warn("Event bus close failed", zap.Error(err))
		}
		if err := c.Queue.Close(); err != nil {
			c.logger.Warn("Queue close failed", zap.Error(err))
		}
		if c.redis != nil {
			if err := c.redis.Close(); err != nil {
				c.logger.Warn("Redis close failed", zap.Error(err))
			}
		}
		if err := c.Store.Close(); err != nil {
			c.logger.Warn("Store close failed", zap.Error(err))
		}
		c.logger.Info("Core stopped")
	})
}
