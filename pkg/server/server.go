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

// Package server exposes the platform core over REST and SSE. The
// surface is deliberately small: chat turns, workflow execution
// handoff, approval and cancellation, schedule triggers, the live
// event stream, and health/stats. CRUD for agents, prompts, tools,
// and tenants belongs to the external management API, not here.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atelierhq/atelier/pkg/chat"
	"github.com/atelierhq/atelier/pkg/events"
	"github.com/atelierhq/atelier/pkg/queue"
	"github.com/atelierhq/atelier/pkg/router"
	"github.com/atelierhq/atelier/pkg/storage"
	"github.com/atelierhq/atelier/pkg/types"
	"github.com/atelierhq/atelier/pkg/workflow"
)

// ChatService handles conversational turns.
type ChatService interface {
	Chat(ctx context.Context, req chat.Request) (*chat.Response, error)
}

// ExecutionEngine prepares, resolves, and cancels workflow executions.
type ExecutionEngine interface {
	PrepareExecution(ctx context.Context, req workflow.ExecuteRequest) (*types.Execution, error)
	Approve(ctx context.Context, executionID string, approved bool) (*types.Execution, error)
	Cancel(ctx context.Context, executionID string) (*types.Execution, error)
}

// ScheduleTrigger fires a schedule outside its cron cadence.
type ScheduleTrigger interface {
	TriggerNow(ctx context.Context, scheduleID string) (*types.Execution, error)
}

// Store reads the records the surface exposes.
type Store interface {
	Execution(ctx context.Context, id string) (*types.Execution, error)
	UsageTotals(ctx context.Context, tenantID, period string) ([]storage.UsageTotal, error)
}

// HealthSource reports per-provider router health.
type HealthSource interface {
	Snapshot() map[string]router.ProviderStats
}

// CORSConfig holds cross-origin settings for the HTTP surface.
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns a permissive configuration suitable for
// development and single-origin deployments.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           86400,
	}
}

// Config assembles a Server. Collaborators are optional; routes that
// need an absent one respond 503.
type Config struct {
	// Addr is the listen address. Zero means ":8000".
	Addr string

	Chat      ChatService
	Engine    ExecutionEngine
	Scheduler ScheduleTrigger
	Queue     queue.Queue
	Bus       events.Bus
	Store     Store
	Health    HealthSource

	Logger *zap.Logger
	Clock  func() time.Time

	// CORS applies to every route. Nil means DefaultCORSConfig.
	CORS *CORSConfig
}

// Server is the REST+SSE front of the core.
type Server struct {
	chat      ChatService
	engine    ExecutionEngine
	scheduler ScheduleTrigger
	queue     queue.Queue
	bus       events.Bus
	store     Store
	health    HealthSource

	logger *zap.Logger
	clock  func() time.Time
	cors   CORSConfig

	httpServer *http.Server
}

// New builds a Server and its route table.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	addr := cfg.Addr
	if addr == "" {
		addr = ":8000"
	}
	cors := DefaultCORSConfig()
	if cfg.CORS != nil {
		cors = *cfg.CORS
	}

	s := &Server{
		chat:      cfg.Chat,
		engine:    cfg.Engine,
		scheduler: cfg.Scheduler,
		queue:     cfg.Queue,
		bus:       cfg.Bus,
		store:     cfg.Store,
		health:    cfg.Health,
		logger:    logger,
		clock:     clock,
		cors:      cors,
	}
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.buildHandler(),
		ReadTimeout: 30 * time.Second,
		// WriteTimeout stays zero so SSE streams are never cut off.
		IdleTimeout: 120 * time.Second,
	}
	return s
}

func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /workflows/{id}/execute", s.handleExecuteWorkflow)
	mux.HandleFunc("GET /executions/{id}", s.handleExecution)
	mux.HandleFunc("POST /executions/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /executions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /schedules/{id}/trigger", s.handleTriggerSchedule)

	if s.cors.Enabled {
		return s.corsMiddleware(mux)
	}
	return mux
}

// Handler returns the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Stop or a listener failure. It blocks.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop shuts the server down, waiting for in-flight requests up to
// the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server stopping")
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware applies the configured CORS headers and answers
// preflight requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		if s.cors.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if len(s.cors.AllowedMethods) > 0 {
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(s.cors.AllowedMethods, ", "))
		}
		if len(s.cors.AllowedHeaders) > 0 {
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(s.cors.AllowedHeaders, ", "))
		}
		if len(s.cors.ExposedHeaders) > 0 {
			w.Header().Set("Access-Control-Expose-Headers", strings.Join(s.cors.ExposedHeaders, ", "))
		}
		if s.cors.MaxAge > 0 {
			w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", s.cors.MaxAge))
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	for _, allowed := range s.cors.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if allowed == origin {
			return origin
		}
	}
	return ""
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Response write failed", zap.Error(err))
	}
}

// writeError sends the platform's error envelope.
func (s *Server) writeError(w http.ResponseWriter, code int, detail string) {
	s.writeJSON(w, code, map[string]string{"detail": detail})
}

// httpStatus maps core error kinds onto response codes. Callers send
// their own fixed detail for 404s so internals do not leak.
func httpStatus(err error) int {
	switch {
	case storage.IsNotFound(err):
		return http.StatusNotFound
	case types.IsMissingInput(err):
		return http.StatusBadRequest
	case types.IsQuotaExceeded(err), errors.Is(err, types.ErrRateLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, types.ErrConfig):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrNotWaitingApproval):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrAuth),
		errors.Is(err, types.ErrUpstream),
		errors.Is(err, types.ErrTimeout),
		errors.Is(err, types.ErrInvalidModel):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
