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
package tools

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atelierhq/atelier/pkg/storage"
	"github.com/atelierhq/atelier/pkg/types"
)

// Per-call timeout bounds. Stored config may raise the default via
// timeout_seconds but never past the cap.
const (
	defaultCallTimeout = 30 * time.Second
	maxCallTimeout     = 5 * time.Minute
)

// Store is the slice of the storage layer the registry reads.
type Store interface {
	Tool(ctx context.Context, id string) (*types.ToolRef, error)
}

// RegistryConfig assembles a Registry.
type RegistryConfig struct {
	Store  Store
	Logger *zap.Logger
}

// Registry maps tool identifiers to implementations and fronts every
// invocation: it loads the stored tool reference, refuses non-active
// tools, and hands the stored config to the implementation under a
// bounded context.
type Registry struct {
	store  Store
	logger *zap.Logger

	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("tools: Store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:  cfg.Store,
		logger: logger,
		tools:  make(map[string]Tool),
	}, nil
}

// Register adds a tool under its name, replacing any previous one.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Lookup retrieves a registered tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run invokes a stored tool on behalf of a tenant. The tool reference
// must exist and be active; the implementation is resolved by the
// reference's id, then by its category. The returned value is the
// tool's output data.
func (r *Registry) Run(ctx context.Context, tenantID, toolID string, params map[string]interface{}) (interface{}, error) {
	ref, err := r.store.Tool(ctx, toolID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, Errorf(CodeNotFound, "no stored tool reference")
		}
		return nil, err
	}
	if ref.Status != types.ToolActive {
		return nil, fmt.Errorf("status %s: %w", ref.Status, types.ErrToolStatus)
	}

	impl, ok := r.resolve(ref)
	if !ok {
		return nil, Errorf(CodeNotFound, "no implementation for category %q", ref.Category)
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout(ref.Config))
	defer cancel()

	start := time.Now()
	r.logger.Info("Tool call started",
		zap.String("tool", impl.Name()),
		zap.String("tool_id", ref.ID),
		zap.String("tenant_id", tenantID))

	result, err := impl.Run(callCtx, Request{
		TenantID: tenantID,
		Config:   ref.Config,
		Params:   params,
	})
	if err != nil {
		r.logger.Error("Tool call failed",
			zap.String("tool", impl.Name()),
			zap.String("tool_id", ref.ID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("%s: %w", impl.Name(), err)
	}

	r.logger.Info("Tool call completed",
		zap.String("tool", impl.Name()),
		zap.String("tool_id", ref.ID),
		zap.Duration("elapsed", time.Since(start)))

	if result == nil {
		return nil, nil
	}
	return result.Data, nil
}

// resolve finds the implementation for a stored tool reference: exact
// id first, then the reference's category.
func (r *Registry) resolve(ref *types.ToolRef) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if impl, ok := r.tools[ref.ID]; ok {
		return impl, true
	}
	impl, ok := r.tools[ref.Category]
	return impl, ok
}

// callTimeout reads the per-tool timeout from stored config, bounded
// so a runaway integration cannot pin a worker.
func callTimeout(config map[string]string) time.Duration {
	timeout := defaultCallTimeout
	if raw, ok := config["timeout_seconds"]; ok {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}
	if timeout > maxCallTimeout {
		timeout = maxCallTimeout
	}
	return timeout
}

// Builtin returns the stock integrations. A nil client gets sensible
// HTTP defaults.
func Builtin(client *http.Client) []Tool {
	return []Tool{
		NewEmailTool(client),
		NewCRMTool(client),
		NewCalendarTool(client),
		NewWebhookTool(client),
	}
}
