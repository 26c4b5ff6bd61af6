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
package prompts

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/atelierhq/atelier/pkg/storage"
	"github.com/atelierhq/atelier/pkg/types"
)

// Store is the template persistence the registry reads.
type Store interface {
	PromptTemplate(ctx context.Context, id string) (*types.PromptTemplate, error)
	ListPromptTemplates(ctx context.Context, tenantID string) ([]*types.PromptTemplate, error)
}

// Config assembles a Registry.
type Config struct {
	Store Store

	// Files holds the platform default templates. Optional.
	Files *FileRegistry

	Logger *zap.Logger
}

// Registry resolves prompt templates for a tenant: stored templates
// first, file-shipped defaults second.
type Registry struct {
	store  Store
	files  *FileRegistry
	logger *zap.Logger
}

func New(cfg Config) (*Registry, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("prompts: Store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: cfg.Store, files: cfg.Files, logger: logger}, nil
}

// Lookup returns the template with its binding metadata. Stored
// templates belong to one tenant; a stored template with no tenant is
// shared. Ids that match nothing in storage fall through to the file
// registry as synthetic rows keyed by their file key.
func (r *Registry) Lookup(ctx context.Context, tenantID, id string) (*types.PromptTemplate, error) {
	tpl, err := r.store.PromptTemplate(ctx, id)
	switch {
	case err == nil:
		if tpl.TenantID != "" && tpl.TenantID != tenantID {
			// Another tenant's template is indistinguishable from a
			// missing one.
			return nil, fmt.Errorf("prompt template %s: %w", id, storage.ErrNotFound)
		}
		return tpl, nil
	case !storage.IsNotFound(err):
		return nil, err
	}

	if r.files != nil {
		if body, ok := r.files.Get(id); ok {
			return &types.PromptTemplate{ID: id, Body: body}, nil
		}
	}
	return nil, fmt.Errorf("prompt template %s: %w", id, storage.ErrNotFound)
}

// Template returns the raw template body.
func (r *Registry) Template(ctx context.Context, tenantID, id string) (string, error) {
	tpl, err := r.Lookup(ctx, tenantID, id)
	if err != nil {
		return "", err
	}
	return tpl.Body, nil
}

// Render resolves the template and fills its {variable} placeholders.
func (r *Registry) Render(ctx context.Context, tenantID, id string, vars map[string]interface{}) (string, error) {
	body, err := r.Template(ctx, tenantID, id)
	if err != nil {
		return "", err
	}
	return Interpolate(body, vars), nil
}

// BusinessActions lists the tenant's templates bound to a tool.
func (r *Registry) BusinessActions(ctx context.Context, tenantID string) ([]*types.PromptTemplate, error) {
	templates, err := r.store.ListPromptTemplates(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	actions := make([]*types.PromptTemplate, 0, len(templates))
	for _, tpl := range templates {
		if tpl.ToolID != "" {
			actions = append(actions, tpl)
		}
	}
	return actions, nil
}

// StartWatch hot-reloads the file templates until ctx is cancelled.
// Safe to call with no file registry configured.
func (r *Registry) StartWatch(ctx context.Context) error {
	if r.files == nil {
		return nil
	}
	updates, err := r.files.Watch(ctx)
	if err != nil {
		return err
	}
	go func() {
		for update := range updates {
			if update.Err != nil {
				r.logger.Warn("Prompt template reload failed", zap.Error(update.Err))
				continue
			}
			r.logger.Info("Prompt template updated",
				zap.String("key", update.Key),
				zap.String("action", update.Action))
		}
	}()
	return nil
}
