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
package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/pkg/types"
)

func TestStore_AgentRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	defer func() { _ = store.Close() }()

	agent := &types.Agent{
		ID:             "agent-factu",
		TenantID:       "tenant-1",
		Name:           "Facturation",
		Scope:          "business",
		Description:    "Gère factures et relances",
		Icon:           "receipt",
		SystemPrompt:   "Tu es l'assistant facturation.",
		FunctionalArea: "finance",
		ToolIDs:        []string{"email", "stripe"},
		PromptIDs:      []string{"relance-impayee"},
	}
	require.NoError(t, store.CreateAgent(ctx, agent))

	retrieved, err := store.Agent(ctx, "agent-factu")
	require.NoError(t, err)
	assert.Equal(t, "Facturation", retrieved.Name)
	assert.Equal(t, "business", retrieved.Scope)
	assert.Equal(t, "Gère factures et relances", retrieved.Description)
	assert.Equal(t, "receipt", retrieved.Icon)
	assert.Equal(t, "Tu es l'assistant facturation.", retrieved.SystemPrompt)
	assert.Equal(t, "finance", retrieved.FunctionalArea)
	assert.Equal(t, []string{"email", "stripe"}, retrieved.ToolIDs)
	assert.Equal(t, []string{"relance-impayee"}, retrieved.PromptIDs)
	assert.False(t, retrieved.CreatedAt.IsZero())
}

func TestStore_AgentNotFound(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	defer func() { _ = store.Close() }()

	_, err := store.Agent(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListAndCountAgents(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	defer func() { _ = store.Close() }()

	for _, id := range []string{"a1", "a2"} {
		require.NoError(t, store.CreateAgent(ctx, &types.Agent{
			ID: id, TenantID: "tenant-1", Name: id, Scope: "business", SystemPrompt: "p",
		}))
	}
	require.NoError(t, store.CreateAgent(ctx, &types.Agent{
		ID: "other", TenantID: "tenant-2", Name: "other", Scope: "business", SystemPrompt: "p",
	}))

	agents, err := store.ListAgents(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, agents, 2)

	count, err := store.CountAgents(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStore_UpdateAndDeleteAgent(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	defer func() { _ = store.Close() }()

	agent := &types.Agent{ID: "agent-upd", TenantID: "tenant-1", Name: "Old", Scope: "business", SystemPrompt: "p"}
	require.NoError(t, store.CreateAgent(ctx, agent))

	agent.Name = "New"
	agent.ToolIDs = []string{"webhook"}
	require.NoError(t, store.UpdateAgent(ctx, agent))

	retrieved, err := store.Agent(ctx, "agent-upd")
	require.NoError(t, err)
	assert.Equal(t, "New", retrieved.Name)
	assert.Equal(t, []string{"webhook"}, retrieved.ToolIDs)

	require.NoError(t, store.DeleteAgent(ctx, "agent-upd"))
	_, err = store.Agent(ctx, "agent-upd")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteAgent(ctx, "agent-upd"), ErrNotFound)
}

func TestStore_PromptTemplateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	defer func() { _ = store.Close() }()

	tpl := &types.PromptTemplate{
		ID:        "tpl-1",
		TenantID:  "tenant-1",
		Name:      "relance-impayee",
		Body:      "Rédige une relance pour {client} au sujet de la facture {numero}.",
		Variables: []string{"client", "numero"},
		ToolID:    "email",
	}
	require.NoError(t, store.CreatePromptTemplate(ctx, tpl))

	retrieved, err := store.PromptTemplate(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, "relance-impayee", retrieved.Name)
	assert.Contains(t, retrieved.Body, "{client}")
	assert.Equal(t, []string{"client", "numero"}, retrieved.Variables)
	assert.Equal(t, "email", retrieved.ToolID)

	templates, err := store.ListPromptTemplates(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, templates, 1)

	require.NoError(t, store.DeletePromptTemplate(ctx, "tpl-1"))
	_, err = store.PromptTemplate(ctx, "tpl-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SaveToolIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	defer func() { _ = store.Close() }()

	tool := &types.ToolRef{
		ID:             "email",
		Name:           "Email",
		Description:    "Send transactional email",
		Category:       "communication",
		Status:         types.ToolActive,
		RequiredConfig: []string{"smtp_host"},
	}
	require.NoError(t, store.SaveTool(ctx, tool))

	// Seeding again must replace, not duplicate.
	tool.Status = types.ToolBeta
	tool.Config = map[string]string{"smtp_host": "smtp.example.com"}
	require.NoError(t, store.SaveTool(ctx, tool))

	retrieved, err := store.Tool(ctx, "email")
	require.NoError(t, err)
	assert.Equal(t, types.ToolBeta, retrieved.Status)
	assert.Equal(t, "smtp.example.com", retrieved.Config["smtp_host"])
	assert.Equal(t, []string{"smtp_host"}, retrieved.RequiredConfig)

	tools, err := store.ListTools(ctx)
	require.NoError(t, err)
	assert.Len(t, tools, 1)

	_, err = store.Tool(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}
