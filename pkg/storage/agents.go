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
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/pkg/types"
)

// CreateAgent persists a new agent.
func (s *Store) CreateAgent(ctx context.Context, agent *types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = s.clock()
	}

	toolIDs, err := jsonColumn(agent.ToolIDs)
	if err != nil {
		return err
	}
	promptIDs, err := jsonColumn(agent.PromptIDs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO agents (
			id, tenant_id, name, scope, description, icon,
			system_prompt, functional_area, tool_ids_json, prompt_ids_json,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.exec(ctx, query,
		agent.ID,
		agent.TenantID,
		agent.Name,
		agent.Scope,
		nullString(agent.Description),
		nullString(agent.Icon),
		agent.SystemPrompt,
		nullString(agent.FunctionalArea),
		toolIDs,
		promptIDs,
		unixOrZero(agent.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

// Agent retrieves one agent by ID.
func (s *Store) Agent(ctx context.Context, id string) (*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, tenant_id, name, scope, description, icon,
		       system_prompt, functional_area, tool_ids_json, prompt_ids_json,
		       created_at
		FROM agents
		WHERE id = ?
	`
	agent, err := scanAgent(s.queryRow(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns a tenant's agents ordered by creation time.
func (s *Store) ListAgents(ctx context.Context, tenantID string) ([]*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, tenant_id, name, scope, description, icon,
		       system_prompt, functional_area, tool_ids_json, prompt_ids_json,
		       created_at
		FROM agents
		WHERE tenant_id = ?
		ORDER BY created_at ASC
	`
	rows, err := s.query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	agents := make([]*types.Agent, 0)
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	return agents, nil
}

// CountAgents reports how many agents a tenant owns, for quota checks.
func (s *Store) CountAgents(ctx context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM agents WHERE tenant_id = ?`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count agents: %w", err)
	}
	return count, nil
}

// UpdateAgent rewrites every mutable agent field.
func (s *Store) UpdateAgent(ctx context.Context, agent *types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	toolIDs, err := jsonColumn(agent.ToolIDs)
	if err != nil {
		return err
	}
	promptIDs, err := jsonColumn(agent.PromptIDs)
	if err != nil {
		return err
	}

	query := `
		UPDATE agents
		SET name = ?, scope = ?, description = ?, icon = ?,
		    system_prompt = ?, functional_area = ?, tool_ids_json = ?,
		    prompt_ids_json = ?
		WHERE id = ?
	`
	result, err := s.exec(ctx, query,
		agent.Name,
		agent.Scope,
		nullString(agent.Description),
		nullString(agent.Icon),
		agent.SystemPrompt,
		nullString(agent.FunctionalArea),
		toolIDs,
		promptIDs,
		agent.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	return requireRow(result, "agent", agent.ID)
}

// DeleteAgent removes an agent.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.exec(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	return requireRow(result, "agent", id)
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*types.Agent, error) {
	var (
		agent          types.Agent
		description    sql.NullString
		icon           sql.NullString
		functionalArea sql.NullString
		toolIDs        sql.NullString
		promptIDs      sql.NullString
		createdAt      int64
	)
	err := row.Scan(
		&agent.ID,
		&agent.TenantID,
		&agent.Name,
		&agent.Scope,
		&description,
		&icon,
		&agent.SystemPrompt,
		&functionalArea,
		&toolIDs,
		&promptIDs,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	agent.Description = stringOf(description)
	agent.Icon = stringOf(icon)
	agent.FunctionalArea = stringOf(functionalArea)
	if err := decodeColumn(toolIDs, &agent.ToolIDs); err != nil {
		return nil, err
	}
	if err := decodeColumn(promptIDs, &agent.PromptIDs); err != nil {
		return nil, err
	}
	agent.CreatedAt = timeAt(createdAt)
	return &agent, nil
}

// CreatePromptTemplate persists a new prompt template.
func (s *Store) CreatePromptTemplate(ctx context.Context, tpl *types.PromptTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = s.clock()
	}

	variables, err := jsonColumn(tpl.Variables)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO prompt_templates (
			id, tenant_id, name, body, variables_json, tool_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.exec(ctx, query,
		tpl.ID,
		tpl.TenantID,
		tpl.Name,
		tpl.Body,
		variables,
		nullString(tpl.ToolID),
		unixOrZero(tpl.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert prompt template: %w", err)
	}
	return nil
}

// PromptTemplate retrieves one prompt template by ID.
func (s *Store) PromptTemplate(ctx context.Context, id string) (*types.PromptTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, tenant_id, name, body, variables_json, tool_id, created_at
		FROM prompt_templates
		WHERE id = ?
	`
	var (
		tpl       types.PromptTemplate
		variables sql.NullString
		toolID    sql.NullString
		createdAt int64
	)
	err := s.queryRow(ctx, query, id).Scan(
		&tpl.ID, &tpl.TenantID, &tpl.Name, &tpl.Body,
		&variables, &toolID, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("prompt template %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt template: %w", err)
	}
	if err := decodeColumn(variables, &tpl.Variables); err != nil {
		return nil, err
	}
	tpl.ToolID = stringOf(toolID)
	tpl.CreatedAt = timeAt(createdAt)
	return &tpl, nil
}

// ListPromptTemplates returns a tenant's templates ordered by creation
// time.
func (s *Store) ListPromptTemplates(ctx context.Context, tenantID string) ([]*types.PromptTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, tenant_id, name, body, variables_json, tool_id, created_at
		FROM prompt_templates
		WHERE tenant_id = ?
		ORDER BY created_at ASC
	`
	rows, err := s.query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt templates: %w", err)
	}
	defer rows.Close()

	templates := make([]*types.PromptTemplate, 0)
	for rows.Next() {
		var (
			tpl       types.PromptTemplate
			variables sql.NullString
			toolID    sql.NullString
			createdAt int64
		)
		if err := rows.Scan(
			&tpl.ID, &tpl.TenantID, &tpl.Name, &tpl.Body,
			&variables, &toolID, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan prompt template: %w", err)
		}
		if err := decodeColumn(variables, &tpl.Variables); err != nil {
			return nil, err
		}
		tpl.ToolID = stringOf(toolID)
		tpl.CreatedAt = timeAt(createdAt)
		templates = append(templates, &tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prompt templates: %w", err)
	}
	return templates, nil
}

// DeletePromptTemplate removes a prompt template.
func (s *Store) DeletePromptTemplate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.exec(ctx, `DELETE FROM prompt_templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete prompt template: %w", err)
	}
	return requireRow(result, "prompt template", id)
}

// SaveTool inserts or replaces a tool reference. The seed catalog runs
// through here at startup, so this must be idempotent.
func (s *Store) SaveTool(ctx context.Context, tool *types.ToolRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	required, err := jsonColumn(tool.RequiredConfig)
	if err != nil {
		return err
	}
	config, err := jsonColumn(tool.Config)
	if err != nil {
		return err
	}

	update := `
		UPDATE tools
		SET name = ?, description = ?, category = ?, status = ?,
		    required_config_json = ?, config_json = ?
		WHERE id = ?
	`
	result, err := s.exec(ctx, update,
		tool.Name, nullString(tool.Description), tool.Category,
		string(tool.Status), required, config, tool.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update tool: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	insert := `
		INSERT INTO tools (
			id, name, description, category, status,
			required_config_json, config_json
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.exec(ctx, insert,
		tool.ID, tool.Name, nullString(tool.Description), tool.Category,
		string(tool.Status), required, config,
	); err != nil {
		return fmt.Errorf("failed to insert tool: %w", err)
	}
	return nil
}

// Tool retrieves one tool reference by ID.
func (s *Store) Tool(ctx context.Context, id string) (*types.ToolRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, name, description, category, status,
		       required_config_json, config_json
		FROM tools
		WHERE id = ?
	`
	var (
		tool        types.ToolRef
		description sql.NullString
		status      string
		required    sql.NullString
		config      sql.NullString
	)
	err := s.queryRow(ctx, query, id).Scan(
		&tool.ID, &tool.Name, &description, &tool.Category, &status,
		&required, &config,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tool %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tool: %w", err)
	}
	tool.Description = stringOf(description)
	tool.Status = types.ToolStatus(status)
	if err := decodeColumn(required, &tool.RequiredConfig); err != nil {
		return nil, err
	}
	if err := decodeColumn(config, &tool.Config); err != nil {
		return nil, err
	}
	return &tool, nil
}

// ListTools returns every tool reference ordered by category and name.
func (s *Store) ListTools(ctx context.Context) ([]*types.ToolRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, name, description, category, status,
		       required_config_json, config_json
		FROM tools
		ORDER BY category, name
	`
	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tools: %w", err)
	}
	defer rows.Close()

	tools := make([]*types.ToolRef, 0)
	for rows.Next() {
		var (
			tool        types.ToolRef
			description sql.NullString
			status      string
			required    sql.NullString
			config      sql.NullString
		)
		if err := rows.Scan(
			&tool.ID, &tool.Name, &description, &tool.Category, &status,
			&required, &config,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tool: %w", err)
		}
		tool.Description = stringOf(description)
		tool.Status = types.ToolStatus(status)
		if err := decodeColumn(required, &tool.RequiredConfig); err != nil {
			return nil, err
		}
		if err := decodeColumn(config, &tool.Config); err != nil {
			return nil, err
		}
		tools = append(tools, &tool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tools: %w", err)
	}
	return tools, nil
}
