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
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/pkg/types"
)

// CreateConversation persists a conversation and any seed messages.
func (s *Store) CreateConversation(ctx context.Context, conv *types.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := s.clock()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = now
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO conversations (
				id, tenant_id, user_id, agent_id, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?)
		`
		if _, err := s.txExec(ctx, tx, query,
			conv.ID,
			conv.TenantID,
			conv.UserID,
			conv.AgentID,
			unixOrZero(conv.CreatedAt),
			unixOrZero(conv.UpdatedAt),
		); err != nil {
			return fmt.Errorf("failed to insert conversation: %w", err)
		}
		for i, msg := range conv.Messages {
			if err := s.insertMessage(ctx, tx, conv.ID, i+1, msg, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// Conversation retrieves a conversation with its full message history
// in order.
func (s *Store) Conversation(ctx context.Context, id string) (*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, tenant_id, user_id, agent_id, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`
	var (
		conv      types.Conversation
		createdAt int64
		updatedAt int64
	)
	err := s.queryRow(ctx, query, id).Scan(
		&conv.ID, &conv.TenantID, &conv.UserID, &conv.AgentID,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	conv.CreatedAt = timeAt(createdAt)
	conv.UpdatedAt = timeAt(updatedAt)

	messages, err := s.conversationMessages(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	conv.Messages = messages
	return &conv, nil
}

// ListConversations returns a user's conversations newest first,
// without message bodies.
func (s *Store) ListConversations(ctx context.Context, tenantID, userID string) ([]*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, tenant_id, user_id, agent_id, created_at, updated_at
		FROM conversations
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY updated_at DESC
	`
	rows, err := s.query(ctx, query, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]*types.Conversation, 0)
	for rows.Next() {
		var (
			conv      types.Conversation
			createdAt int64
			updatedAt int64
		)
		if err := rows.Scan(
			&conv.ID, &conv.TenantID, &conv.UserID, &conv.AgentID,
			&createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conv.CreatedAt = timeAt(createdAt)
		conv.UpdatedAt = timeAt(updatedAt)
		conversations = append(conversations, &conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}
	return conversations, nil
}

// AppendMessage adds one message to a conversation and bumps its
// updated_at. The sequence number is assigned inside the transaction.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var seq int
		row := tx.QueryRowContext(ctx,
			s.dialect.rebind(`SELECT COALESCE(MAX(seq), 0) FROM conversation_messages WHERE conversation_id = ?`),
			conversationID,
		)
		if err := row.Scan(&seq); err != nil {
			return fmt.Errorf("failed to query message sequence: %w", err)
		}
		if err := s.insertMessage(ctx, tx, conversationID, seq+1, msg, now); err != nil {
			return err
		}
		result, err := s.txExec(ctx, tx,
			`UPDATE conversations SET updated_at = ? WHERE id = ?`,
			unixOrZero(now), conversationID,
		)
		if err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}
		return requireRow(result, "conversation", conversationID)
	})
}

// UpdateConversationAgent reassigns a conversation to another agent,
// as happens on a chat handoff.
func (s *Store) UpdateConversationAgent(ctx context.Context, conversationID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.exec(ctx,
		`UPDATE conversations SET agent_id = ?, updated_at = ? WHERE id = ?`,
		agentID, unixOrZero(s.clock()), conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation agent: %w", err)
	}
	return requireRow(result, "conversation", conversationID)
}

// LastMessages returns the n most recent messages in chronological
// order. Zero or negative n returns the whole history.
func (s *Store) LastMessages(ctx context.Context, conversationID string, n int) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationMessages(ctx, conversationID, n)
}

func (s *Store) conversationMessages(ctx context.Context, conversationID string, limit int) ([]types.Message, error) {
	query := `
		SELECT role, content, tool_calls_json, tool_call_id
		FROM conversation_messages
		WHERE conversation_id = ?
	`
	args := []interface{}{conversationID}
	if limit > 0 {
		// Take the newest rows, then flip them back into order.
		query += ` ORDER BY seq DESC LIMIT ?`
		args = append(args, limit)
	} else {
		query += ` ORDER BY seq ASC`
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]types.Message, 0)
	for rows.Next() {
		var (
			msg        types.Message
			content    sql.NullString
			toolCalls  sql.NullString
			toolCallID sql.NullString
		)
		if err := rows.Scan(&msg.Role, &content, &toolCalls, &toolCallID); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Content = stringOf(content)
		if err := decodeColumn(toolCalls, &msg.ToolCalls); err != nil {
			return nil, err
		}
		msg.ToolCallID = stringOf(toolCallID)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	if limit > 0 {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	return messages, nil
}

func (s *Store) insertMessage(ctx context.Context, tx *sql.Tx, conversationID string, seq int, msg types.Message, at time.Time) error {
	toolCalls, err := jsonColumn(msg.ToolCalls)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO conversation_messages (
			id, conversation_id, seq, role, content,
			tool_calls_json, tool_call_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.txExec(ctx, tx, query,
		uuid.NewString(),
		conversationID,
		seq,
		msg.Role,
		nullString(msg.Content),
		toolCalls,
		nullString(msg.ToolCallID),
		unixOrZero(at),
	); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}
