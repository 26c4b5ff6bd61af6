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
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atelierhq/atelier/pkg/events"
	"github.com/atelierhq/atelier/pkg/router"
	"github.com/atelierhq/atelier/pkg/storage"
	"github.com/atelierhq/atelier/pkg/types"
)

// historyWindow caps how many stored messages cross the provider
// boundary per turn.
const historyWindow = 10

// Store is the slice of the storage layer the chat service uses.
type Store interface {
	CreateConversation(ctx context.Context, conv *types.Conversation) error
	Conversation(ctx context.Context, id string) (*types.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, msg types.Message) error
	LastMessages(ctx context.Context, conversationID string, n int) ([]types.Message, error)
	UpdateConversationAgent(ctx context.Context, conversationID, agentID string) error
	Agent(ctx context.Context, id string) (*types.Agent, error)
	Tool(ctx context.Context, id string) (*types.ToolRef, error)
}

// Completer is the slice of the model router the service calls.
type Completer interface {
	Complete(ctx context.Context, req router.RouteRequest) (*types.Completion, error)
}

// Config assembles a Service.
type Config struct {
	Store  Store
	Router Completer
	Bus    events.Bus
	Logger *zap.Logger
	Clock  func() time.Time
}

// Service runs one chat turn end to end: agent handoff, task
// classification, model call, persistence, event fan-out.
type Service struct {
	store  Store
	router Completer
	bus    events.Bus
	logger *zap.Logger
	clock  func() time.Time
}

// New builds a Service from cfg.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("chat: Store is required")
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("chat: Router is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:  cfg.Store,
		router: cfg.Router,
		bus:    cfg.Bus,
		logger: logger,
		clock:  clock,
	}, nil
}

// Request is one incoming chat turn. An empty ConversationID starts a
// new conversation; AgentID pins the current agent for the turn and
// otherwise falls back to the conversation's.
type Request struct {
	TenantID       string `json:"tenant_id"`
	UserID         string `json:"user_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	AgentID        string `json:"agent_id,omitempty"`
	Message        string `json:"message"`
}

// Response is the completed turn.
type Response struct {
	ConversationID string        `json:"conversation_id"`
	AgentID        string        `json:"agent_id,omitempty"`
	Message        types.Message `json:"message"`
	Handoff        *Handoff      `json:"handoff,omitempty"`
	Model          string        `json:"model,omitempty"`
	Provider       string        `json:"provider,omitempty"`
	Usage          types.Usage   `json:"usage"`
	LatencyMS      int64         `json:"latency_ms,omitempty"`
}

// Chat handles one turn. The turn is persisted only when the model
// call succeeds, so a failed call leaves the conversation as it was.
func (s *Service) Chat(ctx context.Context, req Request) (*Response, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("chat: tenant id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("chat: message is required")
	}

	conv, err := s.conversation(ctx, &req)
	if err != nil {
		return nil, err
	}

	currentAgentID := req.AgentID
	if currentAgentID == "" {
		currentAgentID = conv.AgentID
	}

	handoff, respondingID := s.route(ctx, req, conv, currentAgentID)

	var agent *types.Agent
	if respondingID != "" {
		agent, err = s.store.Agent(ctx, respondingID)
		if err != nil && !storage.IsNotFound(err) {
			return nil, err
		}
	}

	history, err := s.store.LastMessages(ctx, conv.ID, historyWindow)
	if err != nil {
		return nil, err
	}

	messages := make([]types.Message, 0, len(history)+2)
	if agent != nil {
		messages = append(messages, types.Message{
			Role:    "system",
			Content: s.systemPrompt(ctx, agent),
		})
	}
	messages = append(messages, history...)
	messages = append(messages, types.Message{Role: "user", Content: req.Message})

	task := DetectTaskType(req.Message)
	completion, err := s.router.Complete(ctx, router.RouteRequest{
		TenantID: req.TenantID,
		UserID:   req.UserID,
		Task:     task,
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	if err := s.store.AppendMessage(ctx, conv.ID, types.Message{Role: "user", Content: req.Message}); err != nil {
		return nil, err
	}
	reply := types.Message{Role: "assistant", Content: completion.Content}
	if err := s.store.AppendMessage(ctx, conv.ID, reply); err != nil {
		return nil, err
	}

	s.logger.Info("chat turn completed",
		zap.String("conversation_id", conv.ID),
		zap.String("agent_id", respondingID),
		zap.String("task_type", string(task)),
		zap.String("model", completion.Model),
		zap.Int("total_tokens", completion.Usage.TotalTokens))

	s.publishTurn(ctx, req, conv.ID, respondingID, completion, handoff)

	return &Response{
		ConversationID: conv.ID,
		AgentID:        respondingID,
		Message:        reply,
		Handoff:        handoff,
		Model:          completion.Model,
		Provider:       completion.Provider,
		Usage:          completion.Usage,
		LatencyMS:      completion.LatencyMS,
	}, nil
}

// conversation loads the requested conversation or starts a fresh
// one.
func (s *Service) conversation(ctx context.Context, req *Request) (*types.Conversation, error) {
	if req.ConversationID == "" {
		conv := &types.Conversation{
			TenantID: req.TenantID,
			UserID:   req.UserID,
			AgentID:  req.AgentID,
		}
		if err := s.store.CreateConversation(ctx, conv); err != nil {
			return nil, err
		}
		return conv, nil
	}

	conv, err := s.store.Conversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	// Reads as missing so a tenant cannot probe another's conversations.
	if conv.TenantID != req.TenantID {
		return nil, fmt.Errorf("conversation %s does not belong to tenant %s: %w", conv.ID, req.TenantID, storage.ErrNotFound)
	}
	return conv, nil
}

// route applies the handoff rules and reassigns the conversation when
// a specialist wins the turn. A matched agent missing from the store
// leaves the routing unchanged.
func (s *Service) route(ctx context.Context, req Request, conv *types.Conversation, currentAgentID string) (*Handoff, string) {
	handoff := DetectHandoff(req.Message, currentAgentID)
	if handoff == nil {
		return nil, currentAgentID
	}

	target, err := s.store.Agent(ctx, handoff.ToAgentID)
	if err != nil {
		if !storage.IsNotFound(err) {
			s.logger.Warn("handoff target lookup failed",
				zap.String("agent_id", handoff.ToAgentID),
				zap.Error(err))
		}
		return nil, currentAgentID
	}

	if handoff.FromAgentID == "" {
		handoff.FromAgentID = OrchestratorID
	}
	handoff.ToAgentName = target.Name
	handoff.ToAgentIcon = target.Icon

	if err := s.store.UpdateConversationAgent(ctx, conv.ID, target.ID); err != nil {
		s.logger.Warn("failed to reassign conversation",
			zap.String("conversation_id", conv.ID),
			zap.Error(err))
	}
	conv.AgentID = target.ID

	s.logger.Info("chat handoff",
		zap.String("conversation_id", conv.ID),
		zap.String("from", handoff.FromAgentID),
		zap.String("to", target.ID),
		zap.String("reason", handoff.Reason))
	return handoff, target.ID
}

// systemPrompt assembles the agent's instructions: its own prompt,
// identity, visible tools, and the house style line.
func (s *Service) systemPrompt(ctx context.Context, agent *types.Agent) string {
	parts := make([]string, 0, 5)
	if agent.SystemPrompt != "" {
		parts = append(parts, agent.SystemPrompt)
	}
	if agent.Name != "" {
		parts = append(parts, fmt.Sprintf("\nTu es %s.", agent.Name))
	}
	if agent.Description != "" {
		parts = append(parts, fmt.Sprintf("Description: %s", agent.Description))
	}
	if names := s.toolNames(ctx, agent.ToolIDs); len(names) > 0 {
		parts = append(parts, fmt.Sprintf("\nOutils disponibles: %s", strings.Join(names, ", ")))
	}
	parts = append(parts, "\nRéponds de manière concise et utile. Utilise le markdown pour formater.")
	return strings.Join(parts, "\n")
}

func (s *Service) toolNames(ctx context.Context, ids []string) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		tool, err := s.store.Tool(ctx, id)
		if err != nil {
			continue
		}
		names = append(names, tool.Name)
	}
	return names
}

func (s *Service) publishTurn(ctx context.Context, req Request, conversationID, agentID string, completion *types.Completion, handoff *Handoff) {
	if s.bus == nil {
		return
	}
	data := map[string]interface{}{
		"conversation_id": conversationID,
		"agent_id":        agentID,
		"role":            "assistant",
		"content":         completion.Content,
		"model":           completion.Model,
		"provider":        completion.Provider,
	}
	if handoff != nil {
		data["handoff_to"] = handoff.ToAgentID
		data["handoff_reason"] = handoff.Reason
	}
	event := events.Event{
		Type:      events.TypeChatMessage,
		TenantID:  req.TenantID,
		UserID:    req.UserID,
		Data:      data,
		Timestamp: s.clock(),
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("chat event publish failed", zap.Error(err))
	}
}
