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
// Package anthropic implements the Provider interface over Anthropic's
// messages API.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/atelierhq/atelier/pkg/llm"
	"github.com/atelierhq/atelier/pkg/types"
)

// Client implements the Provider interface for Anthropic's API.
type Client struct {
	apiKey      string
	model       string
	endpoint    string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
	rateLimiter *llm.RateLimiter
}

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey            string
	Model             string        // Default: claude-3-5-sonnet-20241022
	Endpoint          string        // Default: https://api.anthropic.com/v1/messages
	Timeout           time.Duration // Default: 60s
	MaxTokens         int           // Default: 4096
	Temperature       float64       // Default: 1.0
	RateLimiterConfig llm.RateLimiterConfig
}

// Default Anthropic configuration values. The model default can be
// overridden via ANTHROPIC_DEFAULT_MODEL.
const (
	DefaultModel       = "claude-3-5-sonnet-20241022"
	DefaultEndpoint    = "https://api.anthropic.com/v1/messages"
	DefaultTimeout     = 60 * time.Second
	DefaultMaxTokens   = 4096
	DefaultTemperature = 1.0

	// apiVersion is the pinned messages API revision.
	apiVersion = "2023-06-01"

	idleChunkTimeout = 30 * time.Second
)

var supportedModels = []string{
	"claude-3-5-sonnet-20241022",
	"claude-3-5-haiku-20241022",
	"claude-3-opus-20240229",
}

// NewClient creates a new Anthropic client.
func NewClient(config Config) *Client {
	if config.Model == "" {
		if envModel := os.Getenv("ANTHROPIC_DEFAULT_MODEL"); envModel != "" {
			config.Model = envModel
		} else {
			config.Model = DefaultModel
		}
	}
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.Temperature == 0 {
		config.Temperature = DefaultTemperature
	}

	var rateLimiter *llm.RateLimiter
	if config.RateLimiterConfig.Enabled {
		rateLimiter = llm.NewRateLimiter(config.RateLimiterConfig)
	}

	return &Client{
		apiKey:      config.APIKey,
		model:       config.Model,
		endpoint:    config.Endpoint,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		rateLimiter: rateLimiter,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "anthropic"
}

// Models returns the supported model identifiers.
func (c *Client) Models() []string {
	models := make([]string, len(supportedModels))
	copy(models, supportedModels)
	return models
}

// Capabilities reports what the given model supports.
func (c *Client) Capabilities(model string) types.ModelCaps {
	caps := types.ModelCaps{Streaming: true, Tools: true}
	switch model {
	case "claude-3-5-sonnet-20241022", "claude-3-opus-20240229":
		caps.Vision = true
	}
	return caps
}

// Complete sends a blocking completion request.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*types.Completion, error) {
	apiReq := c.buildRequest(req, false)

	start := time.Now()
	var apiResp *MessagesResponse
	err := c.limiterDo(ctx, func(ctx context.Context) error {
		var callErr error
		apiResp, callErr = c.callAPI(ctx, apiReq)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	completion := c.convertResponse(apiResp)
	completion.LatencyMS = time.Since(start).Milliseconds()
	return completion, nil
}

// Stream sends a streaming request and invokes fn per text chunk.
func (c *Client) Stream(ctx context.Context, req llm.Request, fn llm.StreamFunc) (*types.Completion, error) {
	apiReq := c.buildRequest(req, true)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	streamClient := &http.Client{}
	httpResp, err := streamClient.Do(httpReq)
	if err != nil {
		return nil, llm.TransportError(c.Name(), err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, llm.APIError(c.Name(), httpResp.StatusCode, respBody)
	}

	completion, err := c.consumeStream(ctx, httpResp.Body, fn)
	if err != nil {
		return nil, err
	}
	completion.LatencyMS = time.Since(start).Milliseconds()
	return completion, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
}

// buildRequest assembles the wire request. System messages are lifted
// out of the message list into the top-level system field.
func (c *Client) buildRequest(req llm.Request, stream bool) *MessagesRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	system, messages := convertMessages(req.Messages)
	apiReq := &MessagesRequest{
		Model:       model,
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      stream,
	}
	for _, tool := range req.Tools {
		schema := tool.Parameters
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}
		apiReq.Tools = append(apiReq.Tools, ToolParam{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return apiReq
}

// convertMessages converts normalized messages to the Anthropic wire
// format. Tool result messages become tool_result blocks on a user
// turn, and assistant tool calls become tool_use blocks.
func convertMessages(messages []types.Message) (string, []MessageParam) {
	var system string
	var apiMessages []MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		case "tool":
			apiMessages = append(apiMessages, MessageParam{
				Role: "user",
				Content: []ContentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
		case "assistant":
			var blocks []ContentBlock
			if msg.Content != "" {
				blocks = append(blocks, ContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Args
				if input == nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, ContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			if len(blocks) == 0 {
				blocks = []ContentBlock{{Type: "text", Text: ""}}
			}
			apiMessages = append(apiMessages, MessageParam{Role: "assistant", Content: blocks})
		default:
			apiMessages = append(apiMessages, MessageParam{
				Role:    "user",
				Content: []ContentBlock{{Type: "text", Text: msg.Content}},
			})
		}
	}
	return system, apiMessages
}

// convertResponse converts the wire response to a normalized
// Completion. Stop reasons are mapped to the common vocabulary.
func (c *Client) convertResponse(resp *MessagesResponse) *types.Completion {
	completion := &types.Completion{
		Model:        resp.Model,
		Provider:     c.Name(),
		FinishReason: normalizeStopReason(resp.StopReason),
		Usage: types.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
	if completion.Model == "" {
		completion.Model = c.model
	}

	var content strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			input := block.Input
			if input == nil {
				input = map[string]interface{}{}
			}
			completion.ToolCalls = append(completion.ToolCalls, types.ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: input,
			})
		}
	}
	completion.Content = content.String()
	return completion
}

// normalizeStopReason maps Anthropic stop reasons onto the common
// finish reason vocabulary.
func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

func (c *Client) callAPI(ctx context.Context, req *MessagesRequest) (*MessagesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.TransportError(c.Name(), err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, llm.APIError(c.Name(), httpResp.StatusCode, respBody)
	}

	var apiResp MessagesResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &apiResp, nil
}

// streamToolCall accumulates one tool_use block across input_json_delta
// events.
type streamToolCall struct {
	id   string
	name string
	args strings.Builder
}

// consumeStream reads SSE events until message_stop, forwarding text
// deltas. Waiting longer than idleChunkTimeout for the next event
// fails the stream.
func (c *Client) consumeStream(ctx context.Context, body io.ReadCloser, fn llm.StreamFunc) (*types.Completion, error) {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
	}()

	var contentBuffer strings.Builder
	usage := types.Usage{}
	var stopReason, model string
	blocks := make(map[int]*streamToolCall)
	var blockOrder []int

	idle := time.NewTimer(idleChunkTimeout)
	defer idle.Stop()

	done := false
	for !done {
		var line string
		var open bool
		select {
		case line, open = <-lines:
			if !open {
				if err := <-scanErr; err != nil {
					return nil, llm.TransportError(c.Name(), err)
				}
				done = true
				continue
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(idleChunkTimeout)
		case <-idle.C:
			body.Close()
			return nil, fmt.Errorf("%s: %w: no stream event within %s", c.Name(), types.ErrTimeout, idleChunkTimeout)
		case <-ctx.Done():
			body.Close()
			return nil, llm.TransportError(c.Name(), ctx.Err())
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				model = event.Message.Model
				usage.PromptTokens = event.Message.Usage.InputTokens
				usage.CompletionTokens = event.Message.Usage.OutputTokens
			}
		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				blocks[event.Index] = &streamToolCall{
					id:   event.ContentBlock.ID,
					name: event.ContentBlock.Name,
				}
				blockOrder = append(blockOrder, event.Index)
			}
		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				contentBuffer.WriteString(event.Delta.Text)
				if fn != nil {
					fn(event.Delta.Text)
				}
			case "input_json_delta":
				if block, ok := blocks[event.Index]; ok {
					block.args.WriteString(event.Delta.PartialJSON)
				}
			}
		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.CompletionTokens = event.Usage.OutputTokens
			}
		case "message_stop":
			done = true
		}
	}

	var toolCalls []types.ToolCall
	for _, idx := range blockOrder {
		block := blocks[idx]
		var args map[string]interface{}
		raw := block.args.String()
		if raw == "" {
			raw = "{}"
		}
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			args = map[string]interface{}{"_raw": raw}
		}
		toolCalls = append(toolCalls, types.ToolCall{ID: block.id, Name: block.name, Args: args})
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	if model == "" {
		model = c.model
	}
	return &types.Completion{
		Content:      contentBuffer.String(),
		Model:        model,
		Provider:     c.Name(),
		Usage:        usage,
		FinishReason: normalizeStopReason(stopReason),
		ToolCalls:    toolCalls,
	}, nil
}

func (c *Client) limiterDo(ctx context.Context, call func(context.Context) error) error {
	if c.rateLimiter == nil {
		return call(ctx)
	}
	return c.rateLimiter.Do(ctx, call)
}

// Verify interface compliance at compile time.
var _ llm.Provider = (*Client)(nil)
