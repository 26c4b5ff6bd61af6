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
// Package openai implements the Provider interface over OpenAI's
// chat completions API.
package openai

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

// Client implements the Provider interface for OpenAI's API.
type Client struct {
	apiKey      string
	model       string
	endpoint    string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
	rateLimiter *llm.RateLimiter
}

// Config holds configuration for the OpenAI client.
type Config struct {
	APIKey            string
	Model             string        // Default: gpt-4o
	Endpoint          string        // Default: https://api.openai.com/v1/chat/completions
	Timeout           time.Duration // Default: 60s
	MaxTokens         int           // Default: 4096
	Temperature       float64       // Default: 1.0
	RateLimiterConfig llm.RateLimiterConfig
}

// Default OpenAI configuration values.
// Can be overridden via environment variables:
//   - OPENAI_DEFAULT_MODEL
//   - OPENAI_API_ENDPOINT
const (
	DefaultModel       = "gpt-4o"
	DefaultEndpoint    = "https://api.openai.com/v1/chat/completions"
	DefaultTimeout     = 60 * time.Second
	DefaultMaxTokens   = 4096
	DefaultTemperature = 1.0

	// idleChunkTimeout bounds the wait for the next stream chunk.
	idleChunkTimeout = 30 * time.Second
)

// supportedModels lists the models this adapter serves, in preference order.
var supportedModels = []string{
	"gpt-4o",
	"gpt-4o-mini",
	"gpt-4-turbo",
	"gpt-4",
	"gpt-3.5-turbo",
}

// NewClient creates a new OpenAI client.
func NewClient(config Config) *Client {
	if config.Model == "" {
		if envModel := os.Getenv("OPENAI_DEFAULT_MODEL"); envModel != "" {
			config.Model = envModel
		} else {
			config.Model = DefaultModel
		}
	}
	if config.Endpoint == "" {
		if envEndpoint := os.Getenv("OPENAI_API_ENDPOINT"); envEndpoint != "" {
			config.Endpoint = envEndpoint
		} else {
			config.Endpoint = DefaultEndpoint
		}
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
	return "openai"
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
	case "gpt-4o", "gpt-4o-mini", "gpt-4-turbo":
		caps.Vision = true
	}
	return caps
}

// Complete sends a blocking completion request.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*types.Completion, error) {
	apiReq := c.buildRequest(req, false)

	start := time.Now()
	var apiResp *ChatCompletionResponse
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
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	// No overall deadline on the stream; idle-chunk timeout applies instead.
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

// buildRequest assembles the wire request from the normalized one.
func (c *Client) buildRequest(req llm.Request, stream bool) *ChatCompletionRequest {
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

	apiReq := &ChatCompletionRequest{
		Model:       model,
		Messages:    convertMessages(req.Messages),
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      stream,
	}
	if tools := convertTools(req.Tools); len(tools) > 0 {
		apiReq.Tools = tools
		apiReq.ToolChoice = "auto"
	}
	return apiReq
}

// convertMessages converts normalized messages to the OpenAI wire format.
func convertMessages(messages []types.Message) []ChatMessage {
	apiMessages := make([]ChatMessage, 0, len(messages))
	for _, msg := range messages {
		apiMsg := ChatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Role == "tool" {
			apiMsg.ToolCallID = msg.ToolCallID
		}
		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			for _, tc := range msg.ToolCalls {
				argsJSON, err := json.Marshal(tc.Args)
				if err != nil {
					argsJSON = []byte("{}")
				}
				apiMsg.ToolCalls = append(apiMsg.ToolCalls, ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: FunctionCall{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
		}
		apiMessages = append(apiMessages, apiMsg)
	}
	return apiMessages
}

// convertTools converts normalized tool declarations to the wire format.
func convertTools(tools []types.ToolDef) []Tool {
	var apiTools []Tool
	for _, tool := range tools {
		params := tool.Parameters
		if params == nil {
			params = map[string]interface{}{"type": "object"}
		}
		apiTools = append(apiTools, Tool{
			Type: "function",
			Function: FunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return apiTools
}

// convertResponse converts the wire response to a normalized Completion.
func (c *Client) convertResponse(resp *ChatCompletionResponse) *types.Completion {
	completion := &types.Completion{
		Model:    resp.Model,
		Provider: c.Name(),
		Usage: types.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if completion.Model == "" {
		completion.Model = c.model
	}

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		completion.Content = choice.Message.Content
		completion.FinishReason = choice.FinishReason
		completion.ToolCalls = convertToolCalls(choice.Message.ToolCalls)
	}
	return completion
}

// convertToolCalls parses wire tool calls back to the normalized shape.
func convertToolCalls(calls []ToolCall) []types.ToolCall {
	var out []types.ToolCall
	for _, tc := range calls {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			args = map[string]interface{}{"_raw": tc.Function.Arguments}
		}
		out = append(out, types.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out
}

// callAPI makes the HTTP request to the chat completions endpoint.
func (c *Client) callAPI(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

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

	var apiResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &apiResp, nil
}

// consumeStream reads SSE lines until [DONE], forwarding content deltas.
// Waiting longer than idleChunkTimeout for the next chunk fails the stream.
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
	var finishReason, model string
	toolCallMap := make(map[int]*types.ToolCall)
	toolArgs := make(map[int]*strings.Builder)
	var toolOrder []int

	idle := time.NewTimer(idleChunkTimeout)
	defer idle.Stop()

	for {
		var line string
		var open bool
		select {
		case line, open = <-lines:
			if !open {
				if err := <-scanErr; err != nil {
					return nil, llm.TransportError(c.Name(), err)
				}
				return c.finishStream(&contentBuffer, usage, finishReason, model, toolCallMap, toolArgs, toolOrder), nil
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(idleChunkTimeout)
		case <-idle.C:
			body.Close()
			return nil, fmt.Errorf("%s: %w: no stream chunk within %s", c.Name(), types.ErrTimeout, idleChunkTimeout)
		case <-ctx.Done():
			body.Close()
			return nil, llm.TransportError(c.Name(), ctx.Err())
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		jsonData := strings.TrimPrefix(line, "data: ")
		if jsonData == "[DONE]" {
			return c.finishStream(&contentBuffer, usage, finishReason, model, toolCallMap, toolArgs, toolOrder), nil
		}

		var chunk ChatCompletionStreamChunk
		if err := json.Unmarshal([]byte(jsonData), &chunk); err != nil {
			// Skip malformed chunks but continue processing.
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage.PromptTokens = chunk.Usage.PromptTokens
			usage.CompletionTokens = chunk.Usage.CompletionTokens
			usage.TotalTokens = chunk.Usage.TotalTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			contentBuffer.WriteString(choice.Delta.Content)
			if fn != nil {
				fn(choice.Delta.Content)
			}
		}
		for _, tcDelta := range choice.Delta.ToolCalls {
			idx := tcDelta.Index
			if _, exists := toolCallMap[idx]; !exists {
				toolCallMap[idx] = &types.ToolCall{
					ID:   tcDelta.ID,
					Name: tcDelta.Function.Name,
				}
				toolArgs[idx] = &strings.Builder{}
				toolOrder = append(toolOrder, idx)
			}
			if tcDelta.Function.Arguments != "" {
				toolArgs[idx].WriteString(tcDelta.Function.Arguments)
			}
		}
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
	}
}

// finishStream assembles the aggregated completion from stream state.
func (c *Client) finishStream(content *strings.Builder, usage types.Usage, finishReason, model string,
	toolCallMap map[int]*types.ToolCall, toolArgs map[int]*strings.Builder, toolOrder []int) *types.Completion {

	var toolCalls []types.ToolCall
	for _, idx := range toolOrder {
		tc := toolCallMap[idx]
		var args map[string]interface{}
		raw := toolArgs[idx].String()
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			args = map[string]interface{}{"_raw": raw}
		}
		tc.Args = args
		toolCalls = append(toolCalls, *tc)
	}

	if model == "" {
		model = c.model
	}
	return &types.Completion{
		Content:      content.String(),
		Model:        model,
		Provider:     c.Name(),
		Usage:        usage,
		FinishReason: finishReason,
		ToolCalls:    toolCalls,
	}
}

// limiterDo runs call under the rate limiter when one is configured.
func (c *Client) limiterDo(ctx context.Context, call func(context.Context) error) error {
	if c.rateLimiter == nil {
		return call(ctx)
	}
	return c.rateLimiter.Do(ctx, call)
}

// Verify interface compliance at compile time.
var _ llm.Provider = (*Client)(nil)
