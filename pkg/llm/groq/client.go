// Package groq implements the Provider interface over Groq's
// OpenAI-compatible chat completions API.
package groq

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

// Client implements the Provider interface for Groq's API.
type Client struct {
	apiKey      string
	model       string
	endpoint    string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
	rateLimiter *llm.RateLimiter
}

// Config holds configuration for the Groq client.
type Config struct {
	APIKey            string
	Model             string        // Default: llama-3.3-70b-versatile
	Endpoint          string        // Default: https://api.groq.com/openai/v1/chat/completions
	Timeout           time.Duration // Default: 30s
	MaxTokens         int           // Default: 4096
	Temperature       float64       // Default: 1.0
	RateLimiterConfig llm.RateLimiterConfig
}

// Default Groq configuration values. The model default can be
// overridden via GROQ_DEFAULT_MODEL.
const (
	DefaultModel       = "llama-3.3-70b-versatile"
	DefaultEndpoint    = "https://api.groq.com/openai/v1/chat/completions"
	DefaultTimeout     = 30 * time.Second
	DefaultMaxTokens   = 4096
	DefaultTemperature = 1.0

	idleChunkTimeout = 30 * time.Second
)

var supportedModels = []string{
	"llama-3.3-70b-versatile",
	"llama-3.1-8b-instant",
	"mixtral-8x7b-32768",
	"gemma2-9b-it",
}

// NewClient creates a new Groq client.
func NewClient(config Config) *Client {
	if config.Model == "" {
		if envModel := os.Getenv("GROQ_DEFAULT_MODEL"); envModel != "" {
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
	return "groq"
}

// Models returns the supported model identifiers.
func (c *Client) Models() []string {
	models := make([]string, len(supportedModels))
	copy(models, supportedModels)
	return models
}

// Capabilities reports what the given model supports. None of the
// hosted models take image input.
func (c *Client) Capabilities(model string) types.ModelCaps {
	return types.ModelCaps{Streaming: true, Tools: true}
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
		for _, tc := range choice.Message.ToolCalls {
			var args map[string]interface{}
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]interface{}{"_raw": tc.Function.Arguments}
			}
			completion.ToolCalls = append(completion.ToolCalls, types.ToolCall{
				ID:   tc.ID,
				Name: tc.Function.Name,
				Args: args,
			})
		}
	}
	return completion
}

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
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		// Groq reports usage on the final chunk under x_groq.
		if chunk.Usage != nil {
			usage.PromptTokens = chunk.Usage.PromptTokens
			usage.CompletionTokens = chunk.Usage.CompletionTokens
			usage.TotalTokens = chunk.Usage.TotalTokens
		} else if chunk.XGroq != nil && chunk.XGroq.Usage != nil {
			usage.PromptTokens = chunk.XGroq.Usage.PromptTokens
			usage.CompletionTokens = chunk.XGroq.Usage.CompletionTokens
			usage.TotalTokens = chunk.XGroq.Usage.TotalTokens
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

func (c *Client) limiterDo(ctx context.Context, call func(context.Context) error) error {
	if c.rateLimiter == nil {
		return call(ctx)
	}
	return c.rateLimiter.Do(ctx, call)
}

// Verify interface compliance at compile time.
var _ llm.Provider = (*Client)(nil)
