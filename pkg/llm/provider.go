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
// Package llm defines the provider abstraction over LLM backends.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/atelierhq/atelier/pkg/types"
)

// Request is a normalized completion request. Adapters translate it to
// each backend's wire format.
type Request struct {
	Messages    []types.Message
	Model       string
	Temperature float64
	MaxTokens   int
	Tools       []types.ToolDef
}

// StreamFunc receives text chunks as the provider emits them.
type StreamFunc func(chunk string)

// Provider presents one identical capability set regardless of backend.
type Provider interface {
	// Name returns the provider identifier (openai, anthropic, groq).
	Name() string

	// Complete sends a blocking completion request.
	Complete(ctx context.Context, req Request) (*types.Completion, error)

	// Stream sends a streaming request, invoking fn per text chunk.
	// The returned Completion aggregates the full response.
	Stream(ctx context.Context, req Request, fn StreamFunc) (*types.Completion, error)

	// Models returns the supported model identifiers, in preference order.
	Models() []string

	// Capabilities reports what the given model supports.
	Capabilities(model string) types.ModelCaps
}

// APIError maps a non-2xx provider response to the shared error taxonomy.
// 401/403 mean rejected credentials, 429 means rate limiting, a 404 or a
// body mentioning the model means an unknown model, everything else is an
// upstream failure.
func APIError(provider string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	switch {
	case status == 401 || status == 403:
		return fmt.Errorf("%s: %w (status %d): %s", provider, types.ErrAuth, status, msg)
	case status == 429:
		return fmt.Errorf("%s: %w (status %d): %s", provider, types.ErrRateLimit, status, msg)
	case status == 404, strings.Contains(msg, "model_not_found"), strings.Contains(msg, "does not exist"):
		return fmt.Errorf("%s: %w (status %d): %s", provider, types.ErrInvalidModel, status, msg)
	default:
		return fmt.Errorf("%s: %w (status %d): %s", provider, types.ErrUpstream, status, msg)
	}
}

// TransportError maps request-level failures (dial, deadline, cancel) to
// the shared error taxonomy.
func TransportError(provider string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %v", provider, types.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w: %v", provider, types.ErrCancelled, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w: %v", provider, types.ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %v", provider, types.ErrUpstream, err)
}
