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

// Package tools is the uniform boundary for external side effects.
// Every integration (email, CRM, calendar, webhooks) implements Tool
// and is invoked through the Registry, which checks the stored status
// gate and bounds the call with a per-tool timeout before any network
// traffic happens. Tools without provider credentials answer in mock
// mode so workflows stay runnable in development.
package tools

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
)

// Request carries one tool invocation: the calling tenant, the stored
// per-tool configuration, and the interpolated call parameters.
type Request struct {
	TenantID string
	Config   map[string]string
	Params   map[string]interface{}
}

// Result is a successful tool return. Data is what the workflow task
// records as its output.
type Result struct {
	Data map[string]interface{} `json:"data"`
}

// Tool is one external integration.
type Tool interface {
	// Name returns the registry identifier (email, crm, calendar, ...).
	Name() string

	// Description returns a human-readable description for agent context.
	Description() string

	// RequiredConfig lists the stored config keys the tool needs to
	// leave mock mode.
	RequiredConfig() []string

	// Run executes the tool.
	Run(ctx context.Context, req Request) (*Result, error)
}

// Failure classes a tool may report.
const (
	CodeAuth       = "auth"
	CodeNotFound   = "not_found"
	CodeTimeout    = "timeout"
	CodeRateLimit  = "rate_limit"
	CodeConnection = "connection"
	CodePermission = "permission"
	CodeTemplate   = "template"
	CodeUnknown    = "unknown"
)

// Error is a structured tool failure.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// retryableCodes are the transient failure classes.
var retryableCodes = map[string]bool{
	CodeTimeout:    true,
	CodeRateLimit:  true,
	CodeConnection: true,
}

// Errorf builds a structured failure. Retryability follows the code.
func Errorf(code, format string, args ...interface{}) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: retryableCodes[code],
	}
}

// statusError maps a non-2xx upstream response to the failure classes.
func statusError(status int, body []byte) *Error {
	msg := string(body)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	switch {
	case status == 401:
		return Errorf(CodeAuth, "upstream rejected credentials (status %d): %s", status, msg)
	case status == 403:
		return Errorf(CodePermission, "upstream denied the operation (status %d): %s", status, msg)
	case status == 404:
		return Errorf(CodeNotFound, "upstream resource not found: %s", msg)
	case status == 408 || status == 504:
		return Errorf(CodeTimeout, "upstream timed out (status %d)", status)
	case status == 429:
		return Errorf(CodeRateLimit, "upstream rate limited (status %d): %s", status, msg)
	case status == 502 || status == 503:
		return Errorf(CodeConnection, "upstream unavailable (status %d)", status)
	default:
		return Errorf(CodeUnknown, "upstream error (status %d): %s", status, msg)
	}
}

// transportError maps request-level failures (dial, deadline, cancel)
// to the failure classes.
func transportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Errorf(CodeTimeout, "request timed out: %v", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Errorf(CodeTimeout, "request timed out: %v", err)
	}
	return Errorf(CodeConnection, "request failed: %v", err)
}

// shortHash gives mock responses a stable id derived from their input.
func shortHash(s string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}

// Param accessors. Interpolated params arrive as loosely typed JSON
// values; absent or mistyped keys read as zero values.

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

func boolParam(params map[string]interface{}, key string) bool {
	b, _ := params[key].(bool)
	return b
}

// intParam tolerates the float64 that JSON decoding produces.
func intParam(params map[string]interface{}, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

// stringList accepts a single string, a []string, or a JSON array of
// strings.
func stringList(v interface{}) []string {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
