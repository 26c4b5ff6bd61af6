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
package types

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds shared across the platform. Callers match with errors.Is;
// kinds carrying data (quota, missing input) are structured types matched
// with errors.As.
var (
	// ErrAuth indicates a provider or tool rejected the supplied credentials.
	ErrAuth = errors.New("authentication rejected")

	// ErrRateLimit indicates the provider returned 429.
	ErrRateLimit = errors.New("rate limited")

	// ErrUpstream indicates a non-2xx provider response not covered by a
	// more specific kind.
	ErrUpstream = errors.New("upstream error")

	// ErrTimeout indicates a deadline was exceeded.
	ErrTimeout = errors.New("timeout")

	// ErrInvalidModel indicates a model identifier the backend does not serve.
	ErrInvalidModel = errors.New("invalid model")

	// ErrCancelled indicates an execution was cancelled externally.
	ErrCancelled = errors.New("cancelled")

	// ErrConfig indicates invalid configuration: BYOK mode without keys,
	// unknown task type, or a workflow definition outside the allowed
	// grammar. Raised at configuration write time where possible.
	ErrConfig = errors.New("invalid configuration")

	// ErrLoopBound indicates a workflow exceeded a loop or goto bound.
	ErrLoopBound = errors.New("loop bound exceeded")

	// ErrToolStatus indicates an invocation of a tool whose status is not active.
	ErrToolStatus = errors.New("tool not active")
)

// QuotaExceededError is returned when a platform-mode tenant's monthly
// token budget cannot cover the next call. No provider traffic happens.
type QuotaExceededError struct {
	Remaining int64
	Limit     int64
	ResetAt   time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly token limit reached: %d remaining of %d, resets %s",
		e.Remaining, e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

// IsQuotaExceeded reports whether err is a QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var q *QuotaExceededError
	return errors.As(err, &q)
}

// MissingInputError is returned when workflow input validation fails.
// The execution record is never created.
type MissingInputError struct {
	Field string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("missing required input: %s", e.Field)
}

// IsMissingInput reports whether err is a MissingInputError.
func IsMissingInput(err error) bool {
	var m *MissingInputError
	return errors.As(err, &m)
}

// Retryable reports whether err is worth retrying on another provider or
// after backoff. Auth, config, and quota failures are not.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrRateLimit), errors.Is(err, ErrUpstream), errors.Is(err, ErrTimeout):
		return true
	}
	return false
}
