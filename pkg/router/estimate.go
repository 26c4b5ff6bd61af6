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
package router

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/atelierhq/atelier/pkg/types"
)

// TokenEstimator approximates prompt token counts for quota checks.
// Uses tiktoken with cl100k_base encoding, a reasonable approximation
// across every backend the router serves.
type TokenEstimator struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

var (
	globalEstimator *TokenEstimator
	estimatorOnce   sync.Once
)

// GetEstimator returns a singleton token estimator instance.
func GetEstimator() *TokenEstimator {
	estimatorOnce.Do(func() {
		tkm, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Fallback: approximate counting if tiktoken fails
			globalEstimator = &TokenEstimator{encoder: nil}
			return
		}
		globalEstimator = &TokenEstimator{encoder: tkm}
	})
	return globalEstimator
}

// CountTokens returns the token count for a given text.
func (te *TokenEstimator) CountTokens(text string) int {
	if te.encoder == nil {
		// Char-based estimation if the encoder is unavailable
		return len(text) / 4
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	tokens := te.encoder.Encode(text, nil, nil)
	return len(tokens)
}

// EstimateMessages estimates the prompt token count for a message
// slice, including per-message formatting overhead.
func (te *TokenEstimator) EstimateMessages(messages []types.Message) int {
	total := 0
	for _, msg := range messages {
		// Role plus formatting overhead, roughly 10 tokens per message
		total += 10
		total += te.CountTokens(msg.Content)
		if len(msg.ToolCalls) > 0 {
			total += te.CountTokens(fmt.Sprintf("%v", msg.ToolCalls))
		}
	}
	return total
}
