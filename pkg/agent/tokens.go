// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 The web-extraction-agent authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts conversation tokens for one model's encoding.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter creates a counter for the given model. Models without a
// registered tiktoken encoding (most non-OpenAI ids) fall back to
// cl100k_base.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Model returns the model id this counter was built for.
func (tc *TokenCounter) Model() string {
	return tc.model
}

// Count returns the token count for text.
func (tc *TokenCounter) Count(text string) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessage returns the token count for one message, including the
// per-message framing overhead of the chat completions format.
func (tc *TokenCounter) CountMessage(msg *a2a.Message) int {
	if msg == nil {
		return 0
	}

	tc.mu.RLock()
	defer tc.mu.RUnlock()

	// <|start|>role<|message|>...<|end|>
	tokens := 3
	tokens += len(tc.encoding.Encode(string(msg.Role), nil, nil))
	tokens += len(tc.encoding.Encode(flattenMessage(msg), nil, nil))
	return tokens
}

// CountMessages returns the token count for a conversation, including the
// assistant reply priming.
func (tc *TokenCounter) CountMessages(messages []*a2a.Message) int {
	total := 3
	for _, msg := range messages {
		total += tc.CountMessage(msg)
	}
	return total
}

// FitWithinLimit returns the longest contiguous suffix of messages that
// fits within maxTokens, walking from most recent backwards. The newest
// message is always kept, even when it alone exceeds the budget: an
// oversized request at least gives the model the current turn.
func (tc *TokenCounter) FitWithinLimit(messages []*a2a.Message, maxTokens int) []*a2a.Message {
	if len(messages) == 0 {
		return messages
	}

	fitted := make([]*a2a.Message, 0, len(messages))
	currentTokens := 3

	for i := len(messages) - 1; i >= 0; i-- {
		msgTokens := tc.CountMessage(messages[i])
		if currentTokens+msgTokens > maxTokens && len(fitted) > 0 {
			break
		}
		fitted = append([]*a2a.Message{messages[i]}, fitted...)
		currentTokens += msgTokens
	}

	if len(fitted) < len(messages) {
		slog.Debug("Evicted conversation history to fit token budget",
			"kept", len(fitted), "evicted", len(messages)-len(fitted), "budget", maxTokens)
	}

	return fitted
}

// flattenMessage renders a message as the text the model will be charged
// for: text parts verbatim, data parts (tool calls and results) as their
// JSON encoding.
func flattenMessage(msg *a2a.Message) string {
	var out string
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case a2a.TextPart:
			out += p.Text
		case a2a.DataPart:
			if encoded, err := json.Marshal(p.Data); err == nil {
				out += string(encoded)
			}
		}
	}
	return out
}
