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

// Package mem0 exposes the hosted mem0 memory service as an agent toolset.
//
// Four tools surface to the model: add_memory, search_memory,
// get_all_memories and delete_all_memories. Every operation is scoped to a
// single user id, so one conversation owner maps to one memory space.
// Requests authenticate with the service's Token scheme.
package mem0

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lsvishaal/web-extraction-agent/pkg/httpclient"
	"github.com/lsvishaal/web-extraction-agent/pkg/tool"
)

const (
	defaultBaseURL = "https://api.mem0.ai"
	defaultUserID  = "default"
	defaultTimeout = 30 * time.Second
)

// Config configures the mem0 toolset.
type Config struct {
	// APIKey authenticates against the mem0 platform. Required.
	APIKey string

	// UserID scopes all memory operations. Default: "default".
	UserID string

	// BaseURL overrides the platform endpoint, e.g. for tests.
	BaseURL string

	// Timeout bounds each API call. Default: 30s.
	Timeout time.Duration
}

// Toolset is the mem0-backed memory toolset.
type Toolset struct {
	apiKey  string
	userID  string
	baseURL string
	client  *httpclient.Client
}

// New creates a mem0 toolset.
func New(cfg Config) (*Toolset, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	if cfg.UserID == "" {
		cfg.UserID = defaultUserID
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Toolset{
		apiKey:  cfg.APIKey,
		userID:  cfg.UserID,
		baseURL: cfg.BaseURL,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			httpclient.WithMaxRetries(3),
			httpclient.WithHeaderParser(httpclient.ParseRetryAfterHeader),
		),
	}, nil
}

// Name identifies the toolset.
func (ts *Toolset) Name() string {
	return "mem0"
}

type addArgs struct {
	Content string `json:"content" jsonschema:"required,description=The fact to remember"`
}

type searchArgs struct {
	Query string `json:"query" jsonschema:"required,description=Natural-language query over stored memories"`
}

// emptySchema is the schema for tools that take no arguments.
func emptySchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

// Tools returns the four memory tools.
func (ts *Toolset) Tools(ctx context.Context) ([]tool.Tool, error) {
	return []tool.Tool{
		&memTool{
			name:        "add_memory",
			description: "Store a fact about the user or the current task in long-term memory. Use when the user shares preferences, constraints, or details worth remembering across sessions.",
			schema:      tool.MustSchemaFor[addArgs](),
			run:         ts.addMemory,
		},
		&memTool{
			name:        "search_memory",
			description: "Search long-term memory for facts relevant to a query. Use before asking the user for information they may have already provided.",
			schema:      tool.MustSchemaFor[searchArgs](),
			run:         ts.searchMemory,
		},
		&memTool{
			name:        "get_all_memories",
			description: "List everything currently stored in long-term memory for this user.",
			schema:      emptySchema(),
			run:         ts.getAllMemories,
		},
		&memTool{
			name:        "delete_all_memories",
			description: "Delete all stored memories for this user. This cannot be undone.",
			schema:      emptySchema(),
			run:         ts.deleteAllMemories,
		},
	}, nil
}

// memTool binds one memory operation to the tool.Tool interface.
type memTool struct {
	name        string
	description string
	schema      map[string]any
	run         func(ctx context.Context, args map[string]any) (*tool.Result, error)
}

func (t *memTool) Name() string           { return t.name }
func (t *memTool) Description() string    { return t.description }
func (t *memTool) Schema() map[string]any { return t.schema }

func (t *memTool) Call(ctx context.Context, args map[string]any) (*tool.Result, error) {
	return t.run(ctx, args)
}

// memoryEntry is one stored memory as the API returns it. Score is only
// present on search results.
type memoryEntry struct {
	ID        string   `json:"id,omitempty"`
	Memory    string   `json:"memory"`
	Score     *float64 `json:"score,omitempty"`
	CreatedAt string   `json:"created_at,omitempty"`
}

func (ts *Toolset) addMemory(ctx context.Context, args map[string]any) (*tool.Result, error) {
	content, _ := args["content"].(string)
	if content == "" {
		return nil, fmt.Errorf("content parameter is required")
	}

	payload := map[string]any{
		"messages": []map[string]string{
			{"role": "user", "content": content},
		},
		"user_id": ts.userID,
	}

	if _, err := ts.post(ctx, "/v1/memories/", payload); err != nil {
		return nil, err
	}

	return &tool.Result{Content: "Memory added."}, nil
}

func (ts *Toolset) searchMemory(ctx context.Context, args map[string]any) (*tool.Result, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("query parameter is required")
	}

	payload := map[string]any{
		"query":   query,
		"user_id": ts.userID,
	}

	data, err := ts.post(ctx, "/v1/memories/search/", payload)
	if err != nil {
		return nil, err
	}

	entries, err := decodeMemories(data)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return &tool.Result{Content: "No memories found."}, nil
	}

	return memoriesResult(entries)
}

func (ts *Toolset) getAllMemories(ctx context.Context, _ map[string]any) (*tool.Result, error) {
	query := url.Values{"user_id": {ts.userID}}

	data, err := ts.get(ctx, "/v1/memories/?"+query.Encode())
	if err != nil {
		return nil, err
	}

	entries, err := decodeMemories(data)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return &tool.Result{Content: "No memories stored."}, nil
	}

	return memoriesResult(entries)
}

func (ts *Toolset) deleteAllMemories(ctx context.Context, _ map[string]any) (*tool.Result, error) {
	query := url.Values{"user_id": {ts.userID}}

	if _, err := ts.delete(ctx, "/v1/memories/?"+query.Encode()); err != nil {
		return nil, err
	}

	return &tool.Result{Content: "All memories deleted."}, nil
}

// memoriesResult renders entries as a JSON array for the model.
func memoriesResult(entries []memoryEntry) (*tool.Result, error) {
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal memories: %w", err)
	}
	return &tool.Result{
		Content:  string(data),
		Metadata: map[string]any{"count": len(entries)},
	}, nil
}

// decodeMemories accepts both response shapes the platform uses: a bare
// array and a {"results": [...]} envelope.
func decodeMemories(data []byte) ([]memoryEntry, error) {
	var entries []memoryEntry
	if err := json.Unmarshal(data, &entries); err == nil {
		return entries, nil
	}

	var envelope struct {
		Results []memoryEntry `json:"results"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil {
		return envelope.Results, nil
	}

	return nil, fmt.Errorf("unexpected memory API response: %s", excerpt(data))
}

func (ts *Toolset) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")

	return ts.do(req)
}

func (ts *Toolset) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return ts.do(req)
}

func (ts *Toolset) delete(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, ts.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return ts.do(req)
}

func (ts *Toolset) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Token "+ts.apiKey)

	resp, err := ts.client.Do(req)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("memory API error (status %d): %s", resp.StatusCode, excerpt(body))
		}
		return nil, fmt.Errorf("memory API request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

func excerpt(data []byte) string {
	s := string(data)
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}

// Ensure interfaces are implemented
var (
	_ tool.Toolset = (*Toolset)(nil)
	_ tool.Tool    = (*memTool)(nil)
)
