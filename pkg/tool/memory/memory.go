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

// Package memory is the embedded fallback for the hosted memory service.
//
// It exposes the same four tools as the mem0 toolset (add_memory,
// search_memory, get_all_memories, delete_all_memories) backed by a local
// chromem vector store, so the agent keeps a working memory surface when no
// service credential is configured. Similarity search uses a hashed
// bag-of-words embedding computed locally; no network calls are made.
//
// Single-process only. All memories belong to one local user.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/lsvishaal/web-extraction-agent/pkg/tool"
)

const (
	collectionName = "memories"
	indexFileName  = "index.json"

	// embeddingDim is the hashed bag-of-words dimensionality. Collisions
	// are acceptable; this is a recall aid, not an embedding model.
	embeddingDim = 256

	defaultSearchLimit = 5
)

// Config configures the embedded memory store.
type Config struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string
}

// record is one stored memory in the enumeration index. The vector store
// has no listing API, so the toolset keeps its own ordered index.
type record struct {
	ID        string `json:"id"`
	Memory    string `json:"memory"`
	CreatedAt string `json:"created_at"`
}

// Toolset is the chromem-backed local memory toolset.
type Toolset struct {
	db   *chromem.DB
	path string

	mu      sync.Mutex
	col     *chromem.Collection
	records []record
}

// New creates the embedded store, loading any persisted state from Path.
func New(cfg Config) (*Toolset, error) {
	var db *chromem.DB
	var err error

	if cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create memory directory: %w", err)
		}
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open memory store: %w", err)
		}
		slog.Info("Opened embedded memory store", "path", cfg.Path)
	} else {
		db = chromem.NewDB()
		slog.Info("Created in-memory memory store (no persistence)")
	}

	col, err := db.GetOrCreateCollection(collectionName, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory collection: %w", err)
	}

	ts := &Toolset{
		db:   db,
		path: cfg.Path,
		col:  col,
	}

	if err := ts.loadIndex(); err != nil {
		slog.Warn("Failed to load memory index, starting empty", "error", err)
	}

	return ts, nil
}

// Name identifies the toolset.
func (ts *Toolset) Name() string {
	return "memory"
}

type addArgs struct {
	Content string `json:"content" jsonschema:"required,description=The fact to remember"`
}

type searchArgs struct {
	Query string `json:"query" jsonschema:"required,description=Natural-language query over stored memories"`
}

func emptySchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

// Tools returns the four memory tools. Names and descriptions mirror the
// hosted toolset so the model sees one memory surface either way.
func (ts *Toolset) Tools(ctx context.Context) ([]tool.Tool, error) {
	return []tool.Tool{
		&localTool{
			name:        "add_memory",
			description: "Store a fact about the user or the current task in long-term memory. Use when the user shares preferences, constraints, or details worth remembering across sessions.",
			schema:      tool.MustSchemaFor[addArgs](),
			run:         ts.addMemory,
		},
		&localTool{
			name:        "search_memory",
			description: "Search long-term memory for facts relevant to a query. Use before asking the user for information they may have already provided.",
			schema:      tool.MustSchemaFor[searchArgs](),
			run:         ts.searchMemory,
		},
		&localTool{
			name:        "get_all_memories",
			description: "List everything currently stored in long-term memory for this user.",
			schema:      emptySchema(),
			run:         ts.getAllMemories,
		},
		&localTool{
			name:        "delete_all_memories",
			description: "Delete all stored memories for this user. This cannot be undone.",
			schema:      emptySchema(),
			run:         ts.deleteAllMemories,
		},
	}, nil
}

type localTool struct {
	name        string
	description string
	schema      map[string]any
	run         func(ctx context.Context, args map[string]any) (*tool.Result, error)
}

func (t *localTool) Name() string           { return t.name }
func (t *localTool) Description() string    { return t.description }
func (t *localTool) Schema() map[string]any { return t.schema }

func (t *localTool) Call(ctx context.Context, args map[string]any) (*tool.Result, error) {
	return t.run(ctx, args)
}

func (ts *Toolset) addMemory(ctx context.Context, args map[string]any) (*tool.Result, error) {
	content, _ := args["content"].(string)
	if content == "" {
		return nil, fmt.Errorf("content parameter is required")
	}

	rec := record{
		ID:        uuid.NewString(),
		Memory:    content,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	doc := chromem.Document{
		ID:       rec.ID,
		Content:  content,
		Metadata: map[string]string{"created_at": rec.CreatedAt},
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if err := ts.col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return nil, fmt.Errorf("failed to store memory: %w", err)
	}

	ts.records = append(ts.records, rec)
	ts.saveIndex()

	return &tool.Result{Content: "Memory added."}, nil
}

func (ts *Toolset) searchMemory(ctx context.Context, args map[string]any) (*tool.Result, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("query parameter is required")
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if len(ts.records) == 0 {
		return &tool.Result{Content: "No memories found."}, nil
	}

	limit := defaultSearchLimit
	if limit > len(ts.records) {
		limit = len(ts.records)
	}

	results, err := ts.col.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("memory search failed: %w", err)
	}

	type hit struct {
		ID     string  `json:"id"`
		Memory string  `json:"memory"`
		Score  float32 `json:"score"`
	}
	hits := make([]hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, hit{ID: r.ID, Memory: r.Content, Score: r.Similarity})
	}

	data, err := json.Marshal(hits)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal memories: %w", err)
	}

	return &tool.Result{
		Content:  string(data),
		Metadata: map[string]any{"count": len(hits)},
	}, nil
}

func (ts *Toolset) getAllMemories(ctx context.Context, _ map[string]any) (*tool.Result, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if len(ts.records) == 0 {
		return &tool.Result{Content: "No memories stored."}, nil
	}

	data, err := json.Marshal(ts.records)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal memories: %w", err)
	}

	return &tool.Result{
		Content:  string(data),
		Metadata: map[string]any{"count": len(ts.records)},
	}, nil
}

func (ts *Toolset) deleteAllMemories(ctx context.Context, _ map[string]any) (*tool.Result, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if err := ts.db.DeleteCollection(collectionName); err != nil {
		return nil, fmt.Errorf("failed to delete memories: %w", err)
	}

	col, err := ts.db.GetOrCreateCollection(collectionName, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to recreate memory collection: %w", err)
	}
	ts.col = col

	ts.records = nil
	ts.saveIndex()

	return &tool.Result{Content: "All memories deleted."}, nil
}

// loadIndex restores the enumeration index from disk.
func (ts *Toolset) loadIndex() error {
	if ts.path == "" {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(ts.path, indexFileName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	return json.Unmarshal(data, &ts.records)
}

// saveIndex writes the enumeration index. Callers hold the mutex. Failures
// are logged: the vector store remains the source of truth for search.
func (ts *Toolset) saveIndex() {
	if ts.path == "" {
		return
	}

	data, err := json.Marshal(ts.records)
	if err != nil {
		slog.Warn("Failed to marshal memory index", "error", err)
		return
	}
	if err := os.WriteFile(filepath.Join(ts.path, indexFileName), data, 0644); err != nil {
		slog.Warn("Failed to persist memory index", "error", err)
	}
}

// embedFunc is the local embedding function handed to chromem.
func embedFunc(_ context.Context, text string) ([]float32, error) {
	return embedText(text), nil
}

// embedText builds an L2-normalized hashed bag-of-words vector. Tokens are
// lowercased runs of letters and digits.
func embedText(text string) []float32 {
	vec := make([]float32, embeddingDim)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	for _, token := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[h.Sum32()%embeddingDim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}

	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// Ensure interfaces are implemented
var (
	_ tool.Toolset = (*Toolset)(nil)
	_ tool.Tool    = (*localTool)(nil)
)
