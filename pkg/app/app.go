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

// Package app holds the application context: configuration store, tool
// lifecycle manager, model client and agent, initialized lazily on the
// first inbound message.
//
// EnsureReady is the single initialization entry. It runs three steps in
// strict order under one mutex: configuration load, tool initialization,
// agent construction. The agent never sees a half-populated handle list.
// A configuration failure leaves the app Uninitialized and is returned to
// the caller; the next request retries. Tool failures degrade the toolset
// and never block readiness.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/lsvishaal/web-extraction-agent/pkg/agent"
	"github.com/lsvishaal/web-extraction-agent/pkg/config"
	"github.com/lsvishaal/web-extraction-agent/pkg/lifecycle"
	"github.com/lsvishaal/web-extraction-agent/pkg/model"
	"github.com/lsvishaal/web-extraction-agent/pkg/model/openrouter"
	"github.com/lsvishaal/web-extraction-agent/pkg/tool"
	"github.com/lsvishaal/web-extraction-agent/pkg/tool/document"
	"github.com/lsvishaal/web-extraction-agent/pkg/tool/mem0"
	"github.com/lsvishaal/web-extraction-agent/pkg/tool/memory"
)

// State is the app's initialization state.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Config configures the application context.
type Config struct {
	// ConfigPath is the configuration document location. Defaults to
	// "config.json".
	ConfigPath string

	// ModelID selects the model. Defaults to "openai/gpt-5".
	ModelID string

	// OpenRouterAPIKey authenticates model calls. Required.
	OpenRouterAPIKey string

	// Mem0APIKey enables the remote memory backend. When empty the app
	// falls back to the embedded local store.
	Mem0APIKey string

	// MemoryPath is the embedded memory store directory. Defaults to a
	// "memory" directory next to the configuration document.
	MemoryPath string

	// Capabilities gates the default tool catalog. Nil snapshots the
	// process environment.
	Capabilities config.CapabilityMap

	// BaseEnv is the environment handed to tool subprocesses. Nil
	// snapshots the process environment at initialization time.
	BaseEnv map[string]string

	// NewModel overrides model client construction.
	NewModel func(Config) (model.LLM, error)

	// Multiplexer overrides tool connection construction.
	Multiplexer lifecycle.MultiplexerFactory
}

// App is the lazily initialized application context.
type App struct {
	cfg Config

	mu      sync.Mutex
	state   State
	store   *config.Store
	manager *lifecycle.Manager
	llm     model.LLM
	agent   *agent.Agent
}

// New creates an uninitialized application context.
func New(cfg Config) (*App, error) {
	if cfg.OpenRouterAPIKey == "" {
		return nil, fmt.Errorf("OpenRouter API key is required")
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = "config.json"
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "openai/gpt-5"
	}
	if cfg.MemoryPath == "" {
		cfg.MemoryPath = filepath.Join(filepath.Dir(cfg.ConfigPath), "memory")
	}
	if cfg.Capabilities == nil {
		cfg.Capabilities = config.EnvCapabilities()
	}
	if cfg.NewModel == nil {
		cfg.NewModel = newOpenRouterModel
	}

	return &App{cfg: cfg}, nil
}

// EnsureReady initializes the app on first use: configuration, then
// tools, then agent. Safe for concurrent callers; all but the first
// serialize on the gate and observe the ready state.
func (a *App) EnsureReady(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == Ready {
		return nil
	}

	slog.Info("Initializing configuration, tools and agent")
	a.state = Initializing

	if err := a.initConfig(); err != nil {
		a.state = Uninitialized
		return fmt.Errorf("configuration initialization failed: %w", err)
	}

	a.initTools(ctx)

	if err := a.initAgent(); err != nil {
		a.rollback(ctx)
		return fmt.Errorf("agent initialization failed: %w", err)
	}

	a.state = Ready
	slog.Info("Application ready", "model", a.agent.Model(), "config", a.cfg.ConfigPath)
	return nil
}

// initConfig loads the configuration document, creating and persisting
// the capability-gated defaults when no file exists.
func (a *App) initConfig() error {
	store, err := config.LoadOrDefault(a.cfg.ConfigPath, a.cfg.Capabilities)
	if err != nil {
		return err
	}
	a.store = store
	slog.Info("Configuration loaded",
		"path", a.cfg.ConfigPath, "tools", len(store.ToolNames()), "active", len(store.ActiveToolNames()))
	return nil
}

// initTools builds the lifecycle manager and connects the active tools.
// Best effort: failures leave a degraded toolset, never an error.
func (a *App) initTools(ctx context.Context) {
	manager, err := lifecycle.NewManager(lifecycle.Config{
		Store:       a.store,
		Memory:      a.memoryFactory(),
		Local:       []tool.Toolset{document.New(document.Config{})},
		Multiplexer: a.cfg.Multiplexer,
	})
	if err != nil {
		slog.Error("Tool manager construction failed, continuing without tools", "error", err)
		return
	}

	env := a.cfg.BaseEnv
	if env == nil {
		env = processEnv()
	}

	_ = manager.Initialize(ctx, env)
	a.manager = manager
}

// memoryFactory picks the memory backend: mem0 when a credential is
// configured, the embedded local store otherwise.
func (a *App) memoryFactory() lifecycle.MemoryFactory {
	if a.cfg.Mem0APIKey != "" {
		key := a.cfg.Mem0APIKey
		slog.Info("Memory backend selected", "backend", "mem0")
		return func() (tool.Toolset, error) {
			return mem0.New(mem0.Config{APIKey: key})
		}
	}

	path := a.cfg.MemoryPath
	slog.Info("Memory backend selected", "backend", "embedded", "path", path)
	return func() (tool.Toolset, error) {
		return memory.New(memory.Config{Path: path})
	}
}

// initAgent constructs the agent from the loaded configuration and the
// tool handles. The handle list is read only after tool initialization
// has fully completed.
func (a *App) initAgent() error {
	instruction := ""
	if prompt, ok := a.store.ActivePrompt(); ok {
		instruction = prompt.Template
	}

	var handles []tool.Toolset
	if a.manager != nil {
		handles = a.manager.ToolHandles()
	}

	llm, err := a.cfg.NewModel(a.cfg)
	if err != nil {
		return fmt.Errorf("model client construction failed: %w", err)
	}
	a.llm = llm

	ag, err := agent.New(agent.Config{
		Name:        agent.DefaultName,
		Model:       llm,
		Toolsets:    handles,
		Instruction: instruction,
		Markdown:    true,
		AddDatetime: true,
	})
	if err != nil {
		return err
	}
	a.agent = ag

	slog.Info("Agent initialized", "agent", ag.Name(), "toolsets", len(handles))
	return nil
}

// rollback tears down whatever a failed initialization built, so the next
// EnsureReady starts clean.
func (a *App) rollback(ctx context.Context) {
	if a.manager != nil {
		_ = a.manager.Shutdown(ctx)
		a.manager = nil
	}
	if a.llm != nil {
		if err := a.llm.Close(); err != nil {
			slog.Warn("Error closing model client", "error", err)
		}
		a.llm = nil
	}
	a.agent = nil
	a.store = nil
	a.state = Uninitialized
}

// Run ensures the app is ready and executes one conversation turn.
func (a *App) Run(ctx context.Context, messages []*a2a.Message) (*a2a.Message, error) {
	if err := a.EnsureReady(ctx); err != nil {
		return nil, err
	}
	return a.Agent().Run(ctx, messages)
}

// Agent returns the agent, or nil before successful initialization.
func (a *App) Agent() *agent.Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.agent
}

// Store returns the configuration store, or nil before successful
// initialization.
func (a *App) Store() *config.Store {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store
}

// Manager returns the tool lifecycle manager, or nil before successful
// initialization.
func (a *App) Manager() *lifecycle.Manager {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manager
}

// State returns the current initialization state.
func (a *App) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Shutdown releases tool connections and the model client. The app
// returns to Uninitialized and can be initialized again.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rollback(ctx)
	return nil
}

// newOpenRouterModel is the default model factory.
func newOpenRouterModel(cfg Config) (model.LLM, error) {
	return openrouter.New(openrouter.Config{
		APIKey:  cfg.OpenRouterAPIKey,
		Model:   cfg.ModelID,
		Referer: "https://github.com/lsvishaal/web-extraction-agent",
		Title:   "web-extraction-agent",
	})
}

// processEnv snapshots the process environment.
func processEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
