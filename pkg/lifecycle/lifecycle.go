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

// Package lifecycle owns the runtime state of the agent's tool
// connections.
//
// The Manager sits between the configuration store and the live tool
// handles. Initialization is best effort: subprocess launches are
// expensive and flaky, so individual failures degrade the toolset instead
// of failing the host, and Connected means the connection attempt
// completed, not that every tool is live. Configuration changes made while
// connected take effect only on an explicit reconnect.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lsvishaal/web-extraction-agent/pkg/config"
	"github.com/lsvishaal/web-extraction-agent/pkg/tool"
	"github.com/lsvishaal/web-extraction-agent/pkg/tool/mcp"
)

// State is the manager's connection state.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MCPConnector is the multiplexed subprocess connection the manager
// drives. Satisfied by *mcp.Multiplexer; narrowed for tests.
type MCPConnector interface {
	tool.Toolset
	Connect(ctx context.Context) error
	Close() error
}

// MultiplexerFactory builds the multiplexed connection for one batch of
// launch commands.
type MultiplexerFactory func(mcp.Config) (MCPConnector, error)

// MemoryFactory builds the optional memory toolset.
type MemoryFactory func() (tool.Toolset, error)

// Config configures a Manager.
type Config struct {
	// Store is the bound configuration store. Required.
	Store *config.Store

	// Memory builds the memory toolset during initialization. Nil means
	// no memory surface is configured.
	Memory MemoryFactory

	// Local toolsets need no connection and join the handles whenever
	// the manager is Connected.
	Local []tool.Toolset

	// Multiplexer overrides subprocess connection construction.
	Multiplexer MultiplexerFactory
}

// Manager tracks tool connection state and the live handles.
type Manager struct {
	store          *config.Store
	newMultiplexer MultiplexerFactory
	newMemory      MemoryFactory
	local          []tool.Toolset

	mu     sync.Mutex
	state  State
	multi  MCPConnector
	memory tool.Toolset
}

// NewManager creates a manager in the Disconnected state.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("configuration store is required")
	}
	if cfg.Multiplexer == nil {
		cfg.Multiplexer = func(mc mcp.Config) (MCPConnector, error) {
			return mcp.New(mc)
		}
	}

	return &Manager{
		store:          cfg.Store,
		newMultiplexer: cfg.Multiplexer,
		newMemory:      cfg.Memory,
		local:          cfg.Local,
	}, nil
}

// Initialize connects the active tools. Idempotent: a Connected manager
// returns nil without touching anything.
//
// Connection is best effort. Failed subprocesses are skipped, a failed
// batch leaves no multiplexed handle, and a failed memory construction
// only logs. The manager ends Connected in every case: Connected means
// the attempt completed, and callers decide whether to Reconnect.
func (m *Manager) Initialize(ctx context.Context, baseEnv map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initializeLocked(ctx, baseEnv)
}

func (m *Manager) initializeLocked(ctx context.Context, baseEnv map[string]string) error {
	if m.state == Connected {
		slog.Info("Tool manager already connected")
		return nil
	}

	active := m.store.ActiveTools()
	if len(active) == 0 {
		slog.Warn("No active tools configured, skipping tool connection")
	} else {
		m.connectTools(ctx, active, baseEnv)
	}

	if m.newMemory != nil {
		memory, err := m.newMemory()
		if err != nil {
			slog.Warn("Memory toolset unavailable", "error", err)
		} else {
			m.memory = memory
			slog.Info("Memory toolset ready", "toolset", memory.Name())
		}
	}

	m.state = Connected
	return nil
}

// connectTools opens one multiplexed connection across the active tools'
// launch commands. One shared environment and one timeout cover the whole
// batch: per-tool environments merge over baseEnv in activation order with
// later tools winning conflicts, and the timeout is the maximum configured
// across the active set.
func (m *Manager) connectTools(ctx context.Context, active []config.ToolDefinition, baseEnv map[string]string) {
	env := make(map[string]string, len(baseEnv))
	for k, v := range baseEnv {
		env[k] = v
	}

	var servers []mcp.ServerSpec
	maxTimeout := 0
	for _, def := range active {
		if def.Timeout > maxTimeout {
			maxTimeout = def.Timeout
		}
		for k, v := range def.Environment {
			env[k] = v
		}

		if strings.TrimSpace(def.Command) == "" {
			slog.Warn("Active tool has no launch command, skipping", "tool", def.Name)
			continue
		}
		servers = append(servers, mcp.ServerSpec{Name: def.Name, Command: def.Command})
	}

	if len(servers) == 0 {
		slog.Warn("No launchable tools in the active set")
		return
	}

	mux, err := m.newMultiplexer(mcp.Config{
		Servers:         servers,
		Env:             env,
		Timeout:         time.Duration(maxTimeout) * time.Second,
		ToleratePartial: true,
	})
	if err == nil {
		err = mux.Connect(ctx)
	}
	if err != nil {
		slog.Error("Tool connection failed, continuing without MCP tools", "error", err)
		return
	}

	m.multi = mux
	slog.Info("Connected tool batch", "servers", len(servers))
}

// Shutdown closes the tool connections and clears the handles. Close
// errors are logged, never returned. Idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownLocked()
	return nil
}

func (m *Manager) shutdownLocked() {
	if m.multi != nil {
		if err := m.multi.Close(); err != nil {
			slog.Warn("Error closing tool connections", "error", err)
		} else {
			slog.Info("Disconnected from MCP servers")
		}
	}
	m.multi = nil
	m.memory = nil
	m.state = Disconnected
}

// Reconnect tears down and reinitializes with the same environment,
// picking up configuration changes made since the last connect.
func (m *Manager) Reconnect(ctx context.Context, baseEnv map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownLocked()
	return m.initializeLocked(ctx, baseEnv)
}

// AddTool registers a tool definition. When connected, the new tool is not
// launched until an explicit Reconnect.
func (m *Manager) AddTool(def config.ToolDefinition) {
	m.store.AddTool(def)

	if m.IsConnected() {
		slog.Warn("Tool added while connected, reconnect required to launch it", "tool", def.Name)
	}
}

// EnableTool enables a registered tool. When connected, the change takes
// effect on the next Reconnect.
func (m *Manager) EnableTool(name string) {
	m.store.EnableTool(name)

	if m.IsConnected() {
		slog.Warn("Tool enabled while connected, reconnect required to launch it", "tool", name)
	}
}

// DisableTool disables a registered tool.
func (m *Manager) DisableTool(name string) {
	m.store.DisableTool(name)
}

// ToolHandles returns the live toolset handles in presentation order:
// the multiplexed batch, then memory, then local toolsets. Empty when
// Disconnected.
func (m *Manager) ToolHandles() []tool.Toolset {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Connected {
		return nil
	}

	var handles []tool.Toolset
	if m.multi != nil {
		handles = append(handles, m.multi)
	}
	if m.memory != nil {
		handles = append(handles, m.memory)
	}
	handles = append(handles, m.local...)
	return handles
}

// IsConnected reports whether the last Initialize attempt completed.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Connected
}

// Store exposes the bound configuration store.
func (m *Manager) Store() *config.Store {
	return m.store
}
