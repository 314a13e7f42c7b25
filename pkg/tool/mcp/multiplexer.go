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

// Package mcp connects the agent to external tool servers over the Model
// Context Protocol.
//
// A Multiplexer launches every configured server as a stdio subprocess and
// fronts the survivors as one toolset: tools from all servers share a
// single flat namespace, and calls are routed to the owning subprocess.
// Servers connect in parallel; with partial tolerance enabled a failed
// launch is logged and skipped rather than failing the batch.
//
// All subprocesses in a batch receive the same merged environment. Per-tool
// environments are merged additively before Connect; when two tools define
// the same variable, the later tool wins.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/lsvishaal/web-extraction-agent/pkg/tool"
)

const (
	// DefaultConnectTimeout bounds a single server's launch + handshake.
	DefaultConnectTimeout = 30 * time.Second

	clientName      = "web-extraction-agent"
	clientVersion   = "0.1.0"
	protocolVersion = "2024-11-05"
)

// ServerSpec describes one MCP server to launch.
type ServerSpec struct {
	// Name identifies the server in logs and errors.
	Name string

	// Command is the full launch command line, split on whitespace.
	// Shell quoting is not interpreted.
	Command string
}

// Config configures a Multiplexer.
type Config struct {
	// Servers to launch, in order. Order is preserved in Definitions.
	Servers []ServerSpec

	// Env is the shared environment for every subprocess in the batch.
	Env map[string]string

	// Timeout bounds each server's connect handshake. Zero means
	// DefaultConnectTimeout.
	Timeout time.Duration

	// ToleratePartial keeps the batch alive when individual servers fail
	// to launch. At least one server must survive.
	ToleratePartial bool
}

// mcpClient is the subset of the stdio client the multiplexer uses after
// connecting. Narrowed for tests.
type mcpClient interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// serverConn is one live subprocess with its listed tools.
type serverConn struct {
	spec   ServerSpec
	client mcpClient
	tools  []mcp.Tool
}

// Multiplexer fronts a batch of MCP stdio servers as one toolset.
type Multiplexer struct {
	cfg Config

	mu        sync.Mutex
	conns     []*serverConn
	routes    map[string]*serverConn
	defs      []tool.Definition
	connected bool
}

// New creates a multiplexer. Connect must be called before use.
func New(cfg Config) (*Multiplexer, error) {
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("at least one server is required")
	}
	for _, s := range cfg.Servers {
		if strings.TrimSpace(s.Command) == "" {
			return nil, fmt.Errorf("server %q has no launch command", s.Name)
		}
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConnectTimeout
	}

	return &Multiplexer{cfg: cfg}, nil
}

// Connect launches all servers in parallel and builds the tool catalog.
// Idempotent: a connected multiplexer returns nil immediately.
func (m *Multiplexer) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return nil
	}

	results := make([]*serverConn, len(m.cfg.Servers))

	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range m.cfg.Servers {
		g.Go(func() error {
			conn, err := m.connectServer(gctx, spec)
			if err != nil {
				if m.cfg.ToleratePartial {
					slog.Warn("MCP server failed to start, skipping",
						"server", spec.Name,
						"command", spec.Command,
						"error", err,
					)
					return nil
				}
				return fmt.Errorf("%s: %w", spec.Name, err)
			}
			results[i] = conn
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, conn := range results {
			if conn != nil {
				conn.client.Close()
			}
		}
		return err
	}

	var survivors []*serverConn
	for _, conn := range results {
		if conn != nil {
			survivors = append(survivors, conn)
		}
	}
	if len(survivors) == 0 {
		return fmt.Errorf("no MCP servers reachable")
	}

	m.buildCatalog(survivors)
	m.connected = true

	slog.Info("Connected to MCP servers",
		"servers", len(survivors),
		"requested", len(m.cfg.Servers),
		"tools", len(m.defs),
	)

	return nil
}

// connectServer launches one subprocess and completes the MCP handshake.
func (m *Multiplexer) connectServer(ctx context.Context, spec ServerSpec) (*serverConn, error) {
	command, args := splitCommand(spec.Command)

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	mcpClient, err := client.NewStdioMCPClient(command, convertEnv(m.cfg.Env), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	initReq.Params.ProtocolVersion = protocolVersion

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("failed to initialize MCP: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	slog.Info("Connected to MCP server",
		"server", spec.Name,
		"command", spec.Command,
		"tools", len(listResp.Tools),
	)

	return &serverConn{
		spec:   spec,
		client: mcpClient,
		tools:  listResp.Tools,
	}, nil
}

// buildCatalog fills the route table and ordered definitions from the
// surviving connections. The first server to expose a name owns it.
func (m *Multiplexer) buildCatalog(conns []*serverConn) {
	routes := make(map[string]*serverConn)
	var defs []tool.Definition

	for _, conn := range conns {
		for _, mcpTool := range conn.tools {
			if _, taken := routes[mcpTool.Name]; taken {
				slog.Warn("Duplicate MCP tool name, keeping first",
					"tool", mcpTool.Name,
					"server", conn.spec.Name,
				)
				continue
			}
			routes[mcpTool.Name] = conn
			defs = append(defs, tool.Definition{
				Name:        mcpTool.Name,
				Description: mcpTool.Description,
				Parameters:  convertSchema(mcpTool.InputSchema),
			})
		}
	}

	m.conns = conns
	m.routes = routes
	m.defs = defs
}

// Definitions returns the catalog of tools across all servers, in server
// launch order.
func (m *Multiplexer) Definitions() []tool.Definition {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]tool.Definition, len(m.defs))
	copy(out, m.defs)
	return out
}

// Call routes a tool invocation to the owning server.
func (m *Multiplexer) Call(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil, fmt.Errorf("not connected")
	}
	conn := m.routes[name]
	m.mu.Unlock()

	if conn == nil {
		return nil, fmt.Errorf("unknown tool %q", name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := conn.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("MCP call failed: %w", err)
	}

	return parseCallResult(resp), nil
}

// Close shuts down every subprocess. Close errors are logged, not
// returned. Idempotent.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, conn := range m.conns {
		if err := conn.client.Close(); err != nil {
			slog.Warn("Error closing MCP server",
				"server", conn.spec.Name,
				"error", err,
			)
		}
	}

	m.conns = nil
	m.routes = nil
	m.defs = nil
	m.connected = false
	return nil
}

// Name identifies the toolset.
func (m *Multiplexer) Name() string {
	return "mcp"
}

// Tools exposes the catalog through the tool.Toolset interface.
func (m *Multiplexer) Tools(ctx context.Context) ([]tool.Tool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil, fmt.Errorf("not connected")
	}

	tools := make([]tool.Tool, len(m.defs))
	for i, def := range m.defs {
		tools[i] = &multiTool{mux: m, def: def}
	}
	return tools, nil
}

// multiTool adapts one catalog entry to tool.Tool, routing calls through
// the multiplexer.
type multiTool struct {
	mux *Multiplexer
	def tool.Definition
}

func (t *multiTool) Name() string           { return t.def.Name }
func (t *multiTool) Description() string    { return t.def.Description }
func (t *multiTool) Schema() map[string]any { return t.def.Parameters }

func (t *multiTool) Call(ctx context.Context, args map[string]any) (*tool.Result, error) {
	return t.mux.Call(ctx, t.def.Name, args)
}

// parseCallResult converts an MCP call result to a tool.Result. Protocol
// errors surface in Result.Error so the model can react.
func parseCallResult(resp *mcp.CallToolResult) *tool.Result {
	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	joined := strings.Join(texts, "\n")

	if resp.IsError {
		if joined == "" {
			joined = "unknown error"
		}
		return &tool.Result{Error: joined}
	}

	return &tool.Result{Content: joined}
}

// splitCommand splits a launch command line on whitespace.
func splitCommand(command string) (string, []string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// convertEnv converts an env map to a sorted "KEY=VALUE" slice.
func convertEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(result)
	return result
}

// convertSchema converts an MCP input schema to a plain map.
func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}

	return result
}

// Ensure interfaces are implemented
var (
	_ tool.Toolset = (*Multiplexer)(nil)
	_ tool.Tool    = (*multiTool)(nil)
)
