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

// Package tool defines the interfaces for tools the agent can invoke.
//
// Tools arrive from two directions: external MCP subprocesses expose their
// own catalogs at connect time, and local toolsets (memory, document
// extraction) register Go functions. Both surface through the same Toolset
// interface so the agent runtime treats them uniformly.
package tool

import "context"

// Tool is a single callable capability.
type Tool interface {
	// Name returns the unique name of the tool within its toolset.
	Name() string

	// Description tells the model what the tool does and when to use it.
	Description() string

	// Schema returns the JSON schema for the tool's arguments, or nil when
	// the tool takes none.
	Schema() map[string]any

	// Call executes the tool. A non-nil error means the invocation itself
	// failed; tool-level failures are reported in Result.Error so the model
	// can react to them.
	Call(ctx context.Context, args map[string]any) (*Result, error)
}

// Result is the outcome of a tool invocation.
type Result struct {
	// Content is the text handed back to the model.
	Content string

	// Error carries a tool-reported failure. Non-empty Error with nil call
	// error means the tool ran and declined.
	Error string

	// Metadata holds optional extra data about this result.
	Metadata map[string]any
}

// Toolset groups related tools behind one handle. Listing may require a live
// connection, so it takes a context and may fail.
type Toolset interface {
	// Name identifies the toolset, used in logs and routing.
	Name() string

	// Tools returns the currently available tools.
	Tools(ctx context.Context) ([]Tool, error)
}

// Definition is the function-calling view of a tool, sent to the model.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToDefinition converts a tool into its model-facing definition.
func ToDefinition(t Tool) Definition {
	return Definition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Schema(),
	}
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult pairs a completed invocation with its originating call, for
// appending to the conversation history.
type ToolResult struct {
	ToolCallID string
	Content    string
	Error      string
	Metadata   map[string]any
}
