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

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ToolDefinition describes one MCP tool subprocess.
type ToolDefinition struct {
	// Name uniquely identifies the tool.
	Name string `yaml:"name" json:"name" jsonschema:"title=Name,description=Unique name for the tool,required"`

	// Command is the full launch invocation for the MCP server process.
	Command string `yaml:"command" json:"command" jsonschema:"title=Command,description=MCP server command to execute,required"`

	// Enabled controls whether the tool participates in connections.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,description=Whether this tool is enabled,default=true"`

	// Environment is merged over the base process environment at launch.
	Environment map[string]string `yaml:"environment,omitempty" json:"environment,omitempty" jsonschema:"title=Environment Variables,description=Environment variables for this tool"`

	// Timeout is the per-tool connection timeout in seconds.
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Timeout in seconds for this tool,default=30"`

	// Description tells operators and the directory what this tool does.
	Description string `yaml:"description,omitempty" json:"description,omitempty" jsonschema:"title=Description,description=Description of what this tool does"`
}

// SetDefaults applies default values.
func (d *ToolDefinition) SetDefaults() {
	if d.Enabled == nil {
		d.Enabled = BoolPtr(true)
	}
	if d.Environment == nil {
		d.Environment = map[string]string{}
	}
	if d.Timeout <= 0 {
		d.Timeout = 30
	}
}

// IsEnabled reports whether the tool is enabled, defaulting to true.
func (d *ToolDefinition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// clone returns a deep copy so callers never share mutable state with the
// store.
func (d *ToolDefinition) clone() ToolDefinition {
	out := *d
	if d.Enabled != nil {
		out.Enabled = BoolPtr(*d.Enabled)
	}
	if d.Environment != nil {
		out.Environment = make(map[string]string, len(d.Environment))
		for k, v := range d.Environment {
			out.Environment[k] = v
		}
	}
	return out
}

// PromptDefinition describes one named instruction template.
type PromptDefinition struct {
	// Name uniquely identifies the prompt.
	Name string `yaml:"name" json:"name" jsonschema:"title=Name,description=Unique name for the prompt,required"`

	// Template is the instruction text handed to the agent. May be empty.
	Template string `yaml:"template" json:"template" jsonschema:"title=Template,description=The prompt template text"`

	// Enabled controls whether the prompt may be selected.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,description=Whether this prompt is enabled,default=true"`

	// Version is a free-form revision marker.
	Version string `yaml:"version,omitempty" json:"version,omitempty" jsonschema:"title=Version,description=Version of this prompt,default=1.0"`

	// Description summarizes the prompt's purpose.
	Description string `yaml:"description,omitempty" json:"description,omitempty" jsonschema:"title=Description,description=Description of this prompt"`
}

// SetDefaults applies default values.
func (p *PromptDefinition) SetDefaults() {
	if p.Enabled == nil {
		p.Enabled = BoolPtr(true)
	}
	if p.Version == "" {
		p.Version = "1.0"
	}
}

// IsEnabled reports whether the prompt is enabled, defaulting to true.
func (p *PromptDefinition) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

func (p *PromptDefinition) clone() PromptDefinition {
	out := *p
	if p.Enabled != nil {
		out.Enabled = BoolPtr(*p.Enabled)
	}
	return out
}

// Document is the persisted configuration shape. Unknown keys in a loaded
// document are ignored; absent keys take field defaults.
type Document struct {
	Tools        map[string]*ToolDefinition   `yaml:"tools" json:"tools" jsonschema:"title=Tools,description=Registered tools"`
	Prompts      map[string]*PromptDefinition `yaml:"prompts" json:"prompts" jsonschema:"title=Prompts,description=Registered prompts"`
	ActiveTools  []string                     `yaml:"active_tools" json:"active_tools" jsonschema:"title=Active Tools,description=Ordered list of active tool names"`
	ActivePrompt string                       `yaml:"active_prompt" json:"active_prompt" jsonschema:"title=Active Prompt,description=Name of the active prompt,default=default"`
	ModelID      string                       `yaml:"model_id" json:"model_id" jsonschema:"title=Model ID,description=Model identifier,default=openai/gpt-5"`
	Debug        bool                         `yaml:"debug" json:"debug" jsonschema:"title=Debug,description=Debug mode,default=false"`
}

// Store holds the agent's tool and prompt configuration.
//
// Mutator operations on unknown names are silent no-ops, and reads filter
// out stale references instead of failing. Configuration drift must never
// take the host down.
//
// The active tool list is ordered, duplicate-free, and defines connection
// order. A tool is considered active only when it is BOTH listed there and
// enabled in its definition.
type Store struct {
	mu           sync.RWMutex
	tools        map[string]*ToolDefinition
	prompts      map[string]*PromptDefinition
	activeTools  []string
	activePrompt string
	modelID      string
	debug        bool
}

// NewStore returns an empty store with field defaults applied.
func NewStore() *Store {
	return &Store{
		tools:        map[string]*ToolDefinition{},
		prompts:      map[string]*PromptDefinition{},
		activeTools:  []string{},
		activePrompt: "default",
		modelID:      "openai/gpt-5",
	}
}

// AddTool inserts or overwrites a tool definition. Enabled tools are
// appended to the active list if not already present.
func (s *Store) AddTool(def ToolDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def.SetDefaults()
	stored := def.clone()
	s.tools[def.Name] = &stored

	if stored.IsEnabled() && !contains(s.activeTools, def.Name) {
		s.activeTools = append(s.activeTools, def.Name)
	}
}

// RemoveTool deletes a tool definition and evicts it from the active list.
// Unknown names are a no-op.
func (s *Store) RemoveTool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tools, name)
	s.activeTools = remove(s.activeTools, name)
}

// EnableTool marks a tool enabled and appends it to the end of the active
// list if absent. Unknown names are a no-op.
func (s *Store) EnableTool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.tools[name]
	if !ok {
		return
	}
	def.Enabled = BoolPtr(true)
	if !contains(s.activeTools, name) {
		s.activeTools = append(s.activeTools, name)
	}
}

// DisableTool marks a tool disabled and removes it from the active list,
// keeping its definition. Unknown names are a no-op.
func (s *Store) DisableTool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.tools[name]
	if !ok {
		return
	}
	def.Enabled = BoolPtr(false)
	s.activeTools = remove(s.activeTools, name)
}

// Tool returns a copy of the named tool definition.
func (s *Store) Tool(name string) (ToolDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.tools[name]
	if !ok {
		return ToolDefinition{}, false
	}
	return def.clone(), true
}

// ToolNames returns all registered tool names, sorted order not guaranteed.
func (s *Store) ToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	return names
}

// AddPrompt inserts or overwrites a prompt definition.
func (s *Store) AddPrompt(def PromptDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def.SetDefaults()
	stored := def.clone()
	s.prompts[def.Name] = &stored
}

// SetActivePrompt selects the active prompt. Unknown names are a no-op.
func (s *Store) SetActivePrompt(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.prompts[name]; !ok {
		return
	}
	s.activePrompt = name
}

// ActivePrompt resolves the active prompt definition. Returns ok=false when
// the active name references no registered prompt.
func (s *Store) ActivePrompt() (PromptDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.prompts[s.activePrompt]
	if !ok {
		return PromptDefinition{}, false
	}
	return def.clone(), true
}

// ActivePromptName returns the configured active prompt name, which may
// reference a prompt that no longer exists.
func (s *Store) ActivePromptName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activePrompt
}

// Prompt returns a copy of the named prompt definition.
func (s *Store) Prompt(name string) (PromptDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.prompts[name]
	if !ok {
		return PromptDefinition{}, false
	}
	return def.clone(), true
}

// ActiveTools returns, in active-list order, copies of the definitions that
// still exist and are enabled. Stale and disabled entries are skipped.
func (s *Store) ActiveTools() []ToolDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ToolDefinition, 0, len(s.activeTools))
	for _, name := range s.activeTools {
		def, ok := s.tools[name]
		if !ok || !def.IsEnabled() {
			continue
		}
		out = append(out, def.clone())
	}
	return out
}

// ActiveToolNames returns a copy of the raw active list, stale entries
// included.
func (s *Store) ActiveToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.activeTools))
	copy(out, s.activeTools)
	return out
}

// ModelID returns the configured model identifier.
func (s *Store) ModelID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modelID
}

// SetModelID overrides the configured model identifier.
func (s *Store) SetModelID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelID = id
}

// Debug returns the debug flag.
func (s *Store) Debug() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.debug
}

// SetDebug sets the debug flag.
func (s *Store) SetDebug(debug bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debug = debug
}

// Snapshot captures the store as a persisted document.
func (s *Store) Snapshot() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := &Document{
		Tools:        make(map[string]*ToolDefinition, len(s.tools)),
		Prompts:      make(map[string]*PromptDefinition, len(s.prompts)),
		ActiveTools:  make([]string, len(s.activeTools)),
		ActivePrompt: s.activePrompt,
		ModelID:      s.modelID,
		Debug:        s.debug,
	}
	for name, def := range s.tools {
		cloned := def.clone()
		doc.Tools[name] = &cloned
	}
	for name, def := range s.prompts {
		cloned := def.clone()
		doc.Prompts[name] = &cloned
	}
	copy(doc.ActiveTools, s.activeTools)
	return doc
}

// Serialize renders the store as an indented JSON document.
func (s *Store) Serialize() ([]byte, error) {
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize configuration: %w", err)
	}
	return data, nil
}

// Deserialize replaces the store's contents from a JSON document. Unknown
// top-level keys are ignored and missing fields take their defaults.
func (s *Store) Deserialize(data []byte) error {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}
	s.Restore(&doc)
	return nil
}

// Restore replaces the store's contents from a document, normalizing
// defaults and deduplicating the active list.
func (s *Store) Restore(doc *Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tools = map[string]*ToolDefinition{}
	for name, def := range doc.Tools {
		if def == nil {
			continue
		}
		stored := def.clone()
		if stored.Name == "" {
			stored.Name = name
		}
		stored.SetDefaults()
		s.tools[name] = &stored
	}

	s.prompts = map[string]*PromptDefinition{}
	for name, def := range doc.Prompts {
		if def == nil {
			continue
		}
		stored := def.clone()
		if stored.Name == "" {
			stored.Name = name
		}
		stored.SetDefaults()
		s.prompts[name] = &stored
	}

	s.activeTools = dedupe(doc.ActiveTools)

	s.activePrompt = doc.ActivePrompt
	if s.activePrompt == "" {
		s.activePrompt = "default"
	}
	s.modelID = doc.ModelID
	if s.modelID == "" {
		s.modelID = "openai/gpt-5"
	}
	s.debug = doc.Debug
}

// SaveToFile persists the store as JSON, creating parent directories.
func (s *Store) SaveToFile(path string) error {
	data, err := s.Serialize()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create configuration directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}

// LoadFromFile replaces the store's contents from a JSON file.
func (s *Store) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}
	return s.Deserialize(data)
}

// LoadOrDefault loads the store from path when the file exists; otherwise it
// builds the default configuration from caps and persists it to path.
func LoadOrDefault(path string, caps CapabilityMap) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		store := NewStore()
		if err := store.LoadFromFile(path); err != nil {
			return nil, err
		}
		return store, nil
	}

	store := NewDefaultStore(caps)
	if err := store.SaveToFile(path); err != nil {
		return nil, fmt.Errorf("failed to persist default configuration: %w", err)
	}
	return store, nil
}

// BoolPtr returns a pointer to the given bool.
func BoolPtr(b bool) *bool {
	return &b
}

// BoolValue dereferences an optional bool, falling back to def when nil.
func BoolValue(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func contains(list []string, name string) bool {
	for _, entry := range list {
		if entry == name {
			return true
		}
	}
	return false
}

func remove(list []string, name string) []string {
	out := list[:0]
	for _, entry := range list {
		if entry != name {
			out = append(out, entry)
		}
	}
	return out
}

func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, entry := range list {
		if seen[entry] {
			continue
		}
		seen[entry] = true
		out = append(out, entry)
	}
	return out
}
