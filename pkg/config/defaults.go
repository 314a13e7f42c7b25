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

import "os"

// CapabilityMap is a snapshot of feature flags and credentials used to
// decide which default tools to materialize. Injecting it keeps default
// construction testable without touching the process environment.
type CapabilityMap map[string]string

// EnvCapabilities snapshots the process environment into a CapabilityMap.
func EnvCapabilities() CapabilityMap {
	caps := CapabilityMap{}
	for _, key := range []string{
		"FIRECRAWL_API_KEY",
		"ENABLE_AIRBNB_MCP",
		"ENABLE_GOOGLE_MAPS_MCP",
		"GOOGLE_MAPS_API_KEY",
	} {
		if value := os.Getenv(key); value != "" {
			caps[key] = value
		}
	}
	return caps
}

// has reports whether the capability is present with a non-empty value.
// Feature flags gate on presence, not on boolean parsing.
func (c CapabilityMap) has(key string) bool {
	return c[key] != ""
}

const defaultPromptTemplate = `You are a helpful AI assistant specializing in web extraction and content analysis.
Your capabilities include:
- Extracting structured data from web pages
- Analyzing web content and organizing it
- Providing detailed information from web sources

Always:
- Be accurate and precise in your extraction
- Maintain data structure and hierarchy
- Ask for clarification if needed
- Format responses clearly
`

// defaultTool pairs an availability condition with a definition builder.
type defaultTool struct {
	condition func(caps CapabilityMap) bool
	build     func(caps CapabilityMap) ToolDefinition
}

// defaultToolCatalog lists the default tool set in connection order.
// Firecrawl is always present; the rest are gated on feature flags.
var defaultToolCatalog = []defaultTool{
	{
		condition: func(CapabilityMap) bool { return true },
		build: func(caps CapabilityMap) ToolDefinition {
			return ToolDefinition{
				Name:        "firecrawl",
				Command:     "npx -y firecrawl-mcp",
				Description: "Web scraping and content extraction using Firecrawl",
				Environment: map[string]string{"FIRECRAWL_API_KEY": caps["FIRECRAWL_API_KEY"]},
			}
		},
	},
	{
		condition: func(caps CapabilityMap) bool { return caps.has("ENABLE_AIRBNB_MCP") },
		build: func(CapabilityMap) ToolDefinition {
			return ToolDefinition{
				Name:        "airbnb",
				Command:     "npx -y @openbnb/mcp-server-airbnb --ignore-robots-txt",
				Description: "Airbnb property search and information",
				Enabled:     BoolPtr(true),
			}
		},
	},
	{
		condition: func(caps CapabilityMap) bool { return caps.has("ENABLE_GOOGLE_MAPS_MCP") },
		build: func(caps CapabilityMap) ToolDefinition {
			return ToolDefinition{
				Name:        "google_maps",
				Command:     "npx -y @modelcontextprotocol/server-google-maps",
				Description: "Google Maps location and routing information",
				Enabled:     BoolPtr(true),
				Environment: map[string]string{"GOOGLE_MAPS_API_KEY": caps["GOOGLE_MAPS_API_KEY"]},
			}
		},
	},
}

// NewDefaultStore builds the default web-extraction configuration: the
// capability-gated tool catalog plus the default assistant prompt.
func NewDefaultStore(caps CapabilityMap) *Store {
	store := NewStore()

	for _, entry := range defaultToolCatalog {
		if !entry.condition(caps) {
			continue
		}
		store.AddTool(entry.build(caps))
	}

	store.AddPrompt(PromptDefinition{
		Name:        "default",
		Template:    defaultPromptTemplate,
		Description: "Default web extraction assistant prompt",
	})

	return store
}
