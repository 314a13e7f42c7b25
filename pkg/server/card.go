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

package server

import (
	"github.com/a2aproject/a2a-go/a2a"

	webx "github.com/lsvishaal/web-extraction-agent"
)

// AgentName is the stable identifier the agent is mounted under. It is the
// path segment of the JSON-RPC endpoint and the name on the agent card.
const AgentName = "web-extraction-agent"

// DefaultVersion is the advertised agent version when the build does not
// set one.
const DefaultVersion = webx.Version

// AgentDescription is the card and directory description of the agent.
const AgentDescription = "Conversational agent for extracting and analyzing web content. " +
	"Connects to MCP tool servers for scraping and search, and keeps persistent memory across sessions."

// CardParams carries the deployment-specific fields of the agent card.
type CardParams struct {
	// BaseURL is the externally reachable server root, e.g. "http://host:8080".
	BaseURL string

	// Version overrides DefaultVersion when set.
	Version string

	// Auth advertises the bearer security scheme on the card.
	Auth bool
}

// NewAgentCard builds the A2A agent card for the web extraction agent.
func NewAgentCard(p CardParams) *a2a.AgentCard {
	version := p.Version
	if version == "" {
		version = DefaultVersion
	}

	card := &a2a.AgentCard{
		Name:               AgentName,
		Description:        AgentDescription,
		URL:                p.BaseURL + "/agents/" + AgentName,
		Version:            version,
		ProtocolVersion:    "1.0",
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills:             agentSkills(),
		Capabilities: a2a.AgentCapabilities{
			Streaming:              true,
			PushNotifications:      false,
			StateTransitionHistory: false,
		},
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		Provider: &a2a.AgentProvider{
			Org: "web-extraction-agent",
			URL: "https://github.com/lsvishaal/web-extraction-agent",
		},
	}

	// A2A spec section 5.5: advertise the scheme so clients know to send
	// a bearer token.
	if p.Auth {
		card.SecuritySchemes = a2a.NamedSecuritySchemes{
			"BearerAuth": a2a.HTTPAuthSecurityScheme{
				Scheme:       "bearer",
				BearerFormat: "JWT",
				Description:  "JWT Bearer token authentication",
			},
		}
		card.Security = []a2a.SecurityRequirements{
			{"BearerAuth": a2a.SecuritySchemeScopes{}},
		}
	}

	return card
}

func agentSkills() []a2a.AgentSkill {
	return []a2a.AgentSkill{
		{
			ID:          "web_extraction",
			Name:        "Web Extraction",
			Description: "Extract structured data and content from web pages",
			Tags:        []string{"web", "scraping", "extraction"},
			Examples: []string{
				"Extract the main article from https://example.com/post",
				"List the product names and prices on this page",
			},
		},
		{
			ID:          "content_analysis",
			Name:        "Content Analysis",
			Description: "Analyze, organize, and summarize extracted web content",
			Tags:        []string{"analysis", "summarization"},
			Examples: []string{
				"Summarize the key points of that article",
				"Organize these listings into a table by price",
			},
		},
	}
}
