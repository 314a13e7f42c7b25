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

package registry

import (
	"github.com/a2aproject/a2a-go/a2a"
)

// Manifest is the directory registration payload.
type Manifest struct {
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Author           string         `json:"author"`
	Version          string         `json:"version"`
	RepositoryURL    string         `json:"repository_url"`
	DocumentationURL string         `json:"documentation_url"`
	Capabilities     map[string]any `json:"capabilities"`
	Skills           []Skill        `json:"skills"`
	Deployment       Deployment     `json:"deployment"`
}

// Skill is one advertised skill.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// Deployment describes where the running agent is reachable.
type Deployment struct {
	URL       string `json:"url"`
	Protocol  string `json:"protocol"`
	Transport string `json:"transport,omitempty"`
}

// ManifestParams carries publication metadata that does not live on the
// agent card.
type ManifestParams struct {
	Author           string
	RepositoryURL    string
	DocumentationURL string
}

// NewManifest builds the registration payload from the advertised agent
// card, so the directory listing and the card never disagree.
func NewManifest(card *a2a.AgentCard, p ManifestParams) Manifest {
	skills := make([]Skill, 0, len(card.Skills))
	for _, s := range card.Skills {
		skills = append(skills, Skill{
			ID:          string(s.ID),
			Name:        s.Name,
			Description: s.Description,
			Tags:        s.Tags,
		})
	}

	version := card.Version
	if version == "" {
		version = "1.0.0"
	}

	return Manifest{
		Name:             card.Name,
		Description:      card.Description,
		Author:           p.Author,
		Version:          version,
		RepositoryURL:    p.RepositoryURL,
		DocumentationURL: p.DocumentationURL,
		Capabilities: map[string]any{
			"streaming":          card.Capabilities.Streaming,
			"push_notifications": card.Capabilities.PushNotifications,
		},
		Skills: skills,
		Deployment: Deployment{
			URL:       card.URL,
			Protocol:  "a2a",
			Transport: "jsonrpc",
		},
	}
}
