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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lsvishaal/web-extraction-agent/pkg/registry"
	"github.com/lsvishaal/web-extraction-agent/pkg/server"
)

// RegisterCmd publishes the agent to the bindu directory.
type RegisterCmd struct {
	Token     string `help:"Directory API token (falls back to BINDU_API_TOKEN)."`
	AutoToken bool   `name:"auto-token" help:"Exchange Auth0 client credentials for a token when none is given."`

	Auth0Domain       string `name:"auth0-domain" help:"Auth0 tenant domain (falls back to AUTH0_DOMAIN)."`
	Auth0ClientID     string `name:"auth0-client-id" help:"Auth0 client id (falls back to AUTH0_CLIENT_ID)."`
	Auth0ClientSecret string `name:"auth0-client-secret" help:"Auth0 client secret (falls back to AUTH0_CLIENT_SECRET)."`

	BaseURL          string `name:"base-url" help:"Externally reachable server root advertised to the directory (falls back to AGENT_BASE_URL, then http://localhost:8080)."`
	AgentVersion     string `name:"agent-version" help:"Published agent version (default: the card default)."`
	Author           string `help:"Published author name." default:"web-extraction-agent authors"`
	RepositoryURL    string `name:"repository-url" help:"Source repository link (falls back to GITHUB_REPOSITORY_URL)."`
	DocumentationURL string `name:"documentation-url" help:"Documentation link (falls back to DOCUMENTATION_URL)."`

	APIURL           string `name:"api-url" help:"Directory API base URL (default: the public directory)."`
	WebURL           string `name:"web-url" help:"Directory frontend base URL (default: the public directory)."`
	SkipVerification bool   `name:"skip-verification" help:"Skip TLS certificate verification. Not for production."`
}

func (c *RegisterCmd) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client := registry.New(registry.Config{
		APIBaseURL: c.APIURL,
		WebBaseURL: c.WebURL,
		Insecure:   c.SkipVerification,
	})

	token := firstNonEmpty(c.Token, os.Getenv("BINDU_API_TOKEN"))
	if token == "" && c.AutoToken {
		creds := registry.Auth0Credentials{
			Domain:       firstNonEmpty(c.Auth0Domain, os.Getenv("AUTH0_DOMAIN")),
			ClientID:     firstNonEmpty(c.Auth0ClientID, os.Getenv("AUTH0_CLIENT_ID")),
			ClientSecret: firstNonEmpty(c.Auth0ClientSecret, os.Getenv("AUTH0_CLIENT_SECRET")),
		}
		slog.Info("Fetching directory token", "domain", creds.Domain)
		fetched, err := client.FetchToken(ctx, creds)
		if err != nil {
			return fmt.Errorf("failed to fetch token: %w", err)
		}
		token = fetched
	}
	if token == "" {
		return errors.New("a directory token is required: pass --token, set BINDU_API_TOKEN, or use --auto-token with Auth0 credentials")
	}

	card := server.NewAgentCard(server.CardParams{
		BaseURL: firstNonEmpty(c.BaseURL, os.Getenv("AGENT_BASE_URL"), "http://localhost:8080"),
		Version: c.AgentVersion,
	})
	manifest := registry.NewManifest(card, registry.ManifestParams{
		Author:           c.Author,
		RepositoryURL:    firstNonEmpty(c.RepositoryURL, os.Getenv("GITHUB_REPOSITORY_URL")),
		DocumentationURL: firstNonEmpty(c.DocumentationURL, os.Getenv("DOCUMENTATION_URL")),
	})

	slog.Info("Registering agent", "name", manifest.Name, "version", manifest.Version, "api", firstNonEmpty(c.APIURL, registry.DefaultAPIBaseURL))
	result, err := client.Register(ctx, token, manifest)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	if result.AlreadyRegistered {
		fmt.Println("✅ Agent is already registered on the bindu directory")
	} else {
		fmt.Printf("✅ Agent registered on the bindu directory (id: %s)\n", result.ID)
	}
	if result.ViewURL != "" {
		fmt.Printf("   View it at: %s\n", result.ViewURL)
	}
	return nil
}
