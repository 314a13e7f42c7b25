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

// Package registry publishes the agent to the bindu agent directory,
// making it discoverable by other agents and applications.
//
// Callers authenticate with a pre-issued directory token, or exchange
// Auth0 client credentials for one when only those are at hand.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lsvishaal/web-extraction-agent/pkg/httpclient"
)

const (
	// DefaultAPIBaseURL is the directory's registration API.
	DefaultAPIBaseURL = "https://api.bindu.directory"

	// DefaultWebBaseURL is the directory's browsable frontend.
	DefaultWebBaseURL = "https://bindu.directory"

	registerTimeout = 30 * time.Second
	tokenTimeout    = 10 * time.Second
)

// Config configures the directory client.
type Config struct {
	// APIBaseURL overrides the directory API endpoint, e.g. for tests.
	APIBaseURL string

	// WebBaseURL overrides the frontend URL used in view links.
	WebBaseURL string

	// Insecure skips TLS certificate verification. Not for production.
	Insecure bool
}

// Client talks to the bindu directory.
type Client struct {
	apiBase string
	webBase string
	client  *httpclient.Client
}

// New creates a directory client.
func New(cfg Config) *Client {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.WebBaseURL == "" {
		cfg.WebBaseURL = DefaultWebBaseURL
	}

	opts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{Timeout: registerTimeout}),
		httpclient.WithMaxRetries(3),
		httpclient.WithHeaderParser(httpclient.ParseRetryAfterHeader),
	}
	if cfg.Insecure {
		opts = append(opts, httpclient.WithTLSConfig(&httpclient.TLSConfig{
			InsecureSkipVerify: true,
		}))
	}

	return &Client{
		apiBase: strings.TrimSuffix(cfg.APIBaseURL, "/"),
		webBase: strings.TrimSuffix(cfg.WebBaseURL, "/"),
		client:  httpclient.New(opts...),
	}
}

// Auth0Credentials identify a machine-to-machine Auth0 application
// authorized for the directory API.
type Auth0Credentials struct {
	// Domain is the Auth0 tenant domain. A bare domain assumes https;
	// a full URL is used as given, e.g. for tests.
	Domain string

	ClientID     string
	ClientSecret string
}

// Complete reports whether all fields are set.
func (c Auth0Credentials) Complete() bool {
	return c.Domain != "" && c.ClientID != "" && c.ClientSecret != ""
}

func (c Auth0Credentials) baseURL() string {
	if strings.Contains(c.Domain, "://") {
		return strings.TrimSuffix(c.Domain, "/")
	}
	return "https://" + c.Domain
}

// FetchToken exchanges Auth0 client credentials for a directory access
// token.
func (c *Client) FetchToken(ctx context.Context, creds Auth0Credentials) (string, error) {
	if !creds.Complete() {
		return "", fmt.Errorf("Auth0 domain, client id and client secret are all required")
	}

	base := creds.baseURL()
	payload := map[string]string{
		"client_id":     creds.ClientID,
		"client_secret": creds.ClientSecret,
		"audience":      base + "/api/v2/",
		"grant_type":    "client_credentials",
	}

	ctx, cancel := context.WithTimeout(ctx, tokenTimeout)
	defer cancel()

	status, body, err := c.postJSON(ctx, base+"/oauth/token", payload, "")
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("token request failed (status %d): %s", status, excerpt(body))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response carried no access_token")
	}

	return tok.AccessToken, nil
}

// Result is the outcome of a registration attempt.
type Result struct {
	// ID is the directory-assigned agent id. Empty when the agent was
	// already registered.
	ID string

	// AlreadyRegistered is set when the directory answered 409; the
	// agent is listed, nothing changed.
	AlreadyRegistered bool

	// ViewURL points at the agent's page on the directory frontend,
	// or at the frontend root when the id is unknown.
	ViewURL string
}

// Register publishes the manifest. A 409 means the agent already exists
// in the directory and is reported as success.
func (c *Client) Register(ctx context.Context, token string, m Manifest) (*Result, error) {
	if token == "" {
		return nil, fmt.Errorf("directory token is required")
	}

	status, body, err := c.postJSON(ctx, c.apiBase+"/agents/register", m, token)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}

	switch status {
	case http.StatusCreated:
		var created struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(body, &created); err != nil {
			return nil, fmt.Errorf("failed to decode registration response: %w", err)
		}
		res := &Result{ID: created.ID, ViewURL: c.webBase}
		if created.ID != "" {
			res.ViewURL = c.webBase + "/agents/" + created.ID
		}
		return res, nil

	case http.StatusConflict:
		return &Result{AlreadyRegistered: true, ViewURL: c.webBase}, nil

	default:
		return nil, fmt.Errorf("registration failed (status %d): %s", status, excerpt(body))
	}
}

// postJSON sends a JSON payload and returns the response status and body.
// Only transport failures return an error; callers branch on the status.
func (c *Client) postJSON(ctx context.Context, url string, payload any, bearer string) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, doErr := c.client.Do(req)
	if resp == nil {
		return 0, nil, doErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, body, nil
}

func excerpt(data []byte) string {
	s := string(data)
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}
