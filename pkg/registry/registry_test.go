package registry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturedRequest records what the fake directory received so assertions
// run on the test goroutine.
type capturedRequest struct {
	method string
	path   string
	auth   string
	body   []byte
}

func captureServer(t *testing.T, status int, response any) (*httptest.Server, *capturedRequest) {
	t.Helper()
	got := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		got.body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if response != nil {
			_ = json.NewEncoder(w).Encode(response)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestFetchToken(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK, map[string]string{"access_token": "tok-123"})

	c := New(Config{})
	token, err := c.FetchToken(context.Background(), Auth0Credentials{
		Domain:       srv.URL,
		ClientID:     "client-1",
		ClientSecret: "secret-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/oauth/token", got.path)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(got.body, &payload))
	assert.Equal(t, "client-1", payload["client_id"])
	assert.Equal(t, "secret-1", payload["client_secret"])
	assert.Equal(t, "client_credentials", payload["grant_type"])
	assert.Equal(t, srv.URL+"/api/v2/", payload["audience"])
}

func TestFetchToken_HTTPError(t *testing.T) {
	srv, _ := captureServer(t, http.StatusForbidden, map[string]string{"error": "access_denied"})

	c := New(Config{})
	_, err := c.FetchToken(context.Background(), Auth0Credentials{
		Domain:       srv.URL,
		ClientID:     "client-1",
		ClientSecret: "secret-1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestFetchToken_IncompleteCredentials(t *testing.T) {
	c := New(Config{})
	_, err := c.FetchToken(context.Background(), Auth0Credentials{
		Domain:   "idp.example.com",
		ClientID: "client-1",
	})
	require.Error(t, err)
}

func TestFetchToken_EmptyToken(t *testing.T) {
	srv, _ := captureServer(t, http.StatusOK, map[string]string{})

	c := New(Config{})
	_, err := c.FetchToken(context.Background(), Auth0Credentials{
		Domain:       srv.URL,
		ClientID:     "client-1",
		ClientSecret: "secret-1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_token")
}

func testManifest() Manifest {
	return Manifest{
		Name:        "web-extraction-agent",
		Description: "Extracts web content",
		Author:      "tester",
		Version:     "1.0.0",
		Capabilities: map[string]any{
			"streaming": true,
		},
		Skills: []Skill{
			{ID: "web_extraction", Name: "Web Extraction", Description: "Extract pages"},
		},
		Deployment: Deployment{URL: "http://localhost:8080/agents/web-extraction-agent", Protocol: "a2a"},
	}
}

func TestRegister(t *testing.T) {
	srv, got := captureServer(t, http.StatusCreated, map[string]string{"id": "agent-42"})

	c := New(Config{APIBaseURL: srv.URL, WebBaseURL: "https://directory.test"})
	res, err := c.Register(context.Background(), "tok-123", testManifest())
	require.NoError(t, err)

	assert.Equal(t, "agent-42", res.ID)
	assert.False(t, res.AlreadyRegistered)
	assert.Equal(t, "https://directory.test/agents/agent-42", res.ViewURL)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/agents/register", got.path)
	assert.Equal(t, "Bearer tok-123", got.auth)

	var sent Manifest
	require.NoError(t, json.Unmarshal(got.body, &sent))
	assert.Equal(t, "web-extraction-agent", sent.Name)
	assert.Equal(t, "tester", sent.Author)
	require.Len(t, sent.Skills, 1)
	assert.Equal(t, "web_extraction", sent.Skills[0].ID)
}

func TestRegister_AlreadyRegistered(t *testing.T) {
	srv, _ := captureServer(t, http.StatusConflict, map[string]string{"detail": "exists"})

	c := New(Config{APIBaseURL: srv.URL, WebBaseURL: "https://directory.test"})
	res, err := c.Register(context.Background(), "tok-123", testManifest())
	require.NoError(t, err)

	assert.True(t, res.AlreadyRegistered)
	assert.Empty(t, res.ID)
	assert.Equal(t, "https://directory.test", res.ViewURL)
}

func TestRegister_Failure(t *testing.T) {
	srv, _ := captureServer(t, http.StatusBadRequest, map[string]string{"error": "bad manifest"})

	c := New(Config{APIBaseURL: srv.URL})
	_, err := c.Register(context.Background(), "tok-123", testManifest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestRegister_RequiresToken(t *testing.T) {
	c := New(Config{APIBaseURL: "http://127.0.0.1:0"})
	_, err := c.Register(context.Background(), "", testManifest())
	require.Error(t, err)
}

func TestNewManifest(t *testing.T) {
	card := &a2a.AgentCard{
		Name:        "web-extraction-agent",
		Description: "Extracts and analyzes web content",
		URL:         "http://localhost:8080/agents/web-extraction-agent",
		Capabilities: a2a.AgentCapabilities{
			Streaming: true,
		},
		Skills: []a2a.AgentSkill{
			{
				ID:          "web_extraction",
				Name:        "Web Extraction",
				Description: "Extract structured data from web pages",
				Tags:        []string{"web", "scraping"},
			},
		},
	}

	m := NewManifest(card, ManifestParams{
		Author:        "tester",
		RepositoryURL: "https://github.com/lsvishaal/web-extraction-agent",
	})

	assert.Equal(t, "web-extraction-agent", m.Name)
	assert.Equal(t, "Extracts and analyzes web content", m.Description)
	assert.Equal(t, "tester", m.Author)
	assert.Equal(t, "1.0.0", m.Version, "missing card version falls back")
	assert.Equal(t, "https://github.com/lsvishaal/web-extraction-agent", m.RepositoryURL)

	assert.Equal(t, true, m.Capabilities["streaming"])
	assert.Equal(t, false, m.Capabilities["push_notifications"])

	require.Len(t, m.Skills, 1)
	assert.Equal(t, "web_extraction", m.Skills[0].ID)
	assert.Equal(t, []string{"web", "scraping"}, m.Skills[0].Tags)

	assert.Equal(t, card.URL, m.Deployment.URL)
	assert.Equal(t, "a2a", m.Deployment.Protocol)
	assert.Equal(t, "jsonrpc", m.Deployment.Transport)
}
