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
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/a2aproject/a2a-go/a2asrv"

	"github.com/lsvishaal/web-extraction-agent/pkg/app"
	"github.com/lsvishaal/web-extraction-agent/pkg/auth"
	"github.com/lsvishaal/web-extraction-agent/pkg/config"
	"github.com/lsvishaal/web-extraction-agent/pkg/observability"
	"github.com/lsvishaal/web-extraction-agent/pkg/server"
	"github.com/lsvishaal/web-extraction-agent/pkg/task"
)

// ServeCmd starts the A2A server.
type ServeCmd struct {
	// Agent options
	Model       string `help:"Model identifier (falls back to MODEL_NAME, then openai/gpt-5)."`
	APIKey      string `name:"api-key" help:"OpenRouter API key (falls back to OPENROUTER_API_KEY)."`
	Mem0APIKey  string `name:"mem0-api-key" help:"mem0 API key for remote memory (falls back to MEM0_API_KEY)."`
	RequireMem0 bool   `name:"require-mem0" help:"Fail startup without a mem0 API key instead of using the embedded memory store."`
	MemoryPath  string `name:"memory-path" help:"Embedded memory store directory (default: a memory directory next to the configuration document)." type:"path"`

	// Server options
	Settings string `help:"Path to the server settings file (YAML)." type:"path"`
	Host     string `help:"Listen host (overrides settings)."`
	Port     int    `help:"Listen port (overrides settings)."`
	Watch    bool   `help:"Watch the settings source for changes."`

	// Auth options (zero-settings JWT validation)
	JWKSURL      string `name:"jwks-url" help:"JWKS endpoint; setting it enables JWT authentication."`
	AuthIssuer   string `name:"auth-issuer" help:"Expected token issuer."`
	AuthAudience string `name:"auth-audience" help:"Expected token audience."`

	// Observability options
	Observe bool `help:"Enable observability (metrics + OTLP tracing to localhost:4317)."`

	// Rate limit options
	RateLimit int64 `name:"rate-limit" help:"Requests per minute allowed per client on the RPC endpoint (0 = unlimited)." placeholder:"N"`

	// Storage options (enables task persistence)
	Storage   string `help:"Task storage backend: sqlite (server databases are configured through the settings file)." placeholder:"BACKEND"`
	StorageDB string `name:"storage-db" help:"Task storage database path (default: .webx/webx.db)." placeholder:"PATH"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	settings, loader, err := c.loadSettings(ctx)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	if err := c.applyOverrides(settings); err != nil {
		return err
	}
	settings.SetDefaults()
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	// Revalidates edits as they land; applying them still takes a restart.
	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Settings watch error", "error", err)
			}
		}()
	}

	// Settings-file logger values apply only to fields the CLI flags and
	// environment left empty.
	if resolved := resolveLoggerOptions(cli, &settings.Logger); resolved != resolveLoggerOptions(cli, nil) {
		cleanup, err := initLogger(resolved)
		if err != nil {
			return err
		}
		if cleanup != nil {
			defer cleanup()
		}
	}

	apiKey := firstNonEmpty(c.APIKey, os.Getenv("OPENROUTER_API_KEY"))
	if apiKey == "" {
		return errors.New("OPENROUTER_API_KEY required")
	}
	mem0Key := firstNonEmpty(c.Mem0APIKey, os.Getenv("MEM0_API_KEY"))
	if mem0Key == "" && c.RequireMem0 {
		return errors.New("MEM0_API_KEY required. Get your API key from: https://app.mem0.ai/dashboard/api-keys")
	}
	modelID := firstNonEmpty(c.Model, os.Getenv("MODEL_NAME"), "openai/gpt-5")

	application, err := app.New(app.Config{
		ConfigPath:       cli.configPath(),
		ModelID:          modelID,
		OpenRouterAPIKey: apiKey,
		Mem0APIKey:       mem0Key,
		MemoryPath:       c.MemoryPath,
	})
	if err != nil {
		return err
	}
	// The app initializes lazily on the first A2A request; shut it down
	// after the server has drained.
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		if err := application.Shutdown(sctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
	}()

	executor := server.NewExecutor(application)

	// Shared database pool so sqlite task storage sees a single writer.
	dbPool := config.NewDBPool()
	defer dbPool.Close()

	var serverOpts []server.HTTPServerOption

	taskStore, err := task.NewStore(settings.Server.Tasks, dbPool)
	if err != nil {
		return fmt.Errorf("failed to create task store: %w", err)
	}
	if taskStore != nil {
		serverOpts = append(serverOpts, server.WithTaskStore(taskStore))
	}

	validator, err := auth.NewValidatorFromSettings(settings.Server.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize authentication: %w", err)
	}
	if validator != nil {
		defer validator.Close()
		serverOpts = append(serverOpts, server.WithAuthValidator(validator))
	}

	var manager *observability.Manager
	if obs := settings.Server.Observability; obs != nil {
		manager, err = observability.NewManager(ctx, *obs)
		if err != nil {
			return fmt.Errorf("failed to initialize observability: %w", err)
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := manager.Shutdown(sctx); err != nil {
				slog.Error("Observability shutdown error", "error", err)
			}
		}()
		serverOpts = append(serverOpts, server.WithObservability(manager))
	}

	srv := server.NewHTTPServer(&settings.Server, executor, serverOpts...)

	c.printStartupInfo(srv, settings, manager, mem0Key)

	// Start server (blocks until context is cancelled)
	return srv.Start(ctx)
}

// loadSettings loads the settings file, or defaults when none is given.
func (c *ServeCmd) loadSettings(ctx context.Context) (*config.Settings, *config.Loader, error) {
	if c.Settings == "" {
		return config.DefaultSettings(), nil, nil
	}

	settings, loader, err := config.LoadSettingsFile(ctx, c.Settings)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load settings: %w", err)
	}
	slog.Info("Loaded settings", "path", c.Settings)
	return settings, loader, nil
}

// applyOverrides layers CLI flags over the loaded settings.
func (c *ServeCmd) applyOverrides(settings *config.Settings) error {
	if c.Host != "" {
		settings.Server.Host = c.Host
	}
	if c.Port != 0 {
		settings.Server.Port = c.Port
	}

	if c.JWKSURL != "" {
		settings.Server.Auth = &config.AuthSettings{
			Enabled:  true,
			JWKSURL:  c.JWKSURL,
			Issuer:   c.AuthIssuer,
			Audience: c.AuthAudience,
		}
	}

	if c.Observe && settings.Server.Observability == nil {
		settings.Server.Observability = &observability.Config{
			Tracing: observability.TracingConfig{Enabled: true},
			Metrics: observability.MetricsConfig{Enabled: true},
		}
	}

	if c.RateLimit > 0 && settings.Server.RateLimit == nil {
		settings.Server.RateLimit = &config.RateLimitSettings{
			Enabled:  true,
			Requests: c.RateLimit,
		}
	}

	switch c.Storage {
	case "":
	case "sqlite", "sqlite3":
		path := c.StorageDB
		if path == "" {
			path = filepath.Join(".webx", "webx.db")
		}
		settings.Server.Tasks = &config.TaskStoreSettings{
			Backend: config.StorageBackendSQL,
			Database: &config.DatabaseSettings{
				Driver:   c.Storage,
				Database: path,
			},
		}
	default:
		return fmt.Errorf("unsupported --storage backend %q (postgres and mysql are configured through the settings file)", c.Storage)
	}

	return nil
}

// printStartupInfo prints the endpoint summary after wiring completes.
func (c *ServeCmd) printStartupInfo(srv *server.HTTPServer, settings *config.Settings, manager *observability.Manager, mem0Key string) {
	greenColor := "\033[38;2;16;185;129m"
	resetColor := "\033[0m"
	fmt.Printf("\n%s🚀 Web extraction agent ready!%s\n", greenColor, resetColor)
	fmt.Printf("   Agent Card:  http://%s%s\n", srv.Address(), a2asrv.WellKnownAgentCardPath)
	fmt.Printf("   Discovery:   http://%s/agents\n", srv.Address())
	fmt.Printf("   Health:      http://%s/health\n", srv.Address())
	fmt.Printf("   Schema:      http://%s/api/schema\n", srv.Address())
	if settings.Server.IsGRPCEnabled() {
		fmt.Printf("   gRPC:        %s\n", srv.GRPCAddress())
	}

	if tasks := settings.Server.Tasks; tasks.IsSQL() && tasks.Database != nil {
		fmt.Printf("   Storage:     %s (%s)\n", tasks.Database.Driver, tasks.Database.Database)
		fmt.Printf("   - Tasks:     persistent\n")
	} else {
		fmt.Printf("   Storage:     in-memory (not persisted)\n")
	}
	if mem0Key != "" {
		fmt.Printf("   Memory:      mem0 (remote)\n")
	} else {
		fmt.Printf("   Memory:      embedded (local store)\n")
	}

	if obs := settings.Server.Observability; obs != nil && manager != nil {
		if obs.Tracing.Enabled {
			fmt.Printf("   Tracing:     %s (%s)\n", obs.Tracing.Exporter, obs.Tracing.Endpoint)
		}
		if manager.MetricsEnabled() {
			fmt.Printf("   Metrics:     http://%s%s\n", srv.Address(), manager.MetricsEndpoint())
		}
	}

	fmt.Println("\n   A2A JSON-RPC endpoint:")
	fmt.Printf("     - http://%s/agents/%s\n", srv.Address(), server.AgentName)
	fmt.Println("\nPress Ctrl+C to stop")
}
