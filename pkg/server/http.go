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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2agrpc"
	"github.com/a2aproject/a2a-go/a2apb"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/go-chi/chi/v5"
	"github.com/invopop/jsonschema"

	"github.com/lsvishaal/web-extraction-agent/pkg/auth"
	"github.com/lsvishaal/web-extraction-agent/pkg/config"
	"github.com/lsvishaal/web-extraction-agent/pkg/observability"
	"github.com/lsvishaal/web-extraction-agent/pkg/ratelimit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

// HTTPServer serves the agent over A2A JSON-RPC, with an optional gRPC
// listener on a second port. Uses a2a-go native handlers for protocol
// compliance.
type HTTPServer struct {
	cfg     *config.ServerSettings
	version string
	server  *http.Server

	// gRPC listener (only when cfg.GRPC is enabled)
	grpcServer  *grpc.Server
	grpcHandler *a2agrpc.Handler

	// TaskStore for persistent task storage (nil = a2a-go in-memory)
	taskStore a2asrv.TaskStore

	// Auth: JWT validator and a2a-go interceptor
	authValidator   auth.TokenValidator
	authInterceptor *auth.Interceptor

	// Rate limiter for the RPC endpoint (nil = unlimited)
	rateLimiter *ratelimit.Limiter

	// Observability: tracing and metrics. Nil-safe throughout.
	observability *observability.Manager

	// A2A handlers (from a2a-go) and the card they serve
	card        *a2a.AgentCard
	jsonrpc     http.Handler
	cardHandler http.Handler
}

// HTTPServerOption configures the HTTP server.
type HTTPServerOption func(*HTTPServer)

// WithTaskStore sets the task store for persistent task storage.
// If not set, a2a-go uses its internal in-memory store.
func WithTaskStore(store a2asrv.TaskStore) HTTPServerOption {
	return func(s *HTTPServer) {
		s.taskStore = store
	}
}

// WithAuthValidator sets the JWT validator for authentication.
// When set, HTTP requests are validated and claims passed to the agent.
func WithAuthValidator(validator auth.TokenValidator) HTTPServerOption {
	return func(s *HTTPServer) {
		s.authValidator = validator
	}
}

// WithObservability sets the observability manager for tracing and metrics.
func WithObservability(obs *observability.Manager) HTTPServerOption {
	return func(s *HTTPServer) {
		s.observability = obs
	}
}

// WithVersion sets the advertised agent version.
func WithVersion(version string) HTTPServerOption {
	return func(s *HTTPServer) {
		if version != "" {
			s.version = version
		}
	}
}

// NewHTTPServer creates a server hosting the given executor.
func NewHTTPServer(cfg *config.ServerSettings, executor a2asrv.AgentExecutor, opts ...HTTPServerOption) *HTTPServer {
	if cfg == nil {
		cfg = &config.ServerSettings{}
	}
	if cfg.Host == "" || cfg.Port == 0 {
		cfg.SetDefaults()
	}

	s := &HTTPServer{
		cfg:     cfg,
		version: DefaultVersion,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.buildHandlers(executor)

	return s
}

// buildHandlers creates the a2a-go native handlers and the agent card.
func (s *HTTPServer) buildHandlers(executor a2asrv.AgentExecutor) {
	if s.authValidator != nil {
		s.authInterceptor = auth.NewInterceptor(s.cfg.Auth.IsEnabled())
	}

	if s.cfg.RateLimit.IsEnabled() {
		rl := *s.cfg.RateLimit
		rl.SetDefaults()
		s.rateLimiter = ratelimit.New(ratelimit.Config{Requests: rl.Requests, Window: rl.Window})
		slog.Info("Rate limiting enabled", "requests", rl.Requests, "window", rl.Window)
	}

	s.card = NewAgentCard(CardParams{
		BaseURL: "http://" + s.cfg.Address(),
		Version: s.version,
		Auth:    s.authValidator != nil && s.cfg.Auth.IsEnabled(),
	})

	var handlerOpts []a2asrv.RequestHandlerOption
	if s.taskStore != nil {
		handlerOpts = append(handlerOpts, a2asrv.WithTaskStore(s.taskStore))
	}
	if s.authInterceptor != nil {
		handlerOpts = append(handlerOpts, a2asrv.WithCallInterceptor(s.authInterceptor))
	}

	requestHandler := a2asrv.NewHandler(executor, handlerOpts...)
	s.jsonrpc = a2asrv.NewJSONRPCHandler(requestHandler)
	s.cardHandler = a2asrv.NewStaticAgentCardHandler(s.card)

	if s.cfg.IsGRPCEnabled() {
		s.grpcHandler = a2agrpc.NewHandler(requestHandler)
	}
}

// Start starts the server and blocks until ctx is canceled or serving
// fails.
func (s *HTTPServer) Start(ctx context.Context) error {
	if s.cfg.IsGRPCEnabled() {
		if err := s.startGRPC(); err != nil {
			return err
		}
	}

	s.server = &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("HTTP server starting", "address", s.cfg.Address())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// handler assembles the middleware chain around the route table.
// Order (outermost first): observability -> logging -> cors -> auth -> routes.
func (s *HTTPServer) handler() http.Handler {
	r := chi.NewRouter()

	// Observability outermost for complete request coverage.
	r.Use(observability.HTTPMiddleware(s.observability.Tracer(), s.observability.Metrics()))
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)

	// Auth middleware: validates JWT and stores claims in context.
	// Innermost, so preflight and excluded paths pass through the rest.
	if s.authValidator != nil {
		excluded := []string{"/", "/health", "/agents", "/metrics", "/.well-known/agent-card.json"}
		if s.cfg.Auth != nil && len(s.cfg.Auth.ExcludedPaths) > 0 {
			excluded = s.cfg.Auth.ExcludedPaths
		}
		if s.observability.MetricsEnabled() {
			excluded = append(excluded, s.observability.MetricsEndpoint())
		}
		r.Use(auth.MiddlewareWithExclusions(s.authValidator, excluded))
		slog.Info("Authentication enabled", "excluded_paths", excluded)
	}

	s.addRoutes(r)

	return r
}

// startGRPC starts the gRPC listener.
func (s *HTTPServer) startGRPC() error {
	lis, err := net.Listen("tcp", s.cfg.GRPCAddress())
	if err != nil {
		return fmt.Errorf("gRPC listen failed: %w", err)
	}

	var opts []grpc.ServerOption
	if v, ok := s.authValidator.(grpcAuthenticator); ok {
		opts = append(opts,
			grpc.UnaryInterceptor(v.UnaryServerInterceptor()),
			grpc.StreamInterceptor(v.StreamServerInterceptor()),
		)
	}

	s.grpcServer = grpc.NewServer(opts...)
	a2apb.RegisterA2AServiceServer(s.grpcServer, s.grpcHandler)

	// Reflection for debugging (grpcurl, grpcui)
	reflection.Register(s.grpcServer)

	slog.Info("gRPC server starting", "address", s.cfg.GRPCAddress())

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "error", err)
		}
	}()

	return nil
}

// grpcAuthenticator is the optional surface a validator provides for the
// gRPC listener. The bundled JWT validator implements it.
type grpcAuthenticator interface {
	UnaryServerInterceptor() grpc.UnaryServerInterceptor
	StreamServerInterceptor() grpc.StreamServerInterceptor
}

// Shutdown gracefully shuts down the server(s).
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error

	if s.server != nil {
		slog.Info("HTTP server shutting down")
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP shutdown error: %w", err))
		}
	}

	if s.grpcServer != nil {
		slog.Info("gRPC server shutting down")
		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()

		select {
		case <-stopped:
			slog.Info("gRPC server stopped gracefully")
		case <-shutdownCtx.Done():
			slog.Warn("gRPC graceful stop timeout, forcing shutdown")
			s.grpcServer.Stop()
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	return nil
}

// Address returns the HTTP server address.
func (s *HTTPServer) Address() string {
	return s.cfg.Address()
}

// GRPCAddress returns the gRPC server address, or "" when disabled.
func (s *HTTPServer) GRPCAddress() string {
	if s.cfg.IsGRPCEnabled() {
		return s.cfg.GRPCAddress()
	}
	return ""
}

// Card returns the agent card the server advertises.
func (s *HTTPServer) Card() *a2a.AgentCard {
	return s.card
}

// addRoutes registers the route table.
// A2A spec compliant paths:
//   - GET  /.well-known/agent-card.json → agent card (a2a-go native)
//   - GET  /agents                      → discovery listing
//   - GET  /agents/{agent}              → agent card (a2a-go native)
//   - POST /agents/{agent}              → JSON-RPC (a2a-go native)
//   - GET  /agents/{agent}/.well-known/agent-card.json → agent card
func (s *HTTPServer) addRoutes(r chi.Router) {
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/api/schema", s.handleSchema)

	// Prometheus metrics endpoint (if enabled)
	if s.observability.MetricsEnabled() {
		endpoint := s.observability.MetricsEndpoint()
		r.Get(endpoint, s.observability.MetricsHandler().ServeHTTP)
		slog.Info("Metrics endpoint enabled", "path", endpoint)
	}

	// Server-level well-known agent card, per A2A spec section 5.3
	r.Get(a2asrv.WellKnownAgentCardPath, s.cardHandler.ServeHTTP)

	r.Get("/agents", s.handleDiscovery)

	r.Route("/agents/{agent}", func(r chi.Router) {
		r.Use(s.requireKnownAgent)
		r.Get("/", s.cardHandler.ServeHTTP)
		// Only the RPC endpoint is throttled; card reads stay free.
		r.With(ratelimit.Middleware(s.rateLimiter, nil)).Post("/", s.jsonrpc.ServeHTTP)
		r.Get(a2asrv.WellKnownAgentCardPath, s.cardHandler.ServeHTTP)
	})
}

// requireKnownAgent rejects routes addressing an agent this server does
// not host.
func (s *HTTPServer) requireKnownAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if name := chi.URLParam(r, "agent"); name != AgentName {
			http.Error(w, "Agent not found: "+name, http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleRoot serves a small service descriptor at the bare root.
func (s *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"service":  AgentName,
		"version":  s.version,
		"protocol": "a2a",
		"endpoints": map[string]string{
			"agent_card": a2asrv.WellKnownAgentCardPath,
			"discovery":  "/agents",
			"jsonrpc":    "/agents/" + AgentName,
			"health":     "/health",
			"schema":     "/api/schema",
		},
	})
}

// handleHealth returns server health status.
func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleSchema returns the JSON Schema of the configuration document.
// Generated dynamically so it is always current.
func (s *HTTPServer) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema := ConfigSchema()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(schema); err != nil {
		slog.Error("Failed to encode schema", "error", err)
		http.Error(w, "Failed to generate schema", http.StatusInternalServerError)
	}
}

// ConfigSchema reflects the configuration document into a draft-07 JSON
// Schema. Shared by the /api/schema endpoint and the schema CLI command.
func ConfigSchema() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true, // inline definitions for form generators
	}

	schema := reflector.Reflect(&config.Document{})
	schema.ID = "https://github.com/lsvishaal/web-extraction-agent/schemas/config.json"
	schema.Title = "Web Extraction Agent Configuration"
	schema.Description = "Configuration document for the web extraction agent (tools, prompts, model)"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// handleDiscovery lists the hosted agent cards.
func (s *HTTPServer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"agents": []*a2a.AgentCard{s.card},
		"total":  1,
	})
}

// corsMiddleware adds CORS headers.
func (s *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	cors := s.cfg.CORS
	if cors == nil {
		// Default permissive CORS for development
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			for _, allowed := range cors.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if config.BoolValue(cors.AllowCredentials, false) {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs requests. The ResponseWriter is not wrapped here;
// wrapping would hide http.Flusher from streaming responses.
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
