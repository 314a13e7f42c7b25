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
	"fmt"
	"time"

	"github.com/lsvishaal/web-extraction-agent/pkg/observability"
)

// Settings is the serving-layer configuration for the webx host.
//
// Settings describe how the host serves (ports, auth, task persistence,
// observability). They are separate from the tool/prompt Document managed
// by the Store, which describes what the agent can do.
type Settings struct {
	// Server configures the A2A server.
	Server ServerSettings `yaml:"server,omitempty" json:"server,omitempty"`

	// Logger configures logging behavior.
	Logger LoggerSettings `yaml:"logger,omitempty" json:"logger,omitempty"`
}

// ServerSettings configures the A2A server.
type ServerSettings struct {
	// Host to bind to.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Port to listen on (HTTP/JSON-RPC).
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// GRPCPort is the port for the gRPC listener (default: 50051).
	// Only used when GRPC is enabled.
	GRPCPort int `yaml:"grpc_port,omitempty" json:"grpc_port,omitempty"`

	// GRPC enables the gRPC transport on a second listener.
	// JSON-RPC over HTTP is always served.
	// Default: false
	GRPC *bool `yaml:"grpc,omitempty" json:"grpc,omitempty"`

	// CORS configuration.
	CORS *CORSSettings `yaml:"cors,omitempty" json:"cors,omitempty"`

	// Auth configures JWT-based authentication.
	Auth *AuthSettings `yaml:"auth,omitempty" json:"auth,omitempty"`

	// RateLimit throttles requests per client on the agent endpoints.
	RateLimit *RateLimitSettings `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`

	// Tasks configures the task store for A2A task persistence.
	Tasks *TaskStoreSettings `yaml:"tasks,omitempty" json:"tasks,omitempty"`

	// Observability configures tracing and metrics.
	Observability *observability.Config `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// CORSSettings configures CORS.
type CORSSettings struct {
	// AllowedOrigins is a list of allowed origins.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty" json:"allowed_origins,omitempty"`

	// AllowedMethods is a list of allowed HTTP methods.
	AllowedMethods []string `yaml:"allowed_methods,omitempty" json:"allowed_methods,omitempty"`

	// AllowedHeaders is a list of allowed headers.
	AllowedHeaders []string `yaml:"allowed_headers,omitempty" json:"allowed_headers,omitempty"`

	// AllowCredentials allows credentials.
	AllowCredentials *bool `yaml:"allow_credentials,omitempty" json:"allow_credentials,omitempty"`
}

// AuthSettings configures JWT-based authentication for the server.
//
// Authentication is disabled by default. When enabled, endpoints other
// than health, discovery, and the agent card require a valid JWT.
//
// The token is passed in the Authorization header:
//
//	Authorization: Bearer <token>
type AuthSettings struct {
	// Enabled controls whether authentication is required.
	// Default: false
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// JWKSURL is the URL to fetch the JSON Web Key Set from.
	// Required when Enabled is true.
	JWKSURL string `yaml:"jwks_url,omitempty" json:"jwks_url,omitempty"`

	// Issuer is the expected token issuer (iss claim).
	// Required when Enabled is true.
	Issuer string `yaml:"issuer,omitempty" json:"issuer,omitempty"`

	// Audience is the expected token audience (aud claim).
	// Required when Enabled is true.
	Audience string `yaml:"audience,omitempty" json:"audience,omitempty"`

	// RefreshInterval is how often to refresh the JWKS.
	// Default: 15m
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty" json:"refresh_interval,omitempty"`

	// ExcludedPaths are paths that don't require authentication.
	// Default: ["/", "/health", "/agents", "/metrics", "/.well-known/agent-card.json"]
	ExcludedPaths []string `yaml:"excluded_paths,omitempty" json:"excluded_paths,omitempty"`
}

// RateLimitSettings configures per-client request throttling on the
// agent endpoints. Health, discovery, and the agent card are never
// throttled. Counting is in-process; each replica enforces its own
// budget.
type RateLimitSettings struct {
	// Enabled controls whether rate limiting is applied.
	// Default: false
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Requests allowed per window per client.
	// Default: 60
	Requests int64 `yaml:"requests,omitempty" json:"requests,omitempty"`

	// Window is the counting period.
	// Default: 1m
	Window time.Duration `yaml:"window,omitempty" json:"window,omitempty"`
}

// StorageBackend identifies a task storage backend type.
type StorageBackend string

const (
	// StorageBackendInMemory uses in-memory storage (default).
	StorageBackendInMemory StorageBackend = "inmemory"

	// StorageBackendSQL uses an SQL database for persistence.
	StorageBackendSQL StorageBackend = "sql"
)

// TaskStoreSettings configures task storage.
type TaskStoreSettings struct {
	// Backend specifies the storage backend: "inmemory" (default) or "sql".
	Backend StorageBackend `yaml:"backend,omitempty" json:"backend,omitempty"`

	// Database configures the SQL connection.
	// Required when Backend is "sql".
	Database *DatabaseSettings `yaml:"database,omitempty" json:"database,omitempty"`
}

// DatabaseSettings holds configuration for SQL database connections.
// Supports PostgreSQL, MySQL, and SQLite.
type DatabaseSettings struct {
	// Driver specifies the database driver: "postgres", "mysql", or "sqlite".
	Driver string `yaml:"driver" json:"driver"`

	// Host is the database server hostname (not required for SQLite).
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Port is the database server port (not required for SQLite).
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// Database is the database name (or file path for SQLite).
	Database string `yaml:"database" json:"database"`

	// Username for database authentication (not required for SQLite).
	Username string `yaml:"username,omitempty" json:"username,omitempty"`

	// Password for database authentication (not required for SQLite).
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// SSLMode for PostgreSQL connections.
	SSLMode string `yaml:"ssl_mode,omitempty" json:"ssl_mode,omitempty"`

	// MaxConns is the maximum number of open connections.
	MaxConns int `yaml:"max_conns,omitempty" json:"max_conns,omitempty"`

	// MaxIdle is the maximum number of idle connections.
	MaxIdle int `yaml:"max_idle,omitempty" json:"max_idle,omitempty"`
}

// LoggerSettings configures logging behavior.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-file, --log-format)
//  2. Environment variables (LOG_LEVEL, LOG_FILE, LOG_FORMAT)
//  3. Settings file (logger section)
//  4. Defaults (info level, simple format, stderr)
type LoggerSettings struct {
	// Level specifies the log level (debug, info, warn, error).
	// Default: info
	Level string `yaml:"level,omitempty" json:"level,omitempty"`

	// File specifies the log file path. Empty means stderr.
	File string `yaml:"file,omitempty" json:"file,omitempty"`

	// Format specifies the log format: "simple", "verbose", or "json".
	// Default: simple
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// SetDefaults applies default values.
func (s *Settings) SetDefaults() {
	s.Server.SetDefaults()
	s.Logger.SetDefaults()
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if err := s.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := s.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	return nil
}

// SetDefaults applies default values.
func (c *ServerSettings) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}

	if c.Port == 0 {
		c.Port = 8080
	}

	if c.GRPCPort == 0 {
		c.GRPCPort = 50051
	}

	if c.GRPC == nil {
		c.GRPC = BoolPtr(false)
	}

	// Default CORS for development
	if c.CORS == nil {
		c.CORS = &CORSSettings{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}
	}

	if c.Auth != nil {
		c.Auth.SetDefaults()
	}

	if c.RateLimit != nil {
		c.RateLimit.SetDefaults()
	}

	if c.Tasks != nil {
		c.Tasks.SetDefaults()
	}

	if c.Observability != nil {
		c.Observability.SetDefaults()
	}
}

// Validate checks the server settings.
func (c *ServerSettings) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc_port %d", c.GRPCPort)
	}

	if c.Auth != nil {
		if err := c.Auth.Validate(); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if c.RateLimit != nil {
		if err := c.RateLimit.Validate(); err != nil {
			return fmt.Errorf("rate_limit: %w", err)
		}
	}

	if c.Tasks != nil {
		if err := c.Tasks.Validate(); err != nil {
			return fmt.Errorf("tasks: %w", err)
		}
	}

	if c.Observability != nil {
		if err := c.Observability.Validate(); err != nil {
			return fmt.Errorf("observability: %w", err)
		}
	}

	return nil
}

// Address returns the HTTP server address.
func (c *ServerSettings) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GRPCAddress returns the gRPC server address.
func (c *ServerSettings) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// IsGRPCEnabled reports whether the gRPC listener should start.
func (c *ServerSettings) IsGRPCEnabled() bool {
	return c.GRPC != nil && *c.GRPC
}

// SetDefaults applies default values to AuthSettings.
func (c *AuthSettings) SetDefaults() {
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 15 * time.Minute
	}

	if len(c.ExcludedPaths) == 0 {
		c.ExcludedPaths = []string{
			"/",
			"/health",
			"/agents",
			"/metrics",
			"/.well-known/agent-card.json",
		}
	}
}

// Validate checks the AuthSettings for errors.
func (c *AuthSettings) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.JWKSURL == "" {
		return fmt.Errorf("auth.jwks_url is required when auth is enabled")
	}

	if c.Issuer == "" {
		return fmt.Errorf("auth.issuer is required when auth is enabled")
	}

	if c.Audience == "" {
		return fmt.Errorf("auth.audience is required when auth is enabled")
	}

	if c.RefreshInterval < time.Minute {
		return fmt.Errorf("auth.refresh_interval must be at least 1 minute")
	}

	return nil
}

// IsEnabled returns true if authentication is configured and enabled.
func (c *AuthSettings) IsEnabled() bool {
	return c != nil && c.Enabled && c.JWKSURL != "" && c.Issuer != "" && c.Audience != ""
}

// SetDefaults applies default values to RateLimitSettings.
func (c *RateLimitSettings) SetDefaults() {
	if c.Requests == 0 {
		c.Requests = 60
	}
	if c.Window == 0 {
		c.Window = time.Minute
	}
}

// Validate checks the rate limit settings.
func (c *RateLimitSettings) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Requests < 0 {
		return fmt.Errorf("rate_limit.requests must be positive")
	}

	if c.Window < time.Second {
		return fmt.Errorf("rate_limit.window must be at least 1 second")
	}

	return nil
}

// IsEnabled returns true if rate limiting is configured and enabled.
func (c *RateLimitSettings) IsEnabled() bool {
	return c != nil && c.Enabled
}

// SetDefaults applies default values for TaskStoreSettings.
func (c *TaskStoreSettings) SetDefaults() {
	if c.Backend == "" {
		c.Backend = StorageBackendInMemory
	}
	if c.Database != nil {
		c.Database.SetDefaults()
	}
}

// Validate checks the task store settings.
func (c *TaskStoreSettings) Validate() error {
	if c.Backend != "" && c.Backend != StorageBackendInMemory && c.Backend != StorageBackendSQL {
		return fmt.Errorf("invalid backend %q (valid: inmemory, sql)", c.Backend)
	}

	if c.Backend == StorageBackendSQL {
		if c.Database == nil {
			return fmt.Errorf("database is required when backend is sql")
		}
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	return nil
}

// IsSQL returns true if using SQL task storage.
func (c *TaskStoreSettings) IsSQL() bool {
	return c != nil && c.Backend == StorageBackendSQL
}

// SetDefaults applies default values to the database settings.
func (c *DatabaseSettings) SetDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5
	}

	// Default ports per driver
	if c.Port == 0 {
		switch c.Driver {
		case "postgres":
			c.Port = 5432
		case "mysql":
			c.Port = 3306
		}
	}

	if c.Driver == "postgres" && c.SSLMode == "" {
		c.SSLMode = "disable"
	}
}

// Validate checks the database settings.
func (c *DatabaseSettings) Validate() error {
	if c.Driver == "" {
		return fmt.Errorf("driver is required")
	}

	validDrivers := map[string]bool{
		"postgres": true,
		"mysql":    true,
		"sqlite":   true,
		"sqlite3":  true,
	}
	if !validDrivers[c.Driver] {
		return fmt.Errorf("invalid driver %q (valid: postgres, mysql, sqlite)", c.Driver)
	}

	if c.Database == "" {
		return fmt.Errorf("database is required")
	}

	if c.Driver != "sqlite" && c.Driver != "sqlite3" {
		if c.Host == "" {
			return fmt.Errorf("host is required for %s", c.Driver)
		}
	}

	if c.MaxConns < 0 {
		return fmt.Errorf("max_conns must be non-negative")
	}

	if c.MaxIdle < 0 {
		return fmt.Errorf("max_idle must be non-negative")
	}

	return nil
}

// DSN returns the data source name (connection string) for the database.
func (c *DatabaseSettings) DSN() string {
	switch c.Driver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s", c.Host, c.Port, c.Database)
		if c.Username != "" {
			dsn += fmt.Sprintf(" user=%s", c.Username)
		}
		if c.Password != "" {
			dsn += fmt.Sprintf(" password=%s", c.Password)
		}
		if c.SSLMode != "" {
			dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
		}
		return dsn
	case "mysql":
		if c.Username != "" {
			return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s",
				c.Username, c.Password, c.Host, c.Port, c.Database)
		}
		return fmt.Sprintf("tcp(%s:%d)/%s", c.Host, c.Port, c.Database)
	case "sqlite", "sqlite3":
		return c.Database
	default:
		return ""
	}
}

// DriverName returns the normalized driver name for sql.Open().
// Converts "sqlite" to "sqlite3" for the go-sqlite3 driver.
func (c *DatabaseSettings) DriverName() string {
	if c.Driver == "sqlite" {
		return "sqlite3"
	}
	return c.Driver
}

// Dialect returns the normalized SQL dialect name for query building.
// Converts "sqlite3" to "sqlite" for consistent dialect handling.
func (c *DatabaseSettings) Dialect() string {
	if c.Driver == "sqlite3" {
		return "sqlite"
	}
	return c.Driver
}

// SetDefaults applies default values to LoggerSettings.
func (c *LoggerSettings) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// Validate checks the logger settings.
func (c *LoggerSettings) Validate() error {
	if c.Level != "" {
		validLevels := map[string]bool{
			"debug":   true,
			"info":    true,
			"warn":    true,
			"warning": true,
			"error":   true,
		}
		if !validLevels[c.Level] {
			return fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", c.Level)
		}
	}

	return nil
}
