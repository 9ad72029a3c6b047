// Package config loads service configuration from the process environment.
// It resolves the Google Cloud project ID (environment variable first, then
// the metadata server, mirroring Application Default Credentials), builds
// the Secret Manager version names for the database credentials, and carries
// the fixed connection pool tuning used by the pool initializer.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/compute/metadata"
)

// Connection modes supported by the pool initializer.
const (
	// ModeSocket connects through the Cloud SQL proxy's unix socket
	// (e.g. /cloudsql/project:region:instance). Default on Cloud Run.
	ModeSocket = "socket"

	// ModeConnector dials the instance directly with the Cloud SQL Go
	// connector instead of a local socket.
	ModeConnector = "connector"
)

// Secret IDs holding the database credentials. One Secret Manager secret
// per value, always read at the "latest" version.
const (
	secretDBUser       = "db_user_secret"
	secretDBPassword   = "db_password_secret"
	secretDBName       = "db_name_secret"
	secretInstanceName = "cloud_sql_connection_name_secret"
)

// PoolSettings holds the fixed connection pool tuning parameters.
//
// PoolSize connections are kept as the working set; MaxOverflow extra
// connections may be opened under load, so the hard cap handed to pgxpool
// is PoolSize + MaxOverflow.
type PoolSettings struct {
	PoolSize        int32         // base pool size
	MaxOverflow     int32         // extra connections beyond PoolSize
	AcquireTimeout  time.Duration // max wait for a connection checkout
	RecycleInterval time.Duration // max connection age before replacement
}

// MaxConns returns the hard connection cap (pool size plus overflow).
func (p PoolSettings) MaxConns() int32 {
	return p.PoolSize + p.MaxOverflow
}

// Config holds all runtime configuration for the service.
type Config struct {
	// ProjectID is the Google Cloud project hosting the secrets.
	ProjectID string

	// SocketDir is the directory where the Cloud SQL proxy exposes one
	// unix socket per instance connection name.
	SocketDir string

	// ConnectMode is ModeSocket or ModeConnector.
	ConnectMode string

	// InstanceName optionally overrides the instance connection name
	// secret with a value from the environment (deployment-dependent).
	InstanceName string

	// Port is the HTTP listen port.
	Port string

	// RunMigrations applies pending schema migrations at startup.
	RunMigrations bool

	// Pool carries the fixed pool tuning parameters.
	Pool PoolSettings
}

// DefaultPoolSettings returns the pool tuning used in production:
// 5 base connections, 2 overflow, 30s checkout wait, 30min recycle.
func DefaultPoolSettings() PoolSettings {
	return PoolSettings{
		PoolSize:        5,
		MaxOverflow:     2,
		AcquireTimeout:  30 * time.Second,
		RecycleInterval: 30 * time.Minute,
	}
}

// Load reads configuration from the environment. The project ID comes from
// GOOGLE_CLOUD_PROJECT when set, otherwise from the GCE metadata server.
func Load(ctx context.Context) (*Config, error) {
	projectID := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if projectID == "" {
		if !metadata.OnGCE() {
			return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT not set and metadata server unavailable")
		}
		id, err := metadata.ProjectIDWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving project ID from metadata server: %w", err)
		}
		projectID = id
	}

	socketDir := os.Getenv("DB_SOCKET_DIR")
	if socketDir == "" {
		socketDir = "/cloudsql"
	}

	mode := os.Getenv("DB_CONNECT_MODE")
	switch mode {
	case "":
		mode = ModeSocket
	case ModeSocket, ModeConnector:
	default:
		return nil, fmt.Errorf("invalid DB_CONNECT_MODE %q (want %q or %q)", mode, ModeSocket, ModeConnector)
	}

	instance := os.Getenv("INSTANCE_CONNECTION_NAME")
	if instance != "" {
		if err := ValidateInstanceName(instance); err != nil {
			return nil, err
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return &Config{
		ProjectID:     projectID,
		SocketDir:     socketDir,
		ConnectMode:   mode,
		InstanceName:  instance,
		Port:          port,
		RunMigrations: os.Getenv("RUN_MIGRATIONS") == "true",
		Pool:          DefaultPoolSettings(),
	}, nil
}

// SecretVersion builds the fully-qualified Secret Manager version name for
// a secret ID in the configured project, pinned to the latest version.
func (c *Config) SecretVersion(secretID string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", c.ProjectID, secretID)
}

// Secret version names for the four database credentials.

func (c *Config) DBUserSecret() string     { return c.SecretVersion(secretDBUser) }
func (c *Config) DBPasswordSecret() string { return c.SecretVersion(secretDBPassword) }
func (c *Config) DBNameSecret() string     { return c.SecretVersion(secretDBName) }
func (c *Config) InstanceSecret() string   { return c.SecretVersion(secretInstanceName) }

// ValidateInstanceName checks that an instance connection name has the
// project:region:instance form.
func ValidateInstanceName(name string) error {
	parts := strings.Split(name, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return fmt.Errorf("invalid instance connection name %q (want project:region:instance)", name)
	}
	return nil
}
