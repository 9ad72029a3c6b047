package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"

	"cloud.google.com/go/cloudsqlconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AlvarDev/Cloud-SQL-Connection/internal/config"
	"github.com/AlvarDev/Cloud-SQL-Connection/internal/logging"
	"github.com/AlvarDev/Cloud-SQL-Connection/internal/secrets"
)

// Descriptor is the derived connection configuration: credentials resolved
// from Secret Manager plus the fixed pool tuning. Immutable after
// construction and held only in process memory.
type Descriptor struct {
	User     string
	Password string
	Name     string // database name
	Instance string // project:region:instance

	Mode      string // config.ModeSocket or config.ModeConnector
	SocketDir string
	Pool      config.PoolSettings
}

// url renders the descriptor as a PostgreSQL connection URL. In socket mode
// the proxy socket path travels in the host query parameter; in connector
// mode the dialer supplies the transport, so no host is set. sslmode is
// disabled because both the proxy and the connector already encrypt and
// authenticate the link.
func (d *Descriptor) url() string {
	q := url.Values{}
	q.Set("sslmode", "disable")
	if d.Mode == config.ModeSocket {
		q.Set("host", fmt.Sprintf("%s/%s", d.SocketDir, d.Instance))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Path:     "/" + d.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// openFunc builds a ready pool from a descriptor. Overridden in tests.
type openFunc func(ctx context.Context, desc *Descriptor) (DBInterface, error)

// Initializer owns the process-wide connection pool and builds it at most
// once. It is constructed at startup and handed to the request handlers;
// there is no package-level pool.
//
// Ensure may be called concurrently: callers serialize on the mutex, the
// first one through resolves secrets and opens the pool, and everyone else
// reuses the cached result. A failed attempt caches nothing, so the next
// request retries from scratch.
type Initializer struct {
	cfg      *config.Config
	resolver secrets.Resolver
	logger   *logging.Logger
	open     openFunc

	mu      sync.Mutex
	db      DBInterface
	connURL string // kept for the migration runner
}

// NewInitializer creates an initializer. The pool is not opened yet; call
// Ensure at startup and again (cheaply) from request handlers.
func NewInitializer(cfg *config.Config, resolver secrets.Resolver, logger *logging.Logger) *Initializer {
	return &Initializer{
		cfg:      cfg,
		resolver: resolver,
		logger:   logger,
		open:     openPgxPool,
	}
}

// Ensure returns the connection pool, building it on first use. Exactly one
// successful call per process performs secret resolution and pool
// construction; subsequent calls return the cached pool without touching
// Secret Manager again.
//
// Failures are classified as secrets.ErrSecretUnavailable (resolution) or
// ErrConnectionSetupFailed (malformed descriptor, unreachable database).
// Error messages never carry secret values or the connection string.
func (i *Initializer) Ensure(ctx context.Context) (DBInterface, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.db != nil {
		return i.db, nil
	}

	desc, err := i.describe(ctx)
	if err != nil {
		return nil, err
	}

	db, err := i.open(ctx, desc)
	if err != nil {
		return nil, err
	}

	i.db = db
	i.connURL = desc.url()
	if i.logger != nil {
		i.logger.Infow("connection pool initialized", map[string]interface{}{
			"mode":      desc.Mode,
			"max_conns": desc.Pool.MaxConns(),
		})
	}
	return db, nil
}

// Close shuts down the pool if it was ever built.
func (i *Initializer) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.db != nil {
		i.db.Close()
		i.db = nil
	}
}

// describe resolves the four credential secrets and assembles the
// connection descriptor. The instance connection name may be overridden by
// the environment, in which case its secret is not fetched.
func (i *Initializer) describe(ctx context.Context) (*Descriptor, error) {
	user, err := i.resolver.Resolve(ctx, i.cfg.DBUserSecret())
	if err != nil {
		return nil, fmt.Errorf("resolving database user: %w", err)
	}

	password, err := i.resolver.Resolve(ctx, i.cfg.DBPasswordSecret())
	if err != nil {
		return nil, fmt.Errorf("resolving database password: %w", err)
	}

	name, err := i.resolver.Resolve(ctx, i.cfg.DBNameSecret())
	if err != nil {
		return nil, fmt.Errorf("resolving database name: %w", err)
	}

	instance := i.cfg.InstanceName
	if instance == "" {
		instance, err = i.resolver.Resolve(ctx, i.cfg.InstanceSecret())
		if err != nil {
			return nil, fmt.Errorf("resolving instance connection name: %w", err)
		}
	}
	if err := config.ValidateInstanceName(instance); err != nil {
		// Do not echo the resolved value; it came from a secret.
		return nil, fmt.Errorf("instance connection name malformed (want project:region:instance): %w", ErrConnectionSetupFailed)
	}

	return &Descriptor{
		User:      user,
		Password:  password,
		Name:      name,
		Instance:  instance,
		Mode:      i.cfg.ConnectMode,
		SocketDir: i.cfg.SocketDir,
		Pool:      i.cfg.Pool,
	}, nil
}

// poolConfig derives the pgxpool configuration from a descriptor.
func poolConfig(desc *Descriptor) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(desc.url())
	if err != nil {
		return nil, fmt.Errorf("malformed connection config: %w", ErrConnectionSetupFailed)
	}

	poolCfg.MaxConns = desc.Pool.MaxConns()
	poolCfg.MinConns = 0
	// Connections older than the recycle interval are discarded and
	// replaced by pgxpool instead of being handed to a caller.
	poolCfg.MaxConnLifetime = desc.Pool.RecycleInterval

	return poolCfg, nil
}

// openPgxPool opens a pgxpool from the descriptor and verifies connectivity.
// Underlying driver errors are not propagated into the returned error text:
// pgx includes connection parameters in its messages and those contain
// resolved secrets.
func openPgxPool(ctx context.Context, desc *Descriptor) (DBInterface, error) {
	poolCfg, err := poolConfig(desc)
	if err != nil {
		return nil, err
	}

	var cleanup func() error
	if desc.Mode == config.ModeConnector {
		d, err := cloudsqlconn.NewDialer(ctx)
		if err != nil {
			return nil, fmt.Errorf("initializing Cloud SQL connector: %w", ErrConnectionSetupFailed)
		}
		cleanup = d.Close
		poolCfg.ConnConfig.DialFunc = func(ctx context.Context, _ string, _ string) (net.Conn, error) {
			return d.Dial(ctx, desc.Instance)
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		if cleanup != nil {
			_ = cleanup()
		}
		return nil, fmt.Errorf("opening connection pool: %w", ErrConnectionSetupFailed)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if cleanup != nil {
			_ = cleanup()
		}
		return nil, fmt.Errorf("database unreachable: %w", ErrConnectionSetupFailed)
	}

	return NewPool(pool, desc.Pool.AcquireTimeout, cleanup), nil
}
