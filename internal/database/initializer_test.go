package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlvarDev/Cloud-SQL-Connection/internal/config"
	"github.com/AlvarDev/Cloud-SQL-Connection/internal/secrets"
)

// fakeResolver serves canned secret values and can fail a configurable
// number of initial calls to exercise retry behavior.
type fakeResolver struct {
	mu        sync.Mutex
	values    map[string]string
	failFirst int
	calls     int
	perName   map[string]int
}

func (f *fakeResolver) Resolve(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.perName == nil {
		f.perName = make(map[string]int)
	}
	f.perName[name]++

	if f.calls <= f.failFirst {
		return "", fmt.Errorf("resolver down: %w", secrets.ErrSecretUnavailable)
	}
	value, ok := f.values[name]
	if !ok {
		return "", fmt.Errorf("accessing %s: %w", name, secrets.ErrSecretUnavailable)
	}
	return value, nil
}

func (f *fakeResolver) resolutions(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perName[name]
}

// stubDB is a minimal DBInterface for initializer tests.
type stubDB struct {
	closed bool
}

func (s *stubDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("stub")
}

func (s *stubDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return errRow{err: errors.New("stub")}
}

func (s *stubDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("stub")
}

func (s *stubDB) Ping(ctx context.Context) error { return nil }
func (s *stubDB) Close()                         { s.closed = true }

func testConfig() *config.Config {
	return &config.Config{
		ProjectID:   "proj",
		SocketDir:   "/cloudsql",
		ConnectMode: config.ModeSocket,
		Pool:        config.DefaultPoolSettings(),
	}
}

func testResolver(cfg *config.Config) *fakeResolver {
	return &fakeResolver{values: map[string]string{
		cfg.DBUserSecret():     "app",
		cfg.DBPasswordSecret(): "secret",
		cfg.DBNameSecret():     "petsbook",
		cfg.InstanceSecret():   "proj:region:inst",
	}}
}

// newTestInitializer wires an initializer with a stub opener that counts
// pool constructions.
func newTestInitializer(cfg *config.Config, resolver secrets.Resolver) (*Initializer, *int) {
	opens := 0
	init := NewInitializer(cfg, resolver, nil)
	init.open = func(ctx context.Context, desc *Descriptor) (DBInterface, error) {
		opens++
		return &stubDB{}, nil
	}
	return init, &opens
}

// TestEnsure_Idempotent verifies repeated Ensure calls resolve secrets
// exactly once and return the same pool.
func TestEnsure_Idempotent(t *testing.T) {
	cfg := testConfig()
	resolver := testResolver(cfg)
	init, opens := newTestInitializer(cfg, resolver)

	first, err := init.Ensure(context.Background())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		db, err := init.Ensure(context.Background())
		require.NoError(t, err)
		assert.Same(t, first, db, "Ensure should return the cached pool")
	}

	assert.Equal(t, 1, *opens, "pool should be constructed once")
	assert.Equal(t, 1, resolver.resolutions(cfg.DBUserSecret()))
	assert.Equal(t, 1, resolver.resolutions(cfg.DBPasswordSecret()))
	assert.Equal(t, 1, resolver.resolutions(cfg.DBNameSecret()))
	assert.Equal(t, 1, resolver.resolutions(cfg.InstanceSecret()))
}

// TestEnsure_Concurrent verifies at-most-once initialization under
// concurrent first requests: one resolution sequence, one pool, and every
// caller observes the same pool.
func TestEnsure_Concurrent(t *testing.T) {
	cfg := testConfig()
	resolver := testResolver(cfg)
	init, opens := newTestInitializer(cfg, resolver)

	const callers = 20

	var wg sync.WaitGroup
	results := make([]DBInterface, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = init.Ensure(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i], "all callers should see the same pool")
	}

	assert.Equal(t, 1, *opens)
	assert.Equal(t, 4, resolver.calls, "exactly one resolution sequence")
}

// TestEnsure_FailureIsolation verifies a failed resolution caches nothing
// and the next call succeeds cleanly.
func TestEnsure_FailureIsolation(t *testing.T) {
	cfg := testConfig()
	resolver := testResolver(cfg)
	resolver.failFirst = 1
	init, opens := newTestInitializer(cfg, resolver)

	_, err := init.Ensure(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, secrets.ErrSecretUnavailable)
	assert.Equal(t, 0, *opens, "no pool on resolution failure")

	db, err := init.Ensure(context.Background())
	require.NoError(t, err, "retry after resolver recovery should succeed")
	assert.NotNil(t, db)
	assert.Equal(t, 1, *opens)
}

// TestEnsure_OpenFailureNotCached verifies a pool construction failure
// leaves no state behind and the next call retries the full sequence.
func TestEnsure_OpenFailureNotCached(t *testing.T) {
	cfg := testConfig()
	resolver := testResolver(cfg)
	init := NewInitializer(cfg, resolver, nil)

	opens := 0
	init.open = func(ctx context.Context, desc *Descriptor) (DBInterface, error) {
		opens++
		if opens == 1 {
			return nil, fmt.Errorf("database unreachable: %w", ErrConnectionSetupFailed)
		}
		return &stubDB{}, nil
	}

	_, err := init.Ensure(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionSetupFailed)

	db, err := init.Ensure(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, db)
	assert.Equal(t, 2, opens)
}

// TestEnsure_InstanceFromEnvironment verifies an instance connection name
// provided via configuration skips the corresponding secret fetch.
func TestEnsure_InstanceFromEnvironment(t *testing.T) {
	cfg := testConfig()
	cfg.InstanceName = "proj:region:override"
	resolver := testResolver(cfg)
	init, _ := newTestInitializer(cfg, resolver)

	_, err := init.Ensure(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, resolver.resolutions(cfg.InstanceSecret()),
		"instance secret should not be fetched when the environment provides it")
	assert.Equal(t, 3, resolver.calls)
}

// TestEnsure_MalformedInstance verifies a malformed instance locator fails
// as a setup error without reaching pool construction and without echoing
// the resolved value.
func TestEnsure_MalformedInstance(t *testing.T) {
	cfg := testConfig()
	resolver := testResolver(cfg)
	resolver.values[cfg.InstanceSecret()] = "not-a-locator"
	init, opens := newTestInitializer(cfg, resolver)

	_, err := init.Ensure(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionSetupFailed)
	assert.Equal(t, 0, *opens)
	assert.NotContains(t, err.Error(), "not-a-locator")
}

// TestEnsure_ErrorsCarryNoSecrets verifies failure messages never contain
// resolved secret values.
func TestEnsure_ErrorsCarryNoSecrets(t *testing.T) {
	cfg := testConfig()
	resolver := testResolver(cfg)
	resolver.values[cfg.DBPasswordSecret()] = "hunter2-s3cr3t"
	init := NewInitializer(cfg, resolver, nil)
	init.open = func(ctx context.Context, desc *Descriptor) (DBInterface, error) {
		return nil, fmt.Errorf("opening connection pool: %w", ErrConnectionSetupFailed)
	}

	_, err := init.Ensure(context.Background())
	require.Error(t, err)
	assert.False(t, strings.Contains(err.Error(), "hunter2-s3cr3t"),
		"error text must not leak the password")
	assert.False(t, strings.Contains(err.Error(), "postgres://"),
		"error text must not leak the connection string")
}

// TestDescriptorURL verifies connection URL rendering for both modes,
// including escaping of awkward credential characters.
func TestDescriptorURL(t *testing.T) {
	desc := &Descriptor{
		User:      "app",
		Password:  "p@ss w:rd",
		Name:      "petsbook",
		Instance:  "proj:region:inst",
		Mode:      config.ModeSocket,
		SocketDir: "/cloudsql",
		Pool:      config.DefaultPoolSettings(),
	}

	u := desc.url()
	assert.Contains(t, u, "postgres://app:")
	assert.Contains(t, u, "/petsbook")
	assert.Contains(t, u, "host=%2Fcloudsql%2Fproj%3Aregion%3Ainst")
	assert.Contains(t, u, "sslmode=disable")
	assert.NotContains(t, u, "p@ss w:rd", "password must be escaped")

	desc.Mode = config.ModeConnector
	assert.NotContains(t, desc.url(), "host=", "connector mode leaves dialing to the connector")
}

// TestPoolConfig verifies the pgxpool tuning derived from a descriptor:
// hard cap of pool size plus overflow, and recycling via max connection
// lifetime.
func TestPoolConfig(t *testing.T) {
	desc := &Descriptor{
		User:      "app",
		Password:  "secret",
		Name:      "petsbook",
		Instance:  "proj:region:inst",
		Mode:      config.ModeSocket,
		SocketDir: "/cloudsql",
		Pool:      config.DefaultPoolSettings(),
	}

	poolCfg, err := poolConfig(desc)
	require.NoError(t, err)

	assert.Equal(t, int32(7), poolCfg.MaxConns, "pool size 5 plus overflow 2")
	assert.Equal(t, int32(0), poolCfg.MinConns, "connections open lazily")
	assert.Equal(t, desc.Pool.RecycleInterval, poolCfg.MaxConnLifetime)
	assert.Equal(t, "app", poolCfg.ConnConfig.User)
	assert.Equal(t, "petsbook", poolCfg.ConnConfig.Database)
	assert.Equal(t, "/cloudsql/proj:region:inst", poolCfg.ConnConfig.Host)
}

// TestInitializer_Close verifies Close shuts the cached pool down and
// clears it.
func TestInitializer_Close(t *testing.T) {
	cfg := testConfig()
	resolver := testResolver(cfg)
	init := NewInitializer(cfg, resolver, nil)

	db := &stubDB{}
	init.open = func(ctx context.Context, desc *Descriptor) (DBInterface, error) {
		return db, nil
	}

	_, err := init.Ensure(context.Background())
	require.NoError(t, err)

	init.Close()
	assert.True(t, db.closed)
}
