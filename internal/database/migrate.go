package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/AlvarDev/Cloud-SQL-Connection/internal/config"
)

// Migrate applies all pending schema migrations from the migrations
// directory. It initializes the pool first so the credentials are already
// resolved; the migration runner reuses the derived connection URL.
//
// Migrations run only in socket mode: golang-migrate dials the URL itself
// and cannot go through the connector dialer.
func (i *Initializer) Migrate(ctx context.Context) error {
	if _, err := i.Ensure(ctx); err != nil {
		return err
	}

	if i.cfg.ConnectMode != config.ModeSocket {
		if i.logger != nil {
			i.logger.Warn("skipping migrations: connector mode has no migration transport")
		}
		return nil
	}

	i.mu.Lock()
	connURL := i.connURL
	i.mu.Unlock()

	m, err := migrate.New("file://migrations", connURL)
	if err != nil {
		return fmt.Errorf("creating migration runner: %w", ErrConnectionSetupFailed)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		if i.logger != nil {
			i.logger.Warn("could not read migration version")
		}
	}

	if dirty {
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("forcing migration version %d: %w", version, err)
		}
		if i.logger != nil {
			i.logger.Infow("cleared dirty migration state", map[string]interface{}{"version": version})
		}
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			if i.logger != nil {
				i.logger.Info("database schema is up to date")
			}
			return nil
		}
		return fmt.Errorf("running migrations: %w", err)
	}

	version, _, _ = m.Version()
	if i.logger != nil {
		i.logger.Infow("migrations applied", map[string]interface{}{"version": version})
	}
	return nil
}
