package postgres

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/KretovDmitry/ledger-service/pkg/logger"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies all pending up migrations to the database behind dsn.
// It opens and closes its own connection.
func Migrate(dsn string, logger logger.Logger) error {
	databaseURL, err := migrateURL(dsn)
	if err != nil {
		return err
	}

	src, err := newSource()
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err := errors.Join(srcErr, dbErr); err != nil {
			logger.Errorf("close migrations: %s", err)
		}
	}()

	logger.Info("trying to apply migrations")

	if err = m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no migrations to apply")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("migrations version: %w", err)
	}

	logger.Infof("migrations applied, version %d", version)

	return nil
}

func newSource() (source.Driver, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	return src, nil
}

// migrateURL rewrites a postgres URL to the scheme
// of the pgx/v5 migrate driver.
func migrateURL(dsn string) (string, error) {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, scheme) {
			return "pgx5://" + strings.TrimPrefix(dsn, scheme), nil
		}
	}
	if strings.HasPrefix(dsn, "pgx5://") {
		return dsn, nil
	}
	return "", fmt.Errorf("migrations need a URL DSN, got %q", redact(dsn))
}

// redact hides everything after the scheme.
func redact(dsn string) string {
	if i := strings.Index(dsn, "://"); i > -1 {
		return dsn[:i+3] + "***"
	}
	return "***"
}
