package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
)

// MigrationResult reports the schema version after a migration run.
type MigrationResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate applies every pending up migration found under dir.
func Migrate(dsn, dir string, logger zerolog.Logger) (MigrationResult, error) {
	m, err := newMigrator(dsn, dir)
	if err != nil {
		return MigrationResult{}, err
	}
	defer closeMigrator(m, logger)

	res := MigrationResult{Changed: true}
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return res, fmt.Errorf("apply migrations: %w", err)
		}
		res.Changed = false
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return res, fmt.Errorf("read schema version: %w", err)
	}
	res.Version, res.Dirty = version, dirty

	logger.Info().
		Uint("version", version).
		Bool("changed", res.Changed).
		Str("dir", dir).
		Msg("database migrations applied")
	return res, nil
}

func newMigrator(dsn, dir string) (*migrate.Migrate, error) {
	dbURL, err := migrationURL(dsn)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve migrations path: %w", err)
	}
	m, err := migrate.New("file://"+filepath.ToSlash(abs), dbURL)
	if err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}
	return m, nil
}

func closeMigrator(m *migrate.Migrate, logger zerolog.Logger) {
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		logger.Warn().Err(srcErr).Msg("close migration source")
	}
	if dbErr != nil {
		logger.Warn().Err(dbErr).Msg("close migration database")
	}
}

// migrationURL rewrites a postgres URL DSN to the pgx/v5 migrate driver scheme.
func migrationURL(dsn string) (string, error) {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(dsn, prefix); ok {
			return "pgx5://" + rest, nil
		}
	}
	if strings.HasPrefix(dsn, "pgx5://") {
		return dsn, nil
	}
	return "", fmt.Errorf("database.dsn must be a postgres:// URL to run migrations")
}
