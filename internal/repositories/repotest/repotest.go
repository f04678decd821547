// Package repotest opens migrated databases for repository tests.
package repotest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/migrations"
	"github.com/Ramsey-B/fern/pkg/database"
)

// PostgresDSNEnv names a Postgres DSN to run the repository tests against.
const PostgresDSNEnv = "FERN_TEST_PG_DSN"

func Logger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// SQLite returns a fresh, migrated sqlite database in the test's temp dir.
func SQLite(t *testing.T) database.DB {
	t.Helper()

	logger := Logger()
	db, err := database.Open(context.Background(), database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "fern.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrate(t, db, logger)
	return db
}

// Postgres returns the database named by FERN_TEST_PG_DSN, migrated and emptied.
// The test is skipped in short mode or when the variable is unset.
func Postgres(t *testing.T) database.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}
	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresDSNEnv)
	}

	logger := Logger()
	db, err := database.OpenDSN(context.Background(), database.DriverPostgres, dsn, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrate(t, db, logger)

	for _, table := range []string{"crossed_path_relationships", "crossing_counts", "visits"} {
		_, err := db.ExecContext(context.Background(), "TRUNCATE TABLE "+table)
		require.NoError(t, err)
	}
	return db
}

// Each runs fn against sqlite and, when configured, Postgres.
func Each(t *testing.T, fn func(t *testing.T, db database.DB)) {
	t.Run("sqlite", func(t *testing.T) {
		fn(t, SQLite(t))
	})
	t.Run("postgres", func(t *testing.T) {
		fn(t, Postgres(t))
	})
}

func migrate(t *testing.T, db database.DB, logger ectologger.Logger) {
	t.Helper()
	svc := database.NewMigrationService(logger, &database.MigrationConfig{FS: migrations.FS})
	require.NoError(t, svc.Migrate(db))
}
