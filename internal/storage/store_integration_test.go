package storage

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"fraudwatch/internal/config"
	"fraudwatch/internal/fetcher"
	"fraudwatch/internal/fraud"
)

// setupStore starts a disposable PostgreSQL, applies the repository
// migrations and returns a connected Store.
func setupStore(t *testing.T) (*Store, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("fraudwatch"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	res, err := Migrate(dsn, migrationsDir(t), zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, uint(1), res.Version)
	require.True(t, res.Changed)

	pool, err := NewPool(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 4})
	require.NoError(t, err)
	store := NewStore(pool)
	t.Cleanup(store.Close)
	return store, dsn
}

func migrationsDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

func TestStoreIntegration(t *testing.T) {
	store, dsn := setupStore(t)
	ctx := t.Context()

	_, err := store.pool.Exec(ctx, `INSERT INTO customer_transaction_buckets
		(customer_id, customer_name, interval_start, transaction_count, total_amount, last_transaction, drcr)
		VALUES
		('C1', 'Alice', '2025-01-01 09:00:00+00', 6, 1000.00, '2025-01-01 09:20:00+00', 'DEBIT'),
		('C1', 'Alice', '2025-01-01 09:00:00+00', 1, 200.00, '2025-01-01 09:25:00+00', 'CREDIT'),
		('C2', NULL, '2025-01-01 09:30:00+00', 1, 96000.00, NULL, 'DEBIT'),
		('C3', 'Carol', '2025-01-02 09:30:00+00', 1, 5.00, NULL, 'DEBIT')`)
	require.NoError(t, err)

	window := fetcher.Window{
		Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	}

	t.Run("CountAndList", func(t *testing.T) {
		count, err := store.CountTransactionBuckets(ctx, window.Start, window.End)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)

		buckets, err := store.ListTransactionBuckets(ctx, window.Start, window.End)
		require.NoError(t, err)
		require.Len(t, buckets, 3)
	})

	t.Run("FetchSnapshot", func(t *testing.T) {
		txs, err := store.FetchSnapshot(ctx, window)
		require.NoError(t, err)
		require.Len(t, txs, 3)

		byCustomer := map[string][]fraud.Transaction{}
		for _, tx := range txs {
			byCustomer[tx.CustomerID] = append(byCustomer[tx.CustomerID], tx)
		}
		require.Len(t, byCustomer["C1"], 2)
		assert.Equal(t, "2025-01-01 09:00", byCustomer["C1"][0].IntervalKey)
		require.Len(t, byCustomer["C2"], 1)
		assert.Equal(t, "2025-01-01 09:30", byCustomer["C2"][0].IntervalKey)
		assert.Equal(t, "96000", byCustomer["C2"][0].TotalAmount.String())

		data, err := fraud.NewEngine(1, zerolog.Nop()).Analyze(ctx, txs, fraud.DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, 1, data.FlagCounts()[fraud.FlagHighFrequency])
		assert.Equal(t, 1, data.FlagCounts()[fraud.FlagThresholdAvoidance])
	})

	t.Run("IntervalCheckConstraint", func(t *testing.T) {
		_, err := store.pool.Exec(ctx, `INSERT INTO customer_transaction_buckets
			(customer_id, interval_start, transaction_count, total_amount, drcr)
			VALUES ('C9', '2025-01-01 09:10:00+00', 1, 1, 'DEBIT')`)
		assert.Error(t, err)
	})

	t.Run("AdvisoryLock", func(t *testing.T) {
		release, ok, err := store.TryAdvisoryLock(ctx, 4242)
		require.NoError(t, err)
		require.True(t, ok)

		other, err := NewPool(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 1})
		require.NoError(t, err)
		otherStore := NewStore(other)
		defer otherStore.Close()

		_, held, err := otherStore.TryAdvisoryLock(ctx, 4242)
		require.NoError(t, err)
		assert.False(t, held)

		release()
		unlockAgain, held, err := otherStore.TryAdvisoryLock(ctx, 4242)
		require.NoError(t, err)
		require.True(t, held)
		unlockAgain()
	})

	t.Run("MigrateIsIdempotent", func(t *testing.T) {
		res, err := Migrate(dsn, migrationsDir(t), zerolog.Nop())
		require.NoError(t, err)
		assert.False(t, res.Changed)
		assert.Equal(t, uint(1), res.Version)
	})
}

func TestMigrationURL(t *testing.T) {
	got, err := migrationURL("postgres://u:p@localhost:5432/db?sslmode=disable")
	require.NoError(t, err)
	assert.Equal(t, "pgx5://u:p@localhost:5432/db?sslmode=disable", got)

	got, err = migrationURL("postgresql://localhost/db")
	require.NoError(t, err)
	assert.Equal(t, "pgx5://localhost/db", got)

	_, err = migrationURL("host=localhost dbname=db")
	assert.Error(t, err)
}
