package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fraudwatch/internal/fetcher"
	"fraudwatch/internal/fraud"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	listBucketsBetweenSQL = `SELECT
        customer_id,
        customer_name,
        interval_start,
        transaction_count,
        total_amount::text,
        last_transaction,
        drcr
    FROM customer_transaction_buckets
    WHERE interval_start >= $1
      AND interval_start < $2
    ORDER BY interval_start, customer_id, drcr;`

	countBucketsBetweenSQL = `SELECT COUNT(*)
    FROM customer_transaction_buckets
    WHERE interval_start >= $1
      AND interval_start < $2;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// TransactionBucketStore reads the bucketed transaction feed.
type TransactionBucketStore interface {
	ListTransactionBuckets(ctx context.Context, from, to time.Time) ([]TransactionBucket, error)
	CountTransactionBuckets(ctx context.Context, from, to time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store gives access to the transaction feed and refresh locking.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session when the connection closes
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ListTransactionBuckets lists buckets whose interval starts within [from, to).
func (s *Store) ListTransactionBuckets(ctx context.Context, from, to time.Time) ([]TransactionBucket, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listBucketsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list transaction buckets: %w", queryErr)
	}
	defer rows.Close()

	buckets := make([]TransactionBucket, 0)
	for rows.Next() {
		bucket, scanErr := scanBucket(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		buckets = append(buckets, bucket)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("list transaction buckets: %w", rows.Err())
	}
	return buckets, nil
}

// CountTransactionBuckets counts buckets within [from, to).
func (s *Store) CountTransactionBuckets(ctx context.Context, from, to time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countBucketsBetweenSQL, from, to).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count transaction buckets: %w", scanErr)
	}
	return count, nil
}

// FetchSnapshot serves the window from the database. The rows are read in
// full inside one query before conversion.
func (s *Store) FetchSnapshot(ctx context.Context, window fetcher.Window) ([]fraud.Transaction, error) {
	buckets, err := s.ListTransactionBuckets(ctx, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fetcher.ErrRetrieval, err)
	}
	return BucketsToTransactions(buckets)
}

// BucketsToTransactions converts rows, rejecting the batch on the first bad row.
func BucketsToTransactions(buckets []TransactionBucket) ([]fraud.Transaction, error) {
	txs := make([]fraud.Transaction, 0, len(buckets))
	for i, b := range buckets {
		tx, err := b.ToTransaction(i)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := fraud.Validate(txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func scanBucket(rows pgx.Rows) (TransactionBucket, error) {
	var b TransactionBucket
	if err := rows.Scan(
		&b.CustomerID,
		&b.CustomerName,
		&b.IntervalStart,
		&b.TransactionCount,
		&b.TotalAmount,
		&b.LastTransaction,
		&b.DrCr,
	); err != nil {
		return TransactionBucket{}, fmt.Errorf("scan transaction bucket: %w", err)
	}
	return b, nil
}

var (
	_ fetcher.SnapshotFetcher = (*Store)(nil)
	_ TransactionBucketStore  = (*Store)(nil)
	_ AdvisoryLocker          = (*Store)(nil)
)
