package fetcher

import (
	"context"
	"errors"
	"time"

	"fraudwatch/internal/fraud"
)

// ErrRetrieval marks a failure to obtain a complete snapshot. The pipeline
// must not run when it is returned.
var ErrRetrieval = errors.New("snapshot retrieval failed")

// Window is the date range a snapshot covers.
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowEndingAt returns the window of length span ending at end.
func WindowEndingAt(end time.Time, span time.Duration) Window {
	return Window{Start: end.Add(-span), End: end}
}

// Contains reports whether the interval starting at key lies in [Start, End).
// Keys are read as UTC, matching how stored buckets are keyed.
func (w Window) Contains(key string) bool {
	at, err := time.ParseInLocation(fraud.IntervalLayout, key, time.UTC)
	if err != nil {
		return false
	}
	return !at.Before(w.Start) && at.Before(w.End)
}

// Trim keeps the records whose interval falls inside the window, in order.
func (w Window) Trim(txs []fraud.Transaction) []fraud.Transaction {
	kept := make([]fraud.Transaction, 0, len(txs))
	for _, tx := range txs {
		if w.Contains(tx.IntervalKey) {
			kept = append(kept, tx)
		}
	}
	return kept
}

// SnapshotFetcher retrieves the transaction snapshot for a window. It
// returns either the full snapshot or an error, never a partial one.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, window Window) ([]fraud.Transaction, error)
}
