package fetcher

import (
	"context"
	"fmt"
	"os"

	"fraudwatch/internal/fraud"
)

// File serves a snapshot stored as JSON on disk. The window is ignored; the
// file is taken to be the snapshot of interest.
type File struct {
	Path string
}

// FetchSnapshot reads and decodes the whole file.
func (f File) FetchSnapshot(ctx context.Context, _ Window) ([]fraud.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	payload, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	return fraud.DecodeSnapshotBytes(payload)
}

var _ SnapshotFetcher = File{}
