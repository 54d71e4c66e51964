package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fraudwatch/internal/fraud"
)

const (
	defaultSnapshotPath = "/fraud-analytics/transactions"
	queryDateLayout     = "2006-01-02"
)

// HTTPOptions parameterise the REST snapshot fetcher.
type HTTPOptions struct {
	BaseURL   string
	Path      string
	Timeout   time.Duration
	UserAgent string
	Token     string
}

// HTTP fetches snapshots from the transaction reporting endpoint.
type HTTP struct {
	opts     HTTPOptions
	logger   zerolog.Logger
	client   *http.Client
	endpoint string
}

// NewHTTP constructs a REST snapshot fetcher.
func NewHTTP(opts HTTPOptions, logger zerolog.Logger) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	path := opts.Path
	if path == "" {
		path = defaultSnapshotPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return &HTTP{
		opts:     opts,
		logger:   logger.With().Str("component", "snapshot_fetcher").Logger(),
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(opts.BaseURL, "/") + path,
	}
}

// FetchSnapshot queries the endpoint for [startDate, endDate] and decodes the
// full body before returning. The endpoint filters by calendar day, so the
// decoded records are trimmed to the exact window.
func (h *HTTP) FetchSnapshot(ctx context.Context, window Window) ([]fraud.Transaction, error) {
	if strings.TrimSpace(h.opts.BaseURL) == "" {
		return nil, fmt.Errorf("%w: source base url not configured", ErrRetrieval)
	}
	if window.End.Before(window.Start) {
		return nil, fmt.Errorf("%w: window end %s precedes start %s", ErrRetrieval, window.End, window.Start)
	}

	query := url.Values{}
	query.Set("startDate", window.Start.UTC().Format(queryDateLayout))
	query.Set("endDate", window.End.UTC().Format(queryDateLayout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrRetrieval, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "fraudwatch/1.0")
	}
	if h.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.opts.Token)
	}

	started := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrRetrieval, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	decoded, err := fraud.DecodeSnapshotBytes(payload)
	if err != nil {
		return nil, err
	}
	txs := window.Trim(decoded)

	h.logger.Debug().
		Str("start", query.Get("startDate")).
		Str("end", query.Get("endDate")).
		Int("received", len(decoded)).
		Int("records", len(txs)).
		Dur("elapsed", time.Since(started)).
		Msg("snapshot fetched")
	return txs, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return &StatusError{Status: status, Message: apiErr.Message}
		}
		if apiErr.Detail != "" {
			return &StatusError{Status: status, Message: apiErr.Detail}
		}
		if apiErr.Error != "" {
			return &StatusError{Status: status, Message: apiErr.Error}
		}
	}
	return &StatusError{Status: status, Message: strings.TrimSpace(string(payload))}
}

// StatusError reports a non-2xx answer from the snapshot endpoint.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("snapshot api error (%d)", e.Status)
	}
	return fmt.Sprintf("snapshot api error (%d): %s", e.Status, e.Message)
}

// Is lets errors.Is match ErrRetrieval.
func (e *StatusError) Is(target error) bool {
	return target == ErrRetrieval
}

var _ SnapshotFetcher = (*HTTP)(nil)
