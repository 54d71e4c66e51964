package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fraudwatch/internal/fetcher"
	"fraudwatch/internal/fraud"
	"fraudwatch/internal/service"
)

// Analytics is the behaviour the handlers need from the refresh service.
type Analytics interface {
	Refresh(ctx context.Context) (*fraud.FraudAnalyticsData, error)
	LatestOrCached(ctx context.Context) (*fraud.FraudAnalyticsData, error)
	AnalyzeWith(ctx context.Context, opts fraud.Options) (*fraud.FraudAnalyticsData, error)
	Analyze(ctx context.Context, txs []fraud.Transaction, opts fraud.Options) (*fraud.FraudAnalyticsData, error)
	DetectionOptions() fraud.Options
}

// Handler holds dependencies for API handlers.
type Handler struct {
	svc          Analytics
	maxBodyBytes int64
	version      string
	logger       zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc Analytics, maxBodyBytes int64, version string, logger zerolog.Logger) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 32 << 20
	}
	return &Handler{svc: svc, maxBodyBytes: maxBodyBytes, version: version, logger: logger}
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error  string `json:"error"`
	Record *int   `json:"record,omitempty"`
	Field  string `json:"field,omitempty"`
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// GetAnalytics handles GET /api/v1/fraud-analytics. With threshold query
// parameters the latest snapshot is recomputed instead of served as is.
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	opts, custom, err := h.optionsFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var data *fraud.FraudAnalyticsData
	if custom {
		data, err = h.svc.AnalyzeWith(r.Context(), opts)
	} else {
		data, err = h.svc.LatestOrCached(r.Context())
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// Refresh handles POST /api/v1/fraud-analytics/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.Refresh(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// Analyze handles POST /api/v1/fraud-analytics/analyze with a snapshot body.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	opts, _, err := h.optionsFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	txs, err := fraud.DecodeSnapshot(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "snapshot exceeds body limit")
			return
		}
		var recErr *fraud.RecordError
		if errors.As(err, &recErr) {
			h.fail(w, r, err)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid snapshot: "+err.Error())
		return
	}

	data, err := h.svc.Analyze(r.Context(), txs, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *Handler) optionsFromQuery(r *http.Request) (fraud.Options, bool, error) {
	opts := h.svc.DetectionOptions()
	q := r.URL.Query()
	custom := false

	if raw := q.Get("highFrequencyThreshold"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, false, fmt.Errorf("highFrequencyThreshold must be a non-negative integer")
		}
		opts.HighFrequencyThreshold = n
		custom = true
	}
	if raw := q.Get("thresholdAmount"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil || d.IsNegative() {
			return opts, false, fmt.Errorf("thresholdAmount must be a non-negative number")
		}
		opts.ThresholdAmount = d
		custom = true
	}
	return opts, custom, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var recErr *fraud.RecordError
	switch {
	case errors.As(err, &recErr):
		idx := recErr.Index
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Record: &idx, Field: recErr.Field})
		return
	case errors.Is(err, fraud.ErrMalformedRecord), errors.Is(err, fraud.ErrInvariantViolation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, service.ErrNoSnapshot):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, service.ErrLockHeld):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, fetcher.ErrRetrieval):
		writeError(w, http.StatusBadGateway, err.Error())
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to write
		return
	}
	h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

var _ Analytics = (*service.Service)(nil)
