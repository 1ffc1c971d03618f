package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"weather-source/internal/repository"
	"weather-source/pkg/logging"
	"weather-source/pkg/metrics"
)

// AdminHandler serves the runner's operational endpoints: health, the most
// recently appended record, and the sink row count.
type AdminHandler struct {
	repo    repository.SinkRepository
	table   string
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	repo repository.SinkRepository,
	table string,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *AdminHandler {
	return &AdminHandler{
		repo:    repo,
		table:   table,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HealthCheck handles GET /healthz
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.repo.HealthCheck(ctx); err != nil {
		h.logger.Error(ctx, "[HEALTH_CHECK_ERROR] Sink unreachable", logging.Fields{}, err)
		h.sendError(w, r, "sink unreachable", http.StatusServiceUnavailable)
		return
	}

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, http.StatusOK)
}

// GetLatestRecord handles GET /api/v1/records/latest
func (h *AdminHandler) GetLatestRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/v1/records/latest").Observe(duration.Seconds())
	}()

	record, err := h.repo.LatestRecord(ctx, h.table)
	if err != nil {
		var notFound *repository.NotFoundError
		if errors.As(err, &notFound) {
			h.sendError(w, r, "no records appended yet", http.StatusNotFound)
			return
		}

		h.logger.Error(ctx, "[API_LATEST_ERROR] Failed to get latest record", logging.Fields{
			"table": h.table,
		}, err)
		h.sendError(w, r, "failed to retrieve latest record", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/records/latest", "GET", "200")
	h.sendJSON(w, record, http.StatusOK)
}

// GetRecordCount handles GET /api/v1/records/count
func (h *AdminHandler) GetRecordCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count, err := h.repo.CountRecords(ctx, h.table)
	if err != nil {
		h.logger.Error(ctx, "[API_COUNT_ERROR] Failed to count records", logging.Fields{
			"table": h.table,
		}, err)
		h.sendError(w, r, "failed to count records", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/records/count", "GET", "200")
	h.sendJSON(w, map[string]interface{}{"table": h.table, "count": count}, http.StatusOK)
}

// sendJSON sends a JSON response
func (h *AdminHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *AdminHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all admin routes
func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/records/latest", h.GetLatestRecord).Methods("GET")
	router.HandleFunc("/api/v1/records/count", h.GetRecordCount).Methods("GET")
}
