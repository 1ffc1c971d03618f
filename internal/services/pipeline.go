package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"weather-source/internal/connector"
	"weather-source/internal/flatten"
	"weather-source/internal/models"
	"weather-source/internal/repository"
	"weather-source/pkg/logging"
	"weather-source/pkg/metrics"
	"weather-source/pkg/secrets"
)

// PipelineService performs one fetch-and-flatten invocation: a single GET
// against the realtime weather API, flattening of the nested values
// payload, enrichment with derived fields, and an append to the sink.
// Each invocation is independent and stateless; there is no cursor and no
// incremental state.
type PipelineService struct {
	spec     *connector.ConnectionSpec
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	repo     repository.SinkRepository
	logger   *logging.ContextLogger
	metrics  *metrics.Collector
	redactor *secrets.Redactor
}

// RunResult contains statistics for a single invocation
type RunResult struct {
	RecordsFetched  int
	RecordsAppended int
	LoadDatetime    string
	Duration        time.Duration
}

// NewPipelineService creates a pipeline for the given connection spec.
// A nil client gets a default with a 30 second timeout.
func NewPipelineService(
	spec *connector.ConnectionSpec,
	repo repository.SinkRepository,
	client *http.Client,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
	redactor *secrets.Redactor,
) (*PipelineService, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	// The breaker does not add retries: still one attempt per invocation,
	// it only fails fast once the upstream has been failing repeatedly.
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "weather-api",
	})

	return &PipelineService{
		spec:    spec,
		client:  client,
		breaker: breaker,
		repo:    repo,
		logger: logger.WithFields(logging.Fields{
			"table":    spec.Table,
			"location": spec.Location,
		}),
		metrics:  metricsCollector,
		redactor: redactor,
	}, nil
}

// validateSpec checks required construction arguments
func validateSpec(spec *connector.ConnectionSpec) error {
	if spec == nil {
		return &models.ValidationError{Field: "spec", Message: "must not be nil"}
	}

	required := []struct {
		field string
		value string
	}{
		{"base_url", spec.BaseURL},
		{"location", spec.Location},
		{"apikey", spec.APIKey},
		{"table", spec.Table},
	}

	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &models.ValidationError{Field: r.field, Message: "must be a non-empty string"}
		}
	}

	return nil
}

// HandlesIncrementality reports whether the source supports incremental
// extraction. It does not: every invocation is a full single-row append.
func (s *PipelineService) HandlesIncrementality() bool {
	return false
}

// Run performs one invocation end to end and appends the produced records
// to the sink table.
func (s *PipelineService) Run(ctx context.Context) (*RunResult, error) {
	startTime := time.Now()

	records, loadDatetime, err := s.FetchRecords(ctx)
	if err != nil {
		return nil, err
	}

	if len(records) > 0 {
		if err := s.repo.Append(ctx, s.spec.Table, records); err != nil {
			s.metrics.RecordSinkError("append_error")
			return nil, fmt.Errorf("failed to append records to sink: %w", err)
		}
	}

	result := &RunResult{
		RecordsFetched:  len(records),
		RecordsAppended: len(records),
		LoadDatetime:    loadDatetime,
		Duration:        time.Since(startTime),
	}

	s.logger.Info(ctx, "[PIPELINE_COMPLETE] Invocation completed", logging.Fields{
		"records_appended": result.RecordsAppended,
		"load_datetime":    result.LoadDatetime,
		"duration_ms":      result.Duration.Milliseconds(),
	})

	return result, nil
}

// FetchRecords issues the single GET and produces zero or one flattened
// weather record. The returned load_datetime is stamped before the request
// and shared by every record in the batch.
func (s *PipelineService) FetchRecords(ctx context.Context) ([]models.Record, string, error) {
	fullURL := s.buildRequestURL(s.spec.APIKey)
	redactedURL := s.buildRequestURL(secrets.Mask)

	s.logger.Info(ctx, "[FETCH_START] Fetching weather data", logging.Fields{
		"url": redactedURL,
	})

	// Stamped before the request so all records of the batch share it.
	loadDatetime := time.Now().UTC().Format(time.RFC3339)

	body, err := s.doFetch(ctx, fullURL)
	if err != nil {
		s.metrics.RecordFetchError("fetch_error")
		s.logger.Error(ctx, "[FETCH_ERROR] Failed to fetch weather data", logging.Fields{
			"url": redactedURL,
		}, err)
		return nil, loadDatetime, &FetchError{Message: s.redactor.RedactErr(err)}
	}

	// The call succeeded; from here on any failure is a parse failure.
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		s.metrics.RecordFetchError("parse_error")
		s.logger.Error(ctx, "[PARSE_ERROR] Failed to decode API response", logging.Fields{}, err)
		return nil, loadDatetime, &ParseError{Message: s.redactor.RedactErr(err)}
	}

	s.logger.Info(ctx, "[FETCH_OK] API response received", logging.Fields{
		"response_keys": topLevelKeys(payload),
	})

	record, err := s.buildRecord(ctx, payload, loadDatetime)
	if err != nil {
		s.metrics.RecordFetchError("parse_error")
		s.logger.Error(ctx, "[PARSE_ERROR] Failed to process API response", logging.Fields{}, err)
		return nil, loadDatetime, &ParseError{Message: s.redactor.RedactErr(err)}
	}
	if record == nil {
		// No observation in the response: zero records, not an error.
		s.metrics.EmptyResponsesTotal.Inc()
		return []models.Record{}, loadDatetime, nil
	}

	s.metrics.RecordsEmittedTotal.Inc()
	s.metrics.FlattenedFieldCount.Observe(float64(len(record)))

	s.logger.Info(ctx, "[RECORD_YIELD] Yielding flattened record", logging.Fields{
		"record":      record,
		"field_count": len(record),
	})

	return []models.Record{record}, loadDatetime, nil
}

// buildRequestURL concatenates the query parameters in fixed order:
// location, units (if present), apikey. The location is inserted verbatim;
// the caller already percent-encoded it and re-encoding would double-encode
// characters like the comma in a lat,lon pair.
func (s *PipelineService) buildRequestURL(apikey string) string {
	params := []string{"location=" + s.spec.Location}
	if s.spec.Units != "" {
		params = append(params, "units="+s.spec.Units)
	}
	params = append(params, "apikey="+apikey)

	sep := "?"
	if strings.Contains(s.spec.BaseURL, "?") {
		sep = "&"
	}
	return s.spec.BaseURL + sep + strings.Join(params, "&")
}

// doFetch performs the single HTTP GET through the circuit breaker and
// returns the raw response body.
func (s *PipelineService) doFetch(ctx context.Context, fullURL string) ([]byte, error) {
	timer := s.metrics.NewTimer(s.metrics.FetchDuration)
	defer timer.ObserveDuration()

	result, err := s.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, err
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			s.metrics.RecordFetch(fmt.Sprintf("%d", resp.StatusCode))
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		s.metrics.RecordFetch("2xx")
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, err
	}

	body, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker")
	}

	return body, nil
}

// buildRecord flattens the observation and injects the derived fields.
// A nil record with a nil error means the response carried no observation.
func (s *PipelineService) buildRecord(ctx context.Context, payload map[string]interface{}, loadDatetime string) (models.Record, error) {
	rawData, present := payload["data"]
	if !present || rawData == nil {
		s.logger.Warn(ctx, "[NO_DATA] No data found in response", logging.Fields{})
		return nil, nil
	}

	data, ok := rawData.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected type for 'data' field in response")
	}
	if len(data) == 0 {
		s.logger.Warn(ctx, "[NO_DATA] Empty data object in response", logging.Fields{})
		return nil, nil
	}

	// Coordinates come from the response envelope, not the request's
	// location parameter.
	var latitude, longitude interface{}
	if rawLoc, present := payload["location"]; present && rawLoc != nil {
		locationInfo, ok := rawLoc.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unexpected type for 'location' field in response")
		}
		latitude = locationInfo["lat"]
		longitude = locationInfo["lon"]
	}
	if latitude == nil || longitude == nil {
		s.logger.Warn(ctx, "[NO_COORDINATES] Latitude or longitude not found in API response", logging.Fields{})
	}

	recordTime := data["time"]
	if t, ok := recordTime.(string); !ok || t == "" {
		s.logger.Warn(ctx, "[NO_TIME] No time found in API response", logging.Fields{})
		recordTime = nil
	}

	record := models.Record(flatten.Flatten(data["values"], flatten.DefaultSeparator))

	units := s.spec.Units
	if units == "" {
		units = models.DefaultUnits
	}

	record[models.FieldLatitude] = latitude
	record[models.FieldLongitude] = longitude
	record[models.FieldTime] = recordTime
	record[models.FieldLoadDatetime] = loadDatetime
	record[models.FieldUnits] = units

	return record, nil
}

// topLevelKeys returns the sorted key names of a decoded response
func topLevelKeys(payload map[string]interface{}) []string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
