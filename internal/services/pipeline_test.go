package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"weather-source/internal/connector"
	"weather-source/internal/models"
	"weather-source/pkg/logging"
	"weather-source/pkg/metrics"
	"weather-source/pkg/secrets"
)

// Prometheus collectors register globally, so the whole package shares one.
var (
	testCollector     *metrics.Collector
	testCollectorOnce sync.Once
)

func testMetrics() *metrics.Collector {
	testCollectorOnce.Do(func() {
		testCollector = metrics.NewCollector("pipeline_test")
	})
	return testCollector
}

// fakeSink records appended batches in memory
type fakeSink struct {
	appended map[string][]models.Record
	err      error
}

func newFakeSink() *fakeSink {
	return &fakeSink{appended: make(map[string][]models.Record)}
}

func (f *fakeSink) EnsureTable(ctx context.Context, table string) error { return nil }
func (f *fakeSink) DropTable(ctx context.Context, table string) error   { return nil }
func (f *fakeSink) HealthCheck(ctx context.Context) error               { return nil }

func (f *fakeSink) Append(ctx context.Context, table string, records []models.Record) error {
	if f.err != nil {
		return f.err
	}
	f.appended[table] = append(f.appended[table], records...)
	return nil
}

func (f *fakeSink) LatestRecord(ctx context.Context, table string) (models.Record, error) {
	records := f.appended[table]
	if len(records) == 0 {
		return nil, errors.New("no records")
	}
	return records[len(records)-1], nil
}

func (f *fakeSink) CountRecords(ctx context.Context, table string) (int, error) {
	return len(f.appended[table]), nil
}

func newTestPipeline(t *testing.T, spec *connector.ConnectionSpec, sink *fakeSink) (*PipelineService, *secrets.Redactor) {
	t.Helper()

	logger := logging.NewStructuredLogger("pipeline-test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)

	redactor := secrets.NewRedactor(spec.APIKey)
	logger.SetScrubber(redactor.Redact)

	pipeline, err := NewPipelineService(spec, sink, nil, logger, testMetrics(), redactor)
	if err != nil {
		t.Fatalf("NewPipelineService() error = %v", err)
	}
	return pipeline, redactor
}

func testSpec(baseURL, units string) *connector.ConnectionSpec {
	return &connector.ConnectionSpec{
		BaseURL:  baseURL,
		Location: "1.0,2.0",
		Units:    units,
		APIKey:   "sekrit123",
		Table:    "realtime_data01",
	}
}

const realtimeResponse = `{
	"data": {
		"time": "2024-05-01T12:00:00Z",
		"values": {
			"temperature": 21.5,
			"humidity": 60,
			"wind": {"speed": 3.2, "direction": 185.0},
			"alerts": ["frost", "fog"]
		}
	},
	"location": {"lat": 12.9155151, "lon": 77.6158726}
}`

func TestPipelineService_Run_EmitsOneFlattenedRecord(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(realtimeResponse))
	}))
	defer server.Close()

	sink := newFakeSink()
	pipeline, _ := newTestPipeline(t, testSpec(server.URL, ""), sink)

	result, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Fixed parameter order, location verbatim, apikey decoded.
	wantQuery := "location=1.0,2.0&apikey=sekrit123"
	if gotQuery != wantQuery {
		t.Errorf("request query = %q, want %q", gotQuery, wantQuery)
	}

	if result.RecordsAppended != 1 {
		t.Fatalf("RecordsAppended = %d, want 1", result.RecordsAppended)
	}

	records := sink.appended["realtime_data01"]
	if len(records) != 1 {
		t.Fatalf("sink received %d records, want 1", len(records))
	}
	record := records[0]

	checks := map[string]interface{}{
		"temperature":    21.5,
		"humidity":       60.0,
		"wind_speed":     3.2,
		"wind_direction": 185.0,
		"alerts_0":       "frost",
		"alerts_1":       "fog",
		"latitude":       12.9155151,
		"longitude":      77.6158726,
		"time":           "2024-05-01T12:00:00Z",
		"units":          "metric",
	}
	for field, want := range checks {
		if record[field] != want {
			t.Errorf("record[%q] = %v, want %v", field, record[field], want)
		}
	}

	loadDatetime, ok := record["load_datetime"].(string)
	if !ok || loadDatetime == "" {
		t.Fatalf("record missing load_datetime: %v", record["load_datetime"])
	}
	if !strings.HasSuffix(loadDatetime, "Z") {
		t.Errorf("load_datetime %q missing trailing Z", loadDatetime)
	}
	if loadDatetime != result.LoadDatetime {
		t.Errorf("record load_datetime %q != result load_datetime %q", loadDatetime, result.LoadDatetime)
	}
}

func TestPipelineService_Run_UnitsFromCaller(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(realtimeResponse))
	}))
	defer server.Close()

	sink := newFakeSink()
	pipeline, _ := newTestPipeline(t, testSpec(server.URL, "imperial"), sink)

	if _, err := pipeline.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantQuery := "location=1.0,2.0&units=imperial&apikey=sekrit123"
	if gotQuery != wantQuery {
		t.Errorf("request query = %q, want %q", gotQuery, wantQuery)
	}

	record := sink.appended["realtime_data01"][0]
	if record["units"] != "imperial" {
		t.Errorf("record units = %v, want imperial", record["units"])
	}
}

func TestPipelineService_Run_EmptyDataYieldsZeroRecords(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty data object", body: `{"data": {}, "location": {"lat": 1, "lon": 2}}`},
		{name: "absent data field", body: `{"location": {"lat": 1, "lon": 2}}`},
		{name: "null data field", body: `{"data": null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			sink := newFakeSink()
			pipeline, _ := newTestPipeline(t, testSpec(server.URL, ""), sink)

			result, err := pipeline.Run(context.Background())
			if err != nil {
				t.Fatalf("Run() error = %v, want zero records without error", err)
			}
			if result.RecordsAppended != 0 {
				t.Errorf("RecordsAppended = %d, want 0", result.RecordsAppended)
			}
			if len(sink.appended["realtime_data01"]) != 0 {
				t.Errorf("sink received records for an empty response")
			}
		})
	}
}

func TestPipelineService_Run_MissingCoordinatesBecomeNull(t *testing.T) {
	body := `{"data": {"time": "2024-05-01T12:00:00Z", "values": {"temperature": 20}}}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer server.Close()

	sink := newFakeSink()
	pipeline, _ := newTestPipeline(t, testSpec(server.URL, ""), sink)

	result, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.RecordsAppended != 1 {
		t.Fatalf("RecordsAppended = %d, want 1", result.RecordsAppended)
	}

	record := sink.appended["realtime_data01"][0]
	if record["latitude"] != nil {
		t.Errorf("latitude = %v, want nil", record["latitude"])
	}
	if record["longitude"] != nil {
		t.Errorf("longitude = %v, want nil", record["longitude"])
	}
}

func TestPipelineService_Run_MissingTimeBecomesNull(t *testing.T) {
	body := `{"data": {"values": {"temperature": 20}}, "location": {"lat": 1, "lon": 2}}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer server.Close()

	sink := newFakeSink()
	pipeline, _ := newTestPipeline(t, testSpec(server.URL, ""), sink)

	if _, err := pipeline.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	record := sink.appended["realtime_data01"][0]
	if record["time"] != nil {
		t.Errorf("time = %v, want nil", record["time"])
	}
}

func TestPipelineService_Run_NonSuccessStatusIsFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid key sekrit123", http.StatusUnauthorized)
	}))
	defer server.Close()

	sink := newFakeSink()
	pipeline, _ := newTestPipeline(t, testSpec(server.URL, ""), sink)

	_, err := pipeline.Run(context.Background())

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Run() error = %T (%v), want *FetchError", err, err)
	}
	if !fetchErr.IsTransient() {
		t.Error("FetchError should be transient")
	}
	if strings.Contains(err.Error(), "sekrit123") {
		t.Errorf("error message leaked credential: %q", err.Error())
	}
	if !strings.Contains(err.Error(), secrets.Mask) {
		t.Errorf("error message missing mask token: %q", err.Error())
	}
}

func TestPipelineService_Run_MalformedBodyIsParseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	sink := newFakeSink()
	pipeline, _ := newTestPipeline(t, testSpec(server.URL, ""), sink)

	_, err := pipeline.Run(context.Background())

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Run() error = %T (%v), want *ParseError", err, err)
	}
	if parseErr.IsTransient() {
		t.Error("ParseError should not be transient")
	}
}

func TestPipelineService_Run_UnexpectedDataShapeIsParseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [1, 2, 3]}`))
	}))
	defer server.Close()

	sink := newFakeSink()
	pipeline, _ := newTestPipeline(t, testSpec(server.URL, ""), sink)

	_, err := pipeline.Run(context.Background())

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Run() error = %T (%v), want *ParseError", err, err)
	}
}

func TestPipelineService_Run_ConsecutiveInvocationsAreIndependent(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(realtimeResponse))
	}))
	defer server.Close()

	sink := newFakeSink()
	pipeline, _ := newTestPipeline(t, testSpec(server.URL, ""), sink)

	for i := 0; i < 2; i++ {
		if _, err := pipeline.Run(context.Background()); err != nil {
			t.Fatalf("Run() #%d error = %v", i+1, err)
		}
	}

	if requests != 2 {
		t.Errorf("upstream requests = %d, want one per invocation", requests)
	}
	if got := len(sink.appended["realtime_data01"]); got != 2 {
		t.Errorf("sink records = %d, want 2", got)
	}
}

func TestNewPipelineService_ValidatesConstructionArguments(t *testing.T) {
	logger := logging.NewStructuredLogger("pipeline-test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	redactor := secrets.NewRedactor()

	tests := []struct {
		name string
		spec *connector.ConnectionSpec
	}{
		{name: "nil spec", spec: nil},
		{name: "blank base_url", spec: &connector.ConnectionSpec{Location: "x", APIKey: "k", Table: "t"}},
		{name: "blank location", spec: &connector.ConnectionSpec{BaseURL: "https://h", APIKey: "k", Table: "t"}},
		{name: "blank apikey", spec: &connector.ConnectionSpec{BaseURL: "https://h", Location: "x", Table: "t"}},
		{name: "blank table", spec: &connector.ConnectionSpec{BaseURL: "https://h", Location: "x", APIKey: "k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPipelineService(tt.spec, newFakeSink(), nil, logger, testMetrics(), redactor)

			var vErr *models.ValidationError
			if !errors.As(err, &vErr) {
				t.Errorf("NewPipelineService() error = %T (%v), want *models.ValidationError", err, err)
			}
		})
	}
}

func TestPipelineService_HandlesIncrementality(t *testing.T) {
	sink := newFakeSink()
	pipeline, _ := newTestPipeline(t, testSpec("https://h", ""), sink)

	if pipeline.HandlesIncrementality() {
		t.Error("HandlesIncrementality() = true, want false")
	}
}
