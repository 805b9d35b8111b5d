package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/drought-forecast-service/internal/adapter/http"
	"github.com/couchcryptid/drought-forecast-service/internal/adapter/sqlite"
	"github.com/couchcryptid/drought-forecast-service/internal/domain"
	"github.com/couchcryptid/drought-forecast-service/internal/inference"
	"github.com/couchcryptid/drought-forecast-service/internal/observability"
	"github.com/couchcryptid/drought-forecast-service/internal/persistence"
	"github.com/couchcryptid/drought-forecast-service/internal/pipeline"
	"github.com/couchcryptid/drought-forecast-service/internal/scaler"
)

var fixedNow = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	srv *httpadapter.Server
}

type envOptions struct {
	schema    *domain.Schema
	model     inference.Model
	unloaded  bool
	noStore   bool
	maxUpload int64
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// firstCellModel returns the first scaled input cell, so with identity
// scaling the REGCDI equals the first month's rainfall.
func firstCellModel(input []float32, _, _, _ int64) ([]float32, error) {
	return []float32{input[0]}, nil
}

func newEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()
	clock := clockwork.NewFakeClockAt(fixedNow)

	x, err := scaler.NewStandard([]float64{0}, []float64{1})
	require.NoError(t, err)
	y, err := scaler.NewStandard([]float64{0}, []float64{1})
	require.NoError(t, err)

	var model inference.Model = inference.ModelFunc(firstCellModel)
	switch {
	case opts.unloaded:
		model = nil
	case opts.model != nil:
		model = opts.model
	}
	predictor := pipeline.NewPredictor(
		opts.schema,
		scaler.NewAdapter(x, y),
		inference.NewEngine(model),
		domain.NewClassifier(nil),
		logger,
		metrics,
		pipeline.WithClock(clock),
	)

	var repo persistence.Repository
	if !opts.noStore {
		store, err := sqlite.Open(context.Background(), ":memory:", logger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		repo = store
	}

	srv := httpadapter.NewServer(":0", httpadapter.Deps{
		Predictor:      predictor,
		Batcher:        pipeline.NewBatcher(predictor, 2, logger, metrics),
		Recorder:       persistence.NewRecorder(repo, logger, metrics, persistence.WithClock(clock)),
		Clock:          clock,
		MaxUploadBytes: opts.maxUpload,
	}, logger)
	return &testEnv{srv: srv}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (e *testEnv) postJSON(path string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

func (e *testEnv) upload(filename, content string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", filename)
	_, _ = io.WriteString(fw, content)
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/data", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.do(req)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func monthJSON(rainfall float64) map[string]any {
	return map[string]any{
		"rainfall_mm":   rainfall,
		"tmax_c":        31.5,
		"tmin_c":        18.2,
		"spei":          -0.8,
		"spi":           -0.6,
		"ndvi":          0.42,
		"soil_moisture": 27.0,
	}
}

func manualBody(n int, rainfall float64) map[string]any {
	data := make([]map[string]any, n)
	for i := range data {
		data[i] = monthJSON(rainfall)
	}
	return map[string]any{"data": data, "location": "Nakuru"}
}

func csvRows(rainfall ...float64) string {
	var b strings.Builder
	b.WriteString("date,soil_moisture,ndvi,spi,spei,tmin_c,tmax_c,rainfall_mm\n")
	for i, r := range rainfall {
		fmt.Fprintf(&b, "2023-%02d-01,27,0.42,-0.6,-0.8,18.2,31.5,%g\n", i%12+1, r)
	}
	return b.String()
}

func TestHealthzReturns200(t *testing.T) {
	rec := newEnv(t, envOptions{}).get("/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestReadyzReturns200WhenLoaded(t *testing.T) {
	rec := newEnv(t, envOptions{}).get("/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode(t, rec)["status"])
}

func TestReadyzReturns503WithoutModel(t *testing.T) {
	rec := newEnv(t, envOptions{unloaded: true}).get("/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, domain.ErrModelNotLoaded.Error(), body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := newEnv(t, envOptions{}).get("/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestIndexListsEndpoints(t *testing.T) {
	rec := newEnv(t, envOptions{}).get("/")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Drought Insights & Analytics Microservice", body["message"])
	assert.Equal(t, httpadapter.ServiceVersion, body["version"])
	endpoints, ok := body["endpoints"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/data", endpoints["predict_csv"])
}

func TestHealthReportsModelState(t *testing.T) {
	rec := newEnv(t, envOptions{}).get("/health")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["model_loaded"])
	assert.Equal(t, "2024-03-01T12:00:00Z", body["timestamp"])
	assert.Equal(t, "1.0.0", body["version"])
}

func TestPredictManual_ClassifiesAndStores(t *testing.T) {
	env := newEnv(t, envOptions{})
	rec := env.postJSON("/predict/manual", manualBody(12, -0.75))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Severe Drought", body["drought_category"])
	assert.Equal(t, "severe", body["severity_level"])
	assert.InDelta(t, -0.75, body["regcdi_value"], 1e-6)
	assert.InDelta(t, 0.5625, body["confidence_score"], 1e-6)
	assert.Equal(t, pipeline.DefaultModelVersion, body["model_version"])
	assert.NotContains(t, body, "window_start")

	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	got := env.get("/predictions/" + id)
	require.Equal(t, http.StatusOK, got.Code)
	stored := decode(t, got)
	assert.Equal(t, "manual", stored["prediction_type"])
	assert.Equal(t, "Nakuru", stored["location"])
	assert.Len(t, stored["input_data"], 12)
}

func TestPredictManual_RejectsBadInput(t *testing.T) {
	outOfRange := manualBody(12, 1)
	outOfRange["data"].([]map[string]any)[3]["ndvi"] = 1.5

	missingField := manualBody(12, 1)
	delete(missingField["data"].([]map[string]any)[0], "spei")

	tests := []struct {
		name string
		body any
		want string
	}{
		{"eleven months", manualBody(11, 1), "data must contain exactly 12 months"},
		{"thirteen months", manualBody(13, 1), "data must contain exactly 12 months"},
		{"ndvi above one", outOfRange, "data[3].ndvi must be <= 1"},
		{"missing field", missingField, "data[0].spei is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newEnv(t, envOptions{}).postJSON("/predict/manual", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode(t, rec)
			assert.Contains(t, body["error"], tt.want)
			assert.Equal(t, "2024-03-01T12:00:00Z", body["timestamp"])
		})
	}
}

func TestPredictManual_MalformedJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/predict/manual", strings.NewReader("{"))
	rec := newEnv(t, envOptions{}).do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "invalid JSON body")
}

func TestPredictManual_ModelNotLoaded(t *testing.T) {
	rec := newEnv(t, envOptions{unloaded: true}).postJSON("/predict/manual", manualBody(12, 1))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, domain.ErrModelNotLoaded.Error(), decode(t, rec)["error"])
}

func TestPredictManual_RenamedFeatureColumns(t *testing.T) {
	schema, err := domain.NewSchema([]string{"rain", "tmax", "tmin", "spei", "spi", "ndvi", "sm"})
	require.NoError(t, err)
	rec := newEnv(t, envOptions{schema: schema}).postJSON("/predict/manual", manualBody(12, -0.75))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "severe", body["severity_level"])
	assert.InDelta(t, -0.75, body["regcdi_value"], 1e-6)
}

func TestPredictManual_InferenceFailureIs500(t *testing.T) {
	failing := inference.ModelFunc(func([]float32, int64, int64, int64) ([]float32, error) {
		return nil, fmt.Errorf("runtime exploded")
	})
	rec := newEnv(t, envOptions{model: failing}).postJSON("/predict/manual", manualBody(12, 1))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "runtime exploded")
}

func TestPredictManual_WithoutStore(t *testing.T) {
	env := newEnv(t, envOptions{noStore: true})
	rec := env.postJSON("/predict/manual", manualBody(12, 0.7))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "no_drought", body["severity_level"])
	assert.NotContains(t, body, "id")

	forecast := decode(t, env.get("/forecast"))
	assert.InDelta(t, 0, forecast["total"], 0)
	assert.Empty(t, forecast["forecasts"])
}

func TestUpload_RollingWindows(t *testing.T) {
	env := newEnv(t, envOptions{})
	rec := env.upload("history.csv", csvRows(0.7, 0.2, -0.3, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Data processed successfully", body["message"])
	assert.Equal(t, "history.csv", body["filename"])
	assert.InDelta(t, 3, body["total_predictions"], 0)
	assert.InDelta(t, 0, body["skipped_windows"], 0)
	assert.NotEmpty(t, body["batch_id"])

	preds, ok := body["predictions"].([]any)
	require.True(t, ok)
	require.Len(t, preds, 3)
	levels := make([]string, len(preds))
	for i, p := range preds {
		m := p.(map[string]any)
		levels[i] = m["severity_level"].(string)
		assert.InDelta(t, i, m["window_start"], 0)
		assert.InDelta(t, i+11, m["window_end"], 0)
	}
	assert.Equal(t, []string{"no_drought", "mild", "moderate"}, levels)

	history := decode(t, env.get("/history?limit=2"))
	assert.InDelta(t, 2, history["total"], 0)
	assert.InDelta(t, 0, history["skip"], 0)
	assert.InDelta(t, 2, history["limit"], 0)
}

func TestUpload_ShortTableYieldsNoPredictions(t *testing.T) {
	rec := newEnv(t, envOptions{}).upload("short.csv", csvRows(0.1, 0.2, 0.3))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.InDelta(t, 0, body["total_predictions"], 0)
	assert.Equal(t, []any{}, body["predictions"])
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		status   int
		want     string
	}{
		{"missing columns", "data.csv", "rainfall_mm,tmax_c\n1,2\n", http.StatusBadRequest, "soil_moisture"},
		{"not csv", "data.xlsx", csvRows(0.1), http.StatusBadRequest, "only CSV files are supported"},
		{"empty file", "data.csv", "", http.StatusBadRequest, "no header row"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newEnv(t, envOptions{}).upload(tt.filename, tt.content)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, decode(t, rec)["error"], tt.want)
		})
	}
}

func TestUpload_ModelNotLoaded(t *testing.T) {
	rec := newEnv(t, envOptions{unloaded: true}).upload("history.csv", csvRows(repeatRain(0.1, 12)...))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, domain.ErrModelNotLoaded.Error(), decode(t, rec)["error"])
}

func TestUpload_TooLarge(t *testing.T) {
	rec := newEnv(t, envOptions{maxUpload: 256}).upload("big.csv", csvRows(repeatRain(0.1, 40)...))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUpload_MissingFileField(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("note", "no file")
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/data", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := newEnv(t, envOptions{}).do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], `"file" is required`)
}

func TestForecastFiltersByLocation(t *testing.T) {
	env := newEnv(t, envOptions{})
	require.Equal(t, http.StatusOK, env.postJSON("/predict/manual", manualBody(12, 0.2)).Code)
	other := manualBody(12, -0.2)
	other["location"] = "Garissa"
	require.Equal(t, http.StatusOK, env.postJSON("/predict/manual", other).Code)

	body := decode(t, env.get("/forecast?location=Garissa"))
	assert.InDelta(t, 1, body["total"], 0)
	forecasts := body["forecasts"].([]any)
	assert.Equal(t, "Garissa", forecasts[0].(map[string]any)["location"])

	all := decode(t, env.get("/forecast"))
	assert.InDelta(t, 2, all["total"], 0)
}

func TestPaginationValidation(t *testing.T) {
	env := newEnv(t, envOptions{})

	for _, path := range []string{"/history?skip=-1", "/history?limit=abc", "/forecast?limit=5000"} {
		rec := env.get(path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestGetPrediction_NotFound(t *testing.T) {
	rec := newEnv(t, envOptions{}).get("/predictions/does-not-exist")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "does-not-exist")
}

func TestSummaryAggregatesStoredPredictions(t *testing.T) {
	env := newEnv(t, envOptions{})
	require.Equal(t, http.StatusOK, env.postJSON("/predict/manual", manualBody(12, 0.25)).Code)
	require.Equal(t, http.StatusOK, env.postJSON("/predict/manual", manualBody(12, -0.75)).Code)

	body := decode(t, env.get("/summary"))
	assert.InDelta(t, 2, body["total_predictions"], 0)
	assert.InDelta(t, -0.25, body["average_regcdi"], 1e-6)
	dist := body["drought_distribution"].(map[string]any)
	assert.InDelta(t, 1, dist["mild"], 0)
	assert.InDelta(t, 1, dist["severe"], 0)
	assert.Equal(t, "2024-03-01T12:00:00Z", body["last_prediction_date"])
}

func TestModelInfo(t *testing.T) {
	body := decode(t, newEnv(t, envOptions{}).get("/model"))

	assert.Equal(t, "stat-LSTM", body["model_type"])
	assert.InDelta(t, 12, body["sequence_length"], 0)
	assert.InDelta(t, 7, body["num_features"], 0)
	assert.Equal(t, "REGCDI", body["output"])
	assert.Len(t, body["features"], 7)
}

func TestDashboardRendersColours(t *testing.T) {
	env := newEnv(t, envOptions{})
	require.Equal(t, http.StatusOK, env.postJSON("/predict/manual", manualBody(12, -1.5)).Code)

	rec := env.get("/dashboard")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	html := rec.Body.String()
	assert.Contains(t, html, "Drought Insights &amp; Analytics")
	assert.Contains(t, html, "Extreme Drought")
	assert.Contains(t, html, "#8B0000")
	assert.Contains(t, html, "#32CD32")
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/predict/manual", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := newEnv(t, envOptions{}).do(req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func repeatRain(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
