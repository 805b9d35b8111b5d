package pipeline_test

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/drought-forecast-service/internal/domain"
	"github.com/couchcryptid/drought-forecast-service/internal/inference"
	"github.com/couchcryptid/drought-forecast-service/internal/observability"
	"github.com/couchcryptid/drought-forecast-service/internal/pipeline"
	"github.com/couchcryptid/drought-forecast-service/internal/scaler"
)

const poisonRainfall = -99

var fixedNow = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func identityScaler(t *testing.T) *scaler.Adapter {
	t.Helper()
	x, err := scaler.NewStandard([]float64{0}, []float64{1})
	require.NoError(t, err)
	y, err := scaler.NewStandard([]float64{0}, []float64{1})
	require.NoError(t, err)
	return scaler.NewAdapter(x, y)
}

// firstCellModel returns the first input cell, so with identity scaling the
// domain index equals the rainfall of the window's first month. A poisoned
// first month yields NaN.
func firstCellModel(input []float32, _, _, _ int64) ([]float32, error) {
	if input[0] == poisonRainfall {
		return []float32{float32(math.NaN())}, nil
	}
	return []float32{input[0]}, nil
}

func newPredictor(t *testing.T, opts ...pipeline.Option) *pipeline.Predictor {
	t.Helper()
	opts = append([]pipeline.Option{pipeline.WithClock(clockwork.NewFakeClockAt(fixedNow))}, opts...)
	return pipeline.NewPredictor(
		domain.DefaultSchema(),
		identityScaler(t),
		inference.NewEngine(inference.ModelFunc(firstCellModel)),
		domain.NewClassifier(nil),
		discardLogger(),
		newTestMetrics(),
		opts...,
	)
}

func month(rainfall float64) domain.Record {
	return domain.Record{
		domain.FeatureRainfall:     rainfall,
		domain.FeatureTmax:         31.5,
		domain.FeatureTmin:         18.2,
		domain.FeatureSPEI:         -0.8,
		domain.FeatureSPI:          -0.6,
		domain.FeatureNDVI:         0.42,
		domain.FeatureSoilMoisture: 27,
		"date":                     20240101,
	}
}

func months(rainfall ...float64) []domain.Record {
	out := make([]domain.Record, len(rainfall))
	for i, r := range rainfall {
		out[i] = month(r)
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func sequence(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i) * 0.1
	}
	return out
}
