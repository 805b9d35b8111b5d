// Package pipeline turns raw monthly records into drought predictions: it
// validates and projects a window, scales it, runs the model, inverse-scales
// the output and classifies it.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/drought-forecast-service/internal/domain"
	"github.com/couchcryptid/drought-forecast-service/internal/observability"
)

const (
	sourceManual = "manual"
	sourceBatch  = "batch"

	// DefaultModelVersion is stamped on results when no version is configured.
	DefaultModelVersion = "stat-LSTM-v1.0"
)

// Scaler maps feature windows into model space and model output back to the
// domain index.
type Scaler interface {
	Forward(rows [][]float64) ([][]float64, error)
	Inverse(v float64) (float64, error)
	Loaded() bool
}

// Inferer evaluates a scaled window.
type Inferer interface {
	Infer(t domain.ScaledTensor) (float64, error)
	Loaded() bool
}

// ModelInfo describes the loaded model.
type ModelInfo struct {
	ModelType      string   `json:"model_type"`
	SequenceLength int      `json:"sequence_length"`
	NumFeatures    int      `json:"num_features"`
	Output         string   `json:"output"`
	ModelVersion   string   `json:"model_version"`
	Features       []string `json:"features"`
	Loaded         bool     `json:"loaded"`
}

// Predictor is the loaded prediction pipeline. Its collaborators are
// read-only after construction, so one Predictor serves concurrent requests.
type Predictor struct {
	schema     *domain.Schema
	scaler     Scaler
	inferer    Inferer
	classifier *domain.Classifier
	logger     *slog.Logger
	metrics    *observability.Metrics
	clock      clockwork.Clock
	version    string
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithClock sets the clock used to stamp results.
func WithClock(c clockwork.Clock) Option {
	return func(p *Predictor) { p.clock = c }
}

// WithModelVersion sets the version string stamped on results.
func WithModelVersion(v string) Option {
	return func(p *Predictor) {
		if v != "" {
			p.version = v
		}
	}
}

// NewPredictor assembles a Predictor. A nil scaler or inferer yields a
// Predictor that reports itself as not loaded.
func NewPredictor(schema *domain.Schema, s Scaler, inf Inferer, c *domain.Classifier, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Predictor {
	if schema == nil {
		schema = domain.DefaultSchema()
	}
	if c == nil {
		c = domain.NewClassifier(nil)
	}
	p := &Predictor{
		schema:     schema,
		scaler:     s,
		inferer:    inf,
		classifier: c,
		logger:     logger,
		metrics:    metrics,
		clock:      clockwork.NewRealClock(),
		version:    DefaultModelVersion,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.Loaded() {
		metrics.ModelLoaded.Set(1)
	} else {
		metrics.ModelLoaded.Set(0)
	}
	return p
}

// Loaded reports whether both the scaler and the model are available.
func (p *Predictor) Loaded() bool {
	return p.scaler != nil && p.scaler.Loaded() && p.inferer != nil && p.inferer.Loaded()
}

// CheckReadiness returns nil once the model and scalers are loaded.
func (p *Predictor) CheckReadiness(_ context.Context) error {
	if p.scaler == nil || !p.scaler.Loaded() {
		return domain.ErrScalerNotLoaded
	}
	if p.inferer == nil || !p.inferer.Loaded() {
		return domain.ErrModelNotLoaded
	}
	return nil
}

// Schema returns the feature schema records are projected through.
func (p *Predictor) Schema() *domain.Schema { return p.schema }

// ModelVersion returns the version stamped on results.
func (p *Predictor) ModelVersion() string { return p.version }

// ModelInfo describes the loaded model.
func (p *Predictor) ModelInfo() ModelInfo {
	return ModelInfo{
		ModelType:      "stat-LSTM",
		SequenceLength: domain.WindowLength,
		NumFeatures:    domain.FeatureCount,
		Output:         "REGCDI",
		ModelVersion:   p.version,
		Features:       p.schema.Names(),
		Loaded:         p.Loaded(),
	}
}

// Predict runs one manual window of exactly WindowLength records. It fails
// atomically with a *domain.ShapeError, *domain.SchemaError,
// *domain.RangeError, domain.ErrScalerNotLoaded, domain.ErrModelNotLoaded or
// *domain.InferenceError.
func (p *Predictor) Predict(ctx context.Context, records []domain.Record) (domain.PredictionResult, error) {
	return p.predict(ctx, records, sourceManual)
}

func (p *Predictor) predict(ctx context.Context, records []domain.Record, source string) (domain.PredictionResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.PredictionResult{}, err
	}
	res, err := p.run(records)
	if err != nil {
		p.metrics.PredictionErrors.WithLabelValues(domain.ErrorKind(err)).Inc()
		return domain.PredictionResult{}, err
	}
	p.metrics.Predictions.WithLabelValues(source).Inc()
	return res, nil
}

func (p *Predictor) run(records []domain.Record) (domain.PredictionResult, error) {
	window, err := domain.NewFeatureWindow(p.schema, records)
	if err != nil {
		return domain.PredictionResult{}, err
	}

	if p.scaler == nil {
		return domain.PredictionResult{}, domain.ErrScalerNotLoaded
	}
	scaled, err := p.scaler.Forward(window.Values())
	if err != nil {
		return domain.PredictionResult{}, err
	}

	if p.inferer == nil {
		return domain.PredictionResult{}, domain.ErrModelNotLoaded
	}
	start := time.Now()
	raw, err := p.inferer.Infer(domain.NewScaledTensor(scaled))
	if err != nil {
		if !errors.Is(err, domain.ErrModelNotLoaded) {
			p.logger.Error("inference failed", "error", err)
		}
		return domain.PredictionResult{}, err
	}
	p.metrics.InferenceDuration.Observe(time.Since(start).Seconds())

	index, err := p.scaler.Inverse(raw)
	if err != nil {
		return domain.PredictionResult{}, err
	}

	c := p.classifier.Classify(index)
	return domain.PredictionResult{
		DomainIndex:   index,
		Category:      c.Label,
		SeverityLevel: c.Level,
		Description:   c.Description,
		Confidence:    c.Confidence,
		ProducedAt:    p.clock.Now().UTC(),
		ModelVersion:  p.version,
	}, nil
}
