// Package inference evaluates the trained sequence model on scaled feature
// windows.
package inference

import (
	"errors"
	"fmt"
	"math"

	"github.com/couchcryptid/drought-forecast-service/internal/domain"
)

// Model is a loaded regression model. Run receives a flat row-major
// [batch, steps, features] tensor and returns the flat model output.
type Model interface {
	Run(input []float32, batch, steps, features int64) ([]float32, error)
	Close() error
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(input []float32, batch, steps, features int64) ([]float32, error)

// Run calls f.
func (f ModelFunc) Run(input []float32, batch, steps, features int64) ([]float32, error) {
	return f(input, batch, steps, features)
}

// Close is a no-op.
func (f ModelFunc) Close() error { return nil }

// Engine runs a Model on single windows. Inference on a fixed model is
// deterministic. A nil *Engine, or one without a model, reports
// domain.ErrModelNotLoaded.
type Engine struct {
	model Model
}

// NewEngine wraps m.
func NewEngine(m Model) *Engine {
	return &Engine{model: m}
}

// Loaded reports whether a model is attached.
func (e *Engine) Loaded() bool {
	return e != nil && e.model != nil
}

// Infer evaluates a (1, WindowLength, FeatureCount) tensor and returns the
// raw scaled scalar output.
func (e *Engine) Infer(t domain.ScaledTensor) (float64, error) {
	if !e.Loaded() {
		return 0, domain.ErrModelNotLoaded
	}

	shape := t.Shape()
	want := [3]int{1, domain.WindowLength, domain.FeatureCount}
	if shape != want {
		return 0, &domain.InferenceError{Err: fmt.Errorf("input shape %v, want %v", shape, want)}
	}

	out, err := e.model.Run(t.Data(), int64(shape[0]), int64(shape[1]), int64(shape[2]))
	if err != nil {
		return 0, &domain.InferenceError{Err: err}
	}
	if len(out) == 0 {
		return 0, &domain.InferenceError{Err: errors.New("model returned no output")}
	}

	v := float64(out[0])
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &domain.InferenceError{Err: fmt.Errorf("non-finite output %v", v)}
	}
	return v, nil
}

// Close releases the underlying model.
func (e *Engine) Close() error {
	if !e.Loaded() {
		return nil
	}
	return e.model.Close()
}
