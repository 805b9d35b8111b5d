package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrScalerNotLoaded is returned when scaling is attempted before the
	// fitted scaler parameters have been loaded.
	ErrScalerNotLoaded = errors.New("scaler not loaded")

	// ErrModelNotLoaded is returned when inference is attempted before the
	// model has been initialized.
	ErrModelNotLoaded = errors.New("model not loaded")

	// ErrNotFound is returned by persistence lookups that match no record.
	ErrNotFound = errors.New("not found")
)

// SchemaError reports required feature columns absent from a record or table.
type SchemaError struct {
	Missing []string
	Row     int // row offset within the submitted data, -1 for table headers
}

func (e *SchemaError) Error() string {
	cols := strings.Join(e.Missing, ", ")
	if e.Row < 0 {
		return fmt.Sprintf("missing required columns: %s", cols)
	}
	return fmt.Sprintf("row %d: missing required columns: %s", e.Row, cols)
}

// ShapeError reports a window whose length is not WindowLength.
type ShapeError struct {
	Got  int
	Want int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("expected %d months of data, got %d", e.Want, e.Got)
}

// RangeError reports a feature value outside its documented bounds or a
// non-finite value.
type RangeError struct {
	Feature string
	Value   float64
	Min     float64
	Max     float64
	Row     int
}

func (e *RangeError) Error() string {
	if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
		return fmt.Sprintf("row %d: %s is not a finite number", e.Row, e.Feature)
	}
	return fmt.Sprintf("row %d: %s=%g outside [%g, %g]", e.Row, e.Feature, e.Value, e.Min, e.Max)
}

// InferenceError wraps a failure raised while evaluating the model, including
// input shape mismatches and non-finite output.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return "inference: " + e.Err.Error()
}

func (e *InferenceError) Unwrap() error { return e.Err }

// IsInputError reports whether err was caused by malformed caller input
// rather than by the service itself.
func IsInputError(err error) bool {
	var (
		schemaErr *SchemaError
		shapeErr  *ShapeError
		rangeErr  *RangeError
	)
	return errors.As(err, &schemaErr) || errors.As(err, &shapeErr) || errors.As(err, &rangeErr)
}

// ErrorKind returns a short, stable label for err suitable for metrics.
func ErrorKind(err error) string {
	var (
		schemaErr    *SchemaError
		shapeErr     *ShapeError
		rangeErr     *RangeError
		inferenceErr *InferenceError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &schemaErr):
		return "schema"
	case errors.As(err, &shapeErr):
		return "shape"
	case errors.As(err, &rangeErr):
		return "range"
	case errors.Is(err, ErrScalerNotLoaded):
		return "scaler_not_loaded"
	case errors.Is(err, ErrModelNotLoaded):
		return "model_not_loaded"
	case errors.As(err, &inferenceErr):
		return "inference"
	default:
		return "other"
	}
}
