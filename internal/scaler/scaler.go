// Package scaler applies the fitted standardization used when the model was
// trained, in both directions.
package scaler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/couchcryptid/drought-forecast-service/internal/domain"
)

// Standard is a fitted standard scaler: x' = (x - mean) / scale.
//
// A Standard of width 1 was fitted on a flattened feature matrix, so a
// single (mean, scale) pair applies to every cell regardless of column.
// Otherwise one pair applies per column.
type Standard struct {
	mean  []float64
	scale []float64
}

// NewStandard builds a Standard from fitted parameters. A zero scale is
// treated as 1, matching how the fitting library handles constant columns.
func NewStandard(mean, scale []float64) (*Standard, error) {
	if len(mean) == 0 {
		return nil, errors.New("scaler: no parameters")
	}
	if len(mean) != len(scale) {
		return nil, fmt.Errorf("scaler: %d means but %d scales", len(mean), len(scale))
	}
	s := &Standard{mean: make([]float64, len(mean)), scale: make([]float64, len(scale))}
	for i := range mean {
		if math.IsNaN(mean[i]) || math.IsInf(mean[i], 0) || math.IsNaN(scale[i]) || math.IsInf(scale[i], 0) {
			return nil, fmt.Errorf("scaler: non-finite parameter at %d", i)
		}
		s.mean[i] = mean[i]
		s.scale[i] = scale[i]
		if s.scale[i] == 0 {
			s.scale[i] = 1
		}
	}
	return s, nil
}

// params is the on-disk form of a fitted scaler. Both the plain names and
// the trailing-underscore attribute names of the fitting library are accepted.
type params struct {
	Mean   []float64 `json:"mean"`
	Scale  []float64 `json:"scale"`
	MeanU  []float64 `json:"mean_"`
	ScaleU []float64 `json:"scale_"`
}

// LoadStandard reads fitted parameters from a JSON file.
func LoadStandard(path string) (*Standard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scaler %s: %w", path, err)
	}
	var p params
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode scaler %s: %w", path, err)
	}
	mean, scale := p.Mean, p.Scale
	if len(mean) == 0 {
		mean = p.MeanU
	}
	if len(scale) == 0 {
		scale = p.ScaleU
	}
	s, err := NewStandard(mean, scale)
	if err != nil {
		return nil, fmt.Errorf("scaler %s: %w", path, err)
	}
	return s, nil
}

// Width returns the number of fitted (mean, scale) pairs.
func (s *Standard) Width() int { return len(s.mean) }

func (s *Standard) param(col int) (mean, scale float64) {
	if len(s.mean) == 1 {
		return s.mean[0], s.scale[0]
	}
	return s.mean[col], s.scale[col]
}

// Transform standardizes rows. Rows must have Width columns unless the
// scaler was fitted on flattened data.
func (s *Standard) Transform(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(s.mean) != 1 && len(row) != len(s.mean) {
			return nil, fmt.Errorf("scaler: row %d has %d columns, fitted on %d", i, len(row), len(s.mean))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			m, sc := s.param(j)
			scaled[j] = (v - m) / sc
		}
		out[i] = scaled
	}
	return out, nil
}

// InverseScalar maps a single scaled value back to the original unit using
// the first fitted column.
func (s *Standard) InverseScalar(v float64) float64 {
	m, sc := s.param(0)
	return v*sc + m
}

// Adapter pairs the input scaler with the target scaler. A nil *Adapter, or
// one missing either scaler, reports domain.ErrScalerNotLoaded.
type Adapter struct {
	x *Standard
	y *Standard
}

// NewAdapter creates an Adapter from the feature and target scalers.
func NewAdapter(x, y *Standard) *Adapter {
	return &Adapter{x: x, y: y}
}

// Load reads both scalers from JSON files.
func Load(xPath, yPath string) (*Adapter, error) {
	x, err := LoadStandard(xPath)
	if err != nil {
		return nil, err
	}
	y, err := LoadStandard(yPath)
	if err != nil {
		return nil, err
	}
	if y.Width() != 1 {
		return nil, fmt.Errorf("scaler %s: target scaler must have one column, got %d", yPath, y.Width())
	}
	if x.Width() != 1 && x.Width() != domain.FeatureCount {
		return nil, fmt.Errorf("scaler %s: expected 1 or %d columns, got %d", xPath, domain.FeatureCount, x.Width())
	}
	return NewAdapter(x, y), nil
}

// Loaded reports whether both scalers are present.
func (a *Adapter) Loaded() bool {
	return a != nil && a.x != nil && a.y != nil
}

// Forward standardizes a window of canonical feature rows.
func (a *Adapter) Forward(rows [][]float64) ([][]float64, error) {
	if !a.Loaded() {
		return nil, domain.ErrScalerNotLoaded
	}
	return a.x.Transform(rows)
}

// Inverse maps a raw model output back to the REGCDI domain.
func (a *Adapter) Inverse(v float64) (float64, error) {
	if !a.Loaded() {
		return 0, domain.ErrScalerNotLoaded
	}
	return a.y.InverseScalar(v), nil
}
