package domain

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

const (
	// WindowLength is the number of consecutive months the model consumes.
	WindowLength = 12
	// FeatureCount is the number of features per month.
	FeatureCount = 7
)

// Canonical feature column names.
const (
	FeatureRainfall     = "rainfall_mm"
	FeatureTmax         = "tmax_c"
	FeatureTmin         = "tmin_c"
	FeatureSPEI         = "spei"
	FeatureSPI          = "spi"
	FeatureNDVI         = "ndvi"
	FeatureSoilMoisture = "soil_moisture"
)

// DefaultFeatureNames is the canonical order used when no feature
// configuration overrides it.
var DefaultFeatureNames = []string{
	FeatureRainfall,
	FeatureTmax,
	FeatureTmin,
	FeatureSPEI,
	FeatureSPI,
	FeatureNDVI,
	FeatureSoilMoisture,
}

// featureBounds lists the inclusive bounds of bounded features. Features not
// listed are unconstrained (and may be negative).
var featureBounds = map[string][2]float64{
	FeatureNDVI:         {0, 1},
	FeatureSoilMoisture: {0, 100},
}

// Record is one raw monthly row keyed by column name. It may contain extra
// columns and need not be ordered.
type Record map[string]float64

// MonthlyFeatures is a single month of the fixed feature set.
type MonthlyFeatures struct {
	RainfallMM   float64 `json:"rainfall_mm"`
	TmaxC        float64 `json:"tmax_c"`
	TminC        float64 `json:"tmin_c"`
	SPEI         float64 `json:"spei"`
	SPI          float64 `json:"spi"`
	NDVI         float64 `json:"ndvi"`
	SoilMoisture float64 `json:"soil_moisture"`
}

// Record converts the month into a column-keyed record.
func (m MonthlyFeatures) Record() Record {
	return Record{
		FeatureRainfall:     m.RainfallMM,
		FeatureTmax:         m.TmaxC,
		FeatureTmin:         m.TminC,
		FeatureSPEI:         m.SPEI,
		FeatureSPI:          m.SPI,
		FeatureNDVI:         m.NDVI,
		FeatureSoilMoisture: m.SoilMoisture,
	}
}

// Schema maps raw records onto the canonical feature order. It is built once
// at startup and is safe for concurrent use.
//
// Each configured name stands for one canonical feature. A configuration
// that only reorders DefaultFeatureNames keeps that identity by name;
// otherwise column i is taken to be DefaultFeatureNames[i] under a new name.
type Schema struct {
	names     []string
	canonical []string
}

// NewSchema builds a Schema from an ordered list of exactly FeatureCount
// unique, non-empty column names.
func NewSchema(names []string) (*Schema, error) {
	if len(names) != FeatureCount {
		return nil, fmt.Errorf("schema: expected %d features, got %d", FeatureCount, len(names))
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" {
			return nil, errors.New("schema: empty feature name")
		}
		if seen[n] {
			return nil, fmt.Errorf("schema: duplicate feature %q", n)
		}
		seen[n] = true
	}
	canonical := slices.Clone(DefaultFeatureNames)
	if isPermutation(names, DefaultFeatureNames) {
		canonical = slices.Clone(names)
	}
	return &Schema{names: slices.Clone(names), canonical: canonical}, nil
}

func isPermutation(names, of []string) bool {
	a, b := slices.Clone(names), slices.Clone(of)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// DefaultSchema returns the schema for DefaultFeatureNames.
func DefaultSchema() *Schema {
	return &Schema{names: slices.Clone(DefaultFeatureNames), canonical: slices.Clone(DefaultFeatureNames)}
}

// Record keys a month of the fixed feature set by the configured column
// names, so typed input projects through a renamed schema.
func (s *Schema) Record(m MonthlyFeatures) Record {
	byCanonical := m.Record()
	rec := make(Record, len(s.names))
	for i, n := range s.names {
		rec[n] = byCanonical[s.canonical[i]]
	}
	return rec
}

// Names returns the canonical feature order.
func (s *Schema) Names() []string {
	return slices.Clone(s.names)
}

// Missing returns the required columns absent from columns, in canonical order.
func (s *Schema) Missing(columns []string) []string {
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}
	var missing []string
	for _, n := range s.names {
		if !present[n] {
			missing = append(missing, n)
		}
	}
	return missing
}

// Project returns the record's values in canonical order. Extra columns are
// ignored; absent required columns produce a *SchemaError.
func (s *Schema) Project(rec Record) ([]float64, error) {
	out := make([]float64, len(s.names))
	var missing []string
	for i, n := range s.names {
		v, ok := rec[n]
		if !ok {
			missing = append(missing, n)
			continue
		}
		out[i] = v
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing, Row: -1}
	}
	return out, nil
}

// FeatureWindow is an immutable WindowLength x FeatureCount matrix in
// canonical feature order.
type FeatureWindow struct {
	steps [][]float64
}

// NewFeatureWindow validates and projects records into a window. It fails
// with *ShapeError when len(records) != WindowLength, *SchemaError when a
// record lacks a required column, and *RangeError when a value is
// non-finite or a bounded feature is out of range.
func NewFeatureWindow(schema *Schema, records []Record) (FeatureWindow, error) {
	if len(records) != WindowLength {
		return FeatureWindow{}, &ShapeError{Got: len(records), Want: WindowLength}
	}

	steps := make([][]float64, len(records))
	for i, rec := range records {
		row, err := schema.Project(rec)
		if err != nil {
			var schemaErr *SchemaError
			if errors.As(err, &schemaErr) {
				schemaErr.Row = i
			}
			return FeatureWindow{}, err
		}
		if err := schema.checkRanges(row, i); err != nil {
			return FeatureWindow{}, err
		}
		steps[i] = row
	}
	return FeatureWindow{steps: steps}, nil
}

func (s *Schema) checkRanges(row []float64, step int) error {
	for j, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &RangeError{Feature: s.names[j], Value: v, Min: math.Inf(-1), Max: math.Inf(1), Row: step}
		}
		if b, ok := featureBounds[s.canonical[j]]; ok && (v < b[0] || v > b[1]) {
			return &RangeError{Feature: s.names[j], Value: v, Min: b[0], Max: b[1], Row: step}
		}
	}
	return nil
}

// Len returns the number of time steps.
func (w FeatureWindow) Len() int { return len(w.steps) }

// Values returns a copy of the window as rows of canonical feature values.
func (w FeatureWindow) Values() [][]float64 {
	out := make([][]float64, len(w.steps))
	for i, row := range w.steps {
		out[i] = slices.Clone(row)
	}
	return out
}

// ScaledTensor is a scaled window with a leading batch dimension of one,
// laid out row-major as float32 for the model runtime.
type ScaledTensor struct {
	data  []float32
	shape [3]int
}

// NewScaledTensor packs scaled rows into a (1, len(rows), cols) tensor.
func NewScaledTensor(rows [][]float64) ScaledTensor {
	cols := 0
	if len(rows) > 0 {
		cols = len(rows[0])
	}
	data := make([]float32, 0, len(rows)*cols)
	for _, row := range rows {
		for _, v := range row {
			data = append(data, float32(v))
		}
	}
	return ScaledTensor{data: data, shape: [3]int{1, len(rows), cols}}
}

// Shape returns (batch, steps, features).
func (t ScaledTensor) Shape() [3]int { return t.shape }

// Data returns the flat row-major values. Callers must not modify it.
func (t ScaledTensor) Data() []float32 { return t.data }
