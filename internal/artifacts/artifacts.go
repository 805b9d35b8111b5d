// Package artifacts loads the files produced by model training: the feature
// configuration, the fitted scalers and the exported model.
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/couchcryptid/drought-forecast-service/internal/domain"
	"github.com/couchcryptid/drought-forecast-service/internal/inference"
	"github.com/couchcryptid/drought-forecast-service/internal/scaler"
	"github.com/couchcryptid/drought-forecast-service/internal/tabular"
)

// FeatureSpec describes one model input feature.
type FeatureSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Unit        string `json:"unit,omitempty"`
}

// CategorySpec overrides the presentation of a severity level.
type CategorySpec struct {
	Label string `json:"label"`
}

// FeatureConfig is the decoded feature_config.json.
type FeatureConfig struct {
	Features          []FeatureSpec                         `json:"features"`
	SequenceLength    int                                   `json:"sequence_length"`
	DroughtCategories map[domain.SeverityLevel]CategorySpec `json:"drought_categories"`
}

// Names returns the feature names in canonical order.
func (c FeatureConfig) Names() []string {
	names := make([]string, len(c.Features))
	for i, f := range c.Features {
		names[i] = f.Name
	}
	return names
}

// Labels returns the configured label overrides.
func (c FeatureConfig) Labels() map[domain.SeverityLevel]string {
	labels := make(map[domain.SeverityLevel]string, len(c.DroughtCategories))
	for level, spec := range c.DroughtCategories {
		labels[level] = spec.Label
	}
	return labels
}

// DefaultFeatureConfig returns the configuration used when none is shipped.
func DefaultFeatureConfig() FeatureConfig {
	features := make([]FeatureSpec, len(domain.DefaultFeatureNames))
	for i, n := range domain.DefaultFeatureNames {
		features[i] = FeatureSpec{Name: n}
	}
	return FeatureConfig{Features: features, SequenceLength: domain.WindowLength}
}

// LoadFeatureConfig reads and validates a feature configuration file.
func LoadFeatureConfig(path string) (FeatureConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FeatureConfig{}, fmt.Errorf("read feature config %s: %w", path, err)
	}
	var cfg FeatureConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return FeatureConfig{}, fmt.Errorf("decode feature config %s: %w", path, err)
	}
	if cfg.SequenceLength != 0 && cfg.SequenceLength != domain.WindowLength {
		return FeatureConfig{}, fmt.Errorf("feature config %s: sequence_length %d, want %d", path, cfg.SequenceLength, domain.WindowLength)
	}
	if len(cfg.Features) == 0 {
		return FeatureConfig{}, fmt.Errorf("feature config %s: no features", path)
	}
	return cfg, nil
}

// Paths locates the artifact files.
type Paths struct {
	Dir           string
	Model         string
	ScalerX       string
	ScalerY       string
	FeatureConfig string
	ONNXLibrary   string
}

func (p Paths) resolve(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(p.Dir, name)
}

// ModelPath returns the resolved model file path.
func (p Paths) ModelPath() string { return p.resolve(p.Model) }

// ScalerXPath returns the resolved input scaler path.
func (p Paths) ScalerXPath() string { return p.resolve(p.ScalerX) }

// ScalerYPath returns the resolved target scaler path.
func (p Paths) ScalerYPath() string { return p.resolve(p.ScalerY) }

// FeatureConfigPath returns the resolved feature configuration path.
func (p Paths) FeatureConfigPath() string { return p.resolve(p.FeatureConfig) }

// ModelLoader opens a model file. It is swapped in tests.
type ModelLoader func(modelPath, libPath string) (inference.Model, error)

// LoadONNXModel is the production ModelLoader.
func LoadONNXModel(modelPath, libPath string) (inference.Model, error) {
	return inference.LoadONNX(modelPath, libPath)
}

// Bundle is everything the prediction pipeline needs from disk.
type Bundle struct {
	Config     FeatureConfig
	Schema     *domain.Schema
	Classifier *domain.Classifier
	Scalers    *scaler.Adapter
	Engine     *inference.Engine
}

// Close releases the model.
func (b *Bundle) Close() error {
	return b.Engine.Close()
}

// Load reads every artifact. A missing feature configuration falls back to
// the default feature order; the scalers and model are required.
func Load(p Paths, loadModel ModelLoader) (*Bundle, error) {
	cfg, err := LoadFeatureConfig(p.FeatureConfigPath())
	if errors.Is(err, os.ErrNotExist) {
		cfg = DefaultFeatureConfig()
	} else if err != nil {
		return nil, err
	}

	schema, err := domain.NewSchema(tabular.NormalizeNames(cfg.Names()))
	if err != nil {
		return nil, fmt.Errorf("feature config: %w", err)
	}

	scalers, err := scaler.Load(p.ScalerXPath(), p.ScalerYPath())
	if err != nil {
		return nil, err
	}

	model, err := loadModel(p.ModelPath(), p.ONNXLibrary)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", p.ModelPath(), err)
	}

	return &Bundle{
		Config:     cfg,
		Schema:     schema,
		Classifier: domain.NewClassifier(cfg.Labels()),
		Scalers:    scalers,
		Engine:     inference.NewEngine(model),
	}, nil
}
