// Command droughtctl works with drought model artifacts and monthly CSV
// tables offline, without starting the API.
//
// Usage:
//
//	droughtctl check-artifacts --model-dir ml_models
//	droughtctl predict --csv data/monthly.csv
//	droughtctl genmock --months 36 --out data/mock/monthly.csv
package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/couchcryptid/drought-forecast-service/internal/artifacts"
	"github.com/couchcryptid/drought-forecast-service/internal/observability"
	"github.com/couchcryptid/drought-forecast-service/internal/pipeline"
)

// Globals are shared by every subcommand. Defaults match the API service.
type Globals struct {
	ModelDir          string `name:"model-dir" env:"MODEL_DIR" default:"ml_models" help:"Directory holding the model artifacts."`
	ModelFile         string `name:"model-file" env:"MODEL_FILE" default:"stat_lstm_best_model.onnx" help:"ONNX model file name."`
	ScalerXFile       string `name:"scaler-x-file" env:"SCALER_X_FILE" default:"scaler_X.json" help:"Input scaler file name."`
	ScalerYFile       string `name:"scaler-y-file" env:"SCALER_Y_FILE" default:"scaler_y.json" help:"Target scaler file name."`
	FeatureConfigFile string `name:"feature-config-file" env:"FEATURE_CONFIG_FILE" default:"feature_config.json" help:"Feature configuration file name."`
	ONNXLibrary       string `name:"onnx-library" env:"ONNX_LIBRARY_PATH" help:"Path to the ONNX Runtime shared library."`
	ModelVersion      string `name:"model-version" env:"MODEL_VERSION" default:"stat-LSTM-v1.0" help:"Version stamped on predictions."`
	LogLevel          string `name:"log-level" env:"LOG_LEVEL" default:"warn" help:"Log level written to stderr."`
}

func (g *Globals) paths() artifacts.Paths {
	return artifacts.Paths{
		Dir:           g.ModelDir,
		Model:         g.ModelFile,
		ScalerX:       g.ScalerXFile,
		ScalerY:       g.ScalerYFile,
		FeatureConfig: g.FeatureConfigFile,
		ONNXLibrary:   g.ONNXLibrary,
	}
}

func (g *Globals) predictorOptions() []pipeline.Option {
	return []pipeline.Option{pipeline.WithModelVersion(g.ModelVersion)}
}

func (g *Globals) logger() *slog.Logger {
	return observability.NewLoggerTo(os.Stderr, g.LogLevel, "text")
}

type cli struct {
	Globals

	Predict        predictCmd        `cmd:"" help:"Run rolling-window predictions over a CSV file and print JSON."`
	CheckArtifacts checkArtifactsCmd `cmd:"" name:"check-artifacts" help:"Load the feature config, scalers and model and print their shapes."`
	Genmock        genmockCmd        `cmd:"" help:"Write a synthetic monthly feature CSV."`
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("droughtctl"),
		kong.Description("Offline tools for the drought forecast service."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&c.Globals))
}
