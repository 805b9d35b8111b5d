package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

const (
	maxBatchWorkers       = 64
	defaultMaxUploadBytes = 10 << 20
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Model artifacts.
	ModelDir          string
	ModelFile         string
	ScalerXFile       string
	ScalerYFile       string
	FeatureConfigFile string
	ONNXLibraryPath   string
	ModelVersion      string

	BatchWorkers       int
	MaxUploadBytes     int64
	InferenceCacheSize int

	// Persistence is disabled when DatabasePath is empty.
	DatabasePath string

	// Prediction events.
	KafkaEnabled          bool
	KafkaBrokers          []string
	KafkaPredictionsTopic string
}

// LoadDotEnv seeds the environment from a .env file. Variables already set
// take precedence, and a missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchWorkers, err := parseIntInRange("BATCH_WORKERS", 4, 1, maxBatchWorkers)
	if err != nil {
		return nil, err
	}

	maxUpload, err := parseIntInRange("MAX_UPLOAD_BYTES", defaultMaxUploadBytes, 1, 1<<30)
	if err != nil {
		return nil, err
	}

	cacheSize, err := parseIntInRange("INFERENCE_CACHE_SIZE", 1024, 0, 1<<20)
	if err != nil {
		return nil, err
	}

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = sharedcfg.ParseBrokers(v)
	}
	kafkaEnabled := len(brokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		ModelDir:          sharedcfg.EnvOrDefault("MODEL_DIR", "ml_models"),
		ModelFile:         sharedcfg.EnvOrDefault("MODEL_FILE", "stat_lstm_best_model.onnx"),
		ScalerXFile:       sharedcfg.EnvOrDefault("SCALER_X_FILE", "scaler_X.json"),
		ScalerYFile:       sharedcfg.EnvOrDefault("SCALER_Y_FILE", "scaler_y.json"),
		FeatureConfigFile: sharedcfg.EnvOrDefault("FEATURE_CONFIG_FILE", "feature_config.json"),
		ONNXLibraryPath:   os.Getenv("ONNX_LIBRARY_PATH"),
		ModelVersion:      sharedcfg.EnvOrDefault("MODEL_VERSION", "stat-LSTM-v1.0"),

		BatchWorkers:       batchWorkers,
		MaxUploadBytes:     int64(maxUpload),
		InferenceCacheSize: cacheSize,

		DatabasePath: os.Getenv("DATABASE_PATH"),

		KafkaEnabled:          kafkaEnabled,
		KafkaBrokers:          brokers,
		KafkaPredictionsTopic: sharedcfg.EnvOrDefault("KAFKA_PREDICTIONS_TOPIC", "drought-predictions"),
	}

	if cfg.ModelFile == "" {
		return nil, errors.New("MODEL_FILE is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.KafkaEnabled && cfg.KafkaPredictionsTopic == "" {
		return nil, errors.New("KAFKA_PREDICTIONS_TOPIC is required when Kafka is enabled")
	}

	return cfg, nil
}

func parseIntInRange(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s %q: must be an integer in [%d, %d]", key, s, lo, hi)
	}
	return n, nil
}
