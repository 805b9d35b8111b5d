package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "ml_models", cfg.ModelDir)
	assert.Equal(t, "stat_lstm_best_model.onnx", cfg.ModelFile)
	assert.Equal(t, "scaler_X.json", cfg.ScalerXFile)
	assert.Equal(t, "scaler_y.json", cfg.ScalerYFile)
	assert.Equal(t, "feature_config.json", cfg.FeatureConfigFile)
	assert.Empty(t, cfg.ONNXLibraryPath)
	assert.Equal(t, "stat-LSTM-v1.0", cfg.ModelVersion)
	assert.Equal(t, 4, cfg.BatchWorkers)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 1024, cfg.InferenceCacheSize)
	assert.Empty(t, cfg.DatabasePath)
	assert.False(t, cfg.KafkaEnabled)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "drought-predictions", cfg.KafkaPredictionsTopic)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("MODEL_DIR", "/srv/models")
	t.Setenv("MODEL_FILE", "lstm.onnx")
	t.Setenv("ONNX_LIBRARY_PATH", "/usr/lib/libonnxruntime.so")
	t.Setenv("MODEL_VERSION", "stat-LSTM-v2.0")
	t.Setenv("BATCH_WORKERS", "8")
	t.Setenv("MAX_UPLOAD_BYTES", "2048")
	t.Setenv("INFERENCE_CACHE_SIZE", "0")
	t.Setenv("DATABASE_PATH", "/var/lib/drought/drought.db")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_PREDICTIONS_TOPIC", "regcdi")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "/srv/models", cfg.ModelDir)
	assert.Equal(t, "lstm.onnx", cfg.ModelFile)
	assert.Equal(t, "/usr/lib/libonnxruntime.so", cfg.ONNXLibraryPath)
	assert.Equal(t, "stat-LSTM-v2.0", cfg.ModelVersion)
	assert.Equal(t, 8, cfg.BatchWorkers)
	assert.Equal(t, int64(2048), cfg.MaxUploadBytes)
	assert.Equal(t, 0, cfg.InferenceCacheSize)
	assert.Equal(t, "/var/lib/drought/drought.db", cfg.DatabasePath)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "regcdi", cfg.KafkaPredictionsTopic)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidBatchWorkers(t *testing.T) {
	for _, v := range []string{"0", "65", "four"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("BATCH_WORKERS", v)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "BATCH_WORKERS")
		})
	}
}

func TestLoad_InvalidMaxUploadBytes(t *testing.T) {
	t.Setenv("MAX_UPLOAD_BYTES", "-1")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_UPLOAD_BYTES")
}

func TestLoad_KafkaEnabledWithoutBrokers(t *testing.T) {
	t.Setenv("KAFKA_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}

func TestLoad_KafkaExplicitlyDisabled(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "localhost:9092")
	t.Setenv("KAFKA_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.KafkaEnabled)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("MODEL_VERSION=from-dotenv\nLOG_LEVEL=warn\n"), 0o600))

	// godotenv never overrides variables that are already set.
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("MODEL_VERSION", "")
	require.NoError(t, os.Unsetenv("MODEL_VERSION"))

	require.NoError(t, LoadDotEnv(path))
	t.Cleanup(func() { _ = os.Unsetenv("MODEL_VERSION") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.ModelVersion)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}
