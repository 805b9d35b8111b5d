package domain

import (
	"encoding/json"
	"time"
)

// PredictionResult is the structured output of one orchestrated prediction.
// JSON field names match the public API consumed by the dashboard.
type PredictionResult struct {
	DomainIndex   float64       `json:"regcdi_value"`
	Category      string        `json:"drought_category"`
	SeverityLevel SeverityLevel `json:"severity_level"`
	Description   string        `json:"description"`
	Confidence    float64       `json:"confidence_score"`
	ProducedAt    time.Time     `json:"prediction_date"`
	ModelVersion  string        `json:"model_version"`

	// Set only for results produced by rolling-window batching.
	WindowStart *int `json:"window_start,omitempty"`
	WindowEnd   *int `json:"window_end,omitempty"`
}

// WithWindow returns a copy of r tagged with the inclusive row offsets of the
// window that produced it.
func (r PredictionResult) WithWindow(start, end int) PredictionResult {
	r.WindowStart = &start
	r.WindowEnd = &end
	return r
}

// PredictionType distinguishes how a prediction was requested.
type PredictionType string

const (
	PredictionManual PredictionType = "manual"
	PredictionBatch  PredictionType = "batch"
)

// Provenance describes where a prediction came from.
type Provenance struct {
	Type     PredictionType
	Location string
	BatchID  string
	Input    any // echoed input, serialized as JSON when persisted
}

// PredictionRecord is a persisted prediction.
type PredictionRecord struct {
	ID             string         `json:"id"`
	PredictionType PredictionType `json:"prediction_type"`
	Location       string         `json:"location,omitempty"`
	BatchID        string         `json:"batch_id,omitempty"`
	PredictionResult
	CreatedAt time.Time       `json:"created_at"`
	Input     json.RawMessage `json:"input_data,omitempty"`
}

// BatchUpload is a persisted CSV upload and the predictions it produced.
type BatchUpload struct {
	ID               string             `json:"id"`
	Filename         string             `json:"filename"`
	TotalPredictions int                `json:"total_predictions"`
	SkippedWindows   int                `json:"skipped_windows"`
	UploadedAt       time.Time          `json:"uploaded_at"`
	Records          []PredictionRecord `json:"-"`
}

// Summary aggregates persisted predictions.
type Summary struct {
	TotalPredictions    int                   `json:"total_predictions"`
	DroughtDistribution map[SeverityLevel]int `json:"drought_distribution"`
	AverageRegcdi       float64               `json:"average_regcdi"`
	LastPredictionDate  *time.Time            `json:"last_prediction_date"`
}

// EmptySummary returns the summary reported when nothing has been stored.
func EmptySummary() Summary {
	return Summary{DroughtDistribution: map[SeverityLevel]int{}}
}
