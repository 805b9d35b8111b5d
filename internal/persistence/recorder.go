// Package persistence records predictions for later retrieval. Writes degrade
// gracefully: a missing or failing store never fails a prediction.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker/v2"

	"github.com/couchcryptid/drought-forecast-service/internal/domain"
	"github.com/couchcryptid/drought-forecast-service/internal/observability"
)

// Repository stores and queries prediction records.
type Repository interface {
	InsertPrediction(ctx context.Context, rec domain.PredictionRecord) error
	InsertBatch(ctx context.Context, batch domain.BatchUpload) error
	RecentPredictions(ctx context.Context, location string, limit int) ([]domain.PredictionRecord, error)
	PredictionHistory(ctx context.Context, skip, limit int) ([]domain.PredictionRecord, error)
	GetPrediction(ctx context.Context, id string) (domain.PredictionRecord, error)
	Summary(ctx context.Context) (domain.Summary, error)
}

// Publisher emits saved predictions to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, records []domain.PredictionRecord) error
}

// Recorder wraps an optional Repository and Publisher.
type Recorder struct {
	repo    Repository
	pub     Publisher
	breaker *gobreaker.CircuitBreaker[any]
	clock   clockwork.Clock
	newID   func() string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock sets the clock used for created_at timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

// WithIDGenerator overrides record ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Recorder) { r.newID = fn }
}

// WithPublisher attaches a Publisher.
func WithPublisher(p Publisher) Option {
	return func(r *Recorder) { r.pub = p }
}

// NewRecorder creates a Recorder. repo may be nil, in which case writes are
// no-ops and reads return empty results.
func NewRecorder(repo Repository, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Recorder {
	r := &Recorder{
		repo:    repo,
		clock:   clockwork.NewRealClock(),
		newID:   func() string { return uuid.New().String() },
		logger:  logger,
		metrics: metrics,
	}
	r.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "prediction-store",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enabled reports whether a repository is configured.
func (r *Recorder) Enabled() bool {
	return r != nil && r.repo != nil
}

// IsUnavailable reports whether err means the store is temporarily rejecting
// calls.
func IsUnavailable(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func execute[T any](r *Recorder, fn func() (T, error)) (T, error) {
	v, err := r.breaker.Execute(func() (any, error) { return fn() })
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (r *Recorder) newRecord(res domain.PredictionResult, prov domain.Provenance, batchID string, now time.Time) domain.PredictionRecord {
	rec := domain.PredictionRecord{
		ID:               r.newID(),
		PredictionType:   prov.Type,
		Location:         prov.Location,
		BatchID:          batchID,
		PredictionResult: res,
		CreatedAt:        now,
	}
	if prov.Input != nil {
		if data, err := json.Marshal(prov.Input); err == nil {
			rec.Input = data
		} else {
			r.logger.Warn("input echo not serializable", "error", err)
		}
	}
	return rec
}

// SavePrediction stores one result and returns its record ID, or "" when it
// was not stored.
func (r *Recorder) SavePrediction(ctx context.Context, res domain.PredictionResult, prov domain.Provenance) string {
	if prov.Type == "" {
		prov.Type = domain.PredictionManual
	}
	rec := r.newRecord(res, prov, prov.BatchID, r.clock.Now().UTC())

	id := ""
	if r.Enabled() {
		_, err := execute(r, func() (struct{}, error) {
			return struct{}{}, r.repo.InsertPrediction(ctx, rec)
		})
		if err != nil {
			r.fail("save_prediction", err)
		} else {
			id = rec.ID
		}
	}
	r.publish(ctx, []domain.PredictionRecord{rec})
	return id
}

// SaveBatch stores the results of one upload under a new batch ID and
// returns that ID, or "" when nothing was stored.
func (r *Recorder) SaveBatch(ctx context.Context, filename string, results []domain.PredictionResult, skipped int) string {
	now := r.clock.Now().UTC()
	batch := domain.BatchUpload{
		ID:               r.newID(),
		Filename:         filename,
		TotalPredictions: len(results),
		SkippedWindows:   skipped,
		UploadedAt:       now,
		Records:          make([]domain.PredictionRecord, len(results)),
	}
	for i, res := range results {
		batch.Records[i] = r.newRecord(res, domain.Provenance{Type: domain.PredictionBatch}, batch.ID, now)
	}

	id := ""
	if r.Enabled() {
		_, err := execute(r, func() (struct{}, error) {
			return struct{}{}, r.repo.InsertBatch(ctx, batch)
		})
		if err != nil {
			r.fail("save_batch", err)
		} else {
			id = batch.ID
		}
	}
	r.publish(ctx, batch.Records)
	return id
}

func (r *Recorder) publish(ctx context.Context, records []domain.PredictionRecord) {
	if r.pub == nil || len(records) == 0 {
		return
	}
	if err := r.pub.Publish(ctx, records); err != nil {
		r.fail("publish", err)
	}
}

func (r *Recorder) fail(op string, err error) {
	r.logger.Warn("persistence degraded", "op", op, "error", err)
	r.metrics.PersistenceFailures.WithLabelValues(op).Inc()
}

// Recent returns the newest predictions, optionally filtered by location.
func (r *Recorder) Recent(ctx context.Context, location string, limit int) ([]domain.PredictionRecord, error) {
	if !r.Enabled() {
		return []domain.PredictionRecord{}, nil
	}
	return execute(r, func() ([]domain.PredictionRecord, error) {
		return r.repo.RecentPredictions(ctx, location, limit)
	})
}

// History returns one page of predictions, newest first.
func (r *Recorder) History(ctx context.Context, skip, limit int) ([]domain.PredictionRecord, error) {
	if !r.Enabled() {
		return []domain.PredictionRecord{}, nil
	}
	return execute(r, func() ([]domain.PredictionRecord, error) {
		return r.repo.PredictionHistory(ctx, skip, limit)
	})
}

// Get returns one prediction by ID, or domain.ErrNotFound.
func (r *Recorder) Get(ctx context.Context, id string) (domain.PredictionRecord, error) {
	if !r.Enabled() {
		return domain.PredictionRecord{}, domain.ErrNotFound
	}
	return execute(r, func() (domain.PredictionRecord, error) {
		return r.repo.GetPrediction(ctx, id)
	})
}

// Summary aggregates every stored prediction.
func (r *Recorder) Summary(ctx context.Context) (domain.Summary, error) {
	if !r.Enabled() {
		return domain.EmptySummary(), nil
	}
	return execute(r, func() (domain.Summary, error) {
		return r.repo.Summary(ctx)
	})
}
