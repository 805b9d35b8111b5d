package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/drought-forecast-service/internal/domain"
	"github.com/couchcryptid/drought-forecast-service/internal/observability"
)

// WindowFailure records a rolling window that was skipped.
type WindowFailure struct {
	Start int   `json:"window_start"`
	End   int   `json:"window_end"`
	Err   error `json:"-"`
}

// BatchResult holds the successful predictions of a batch, ordered by window
// start, and the windows that were skipped.
type BatchResult struct {
	Predictions []domain.PredictionResult
	Skipped     []WindowFailure
}

// Batcher runs the Predictor over every rolling window of a table.
type Batcher struct {
	predictor *Predictor
	workers   int
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewBatcher creates a Batcher that evaluates up to workers windows at once.
func NewBatcher(p *Predictor, workers int, logger *slog.Logger, metrics *observability.Metrics) *Batcher {
	if workers < 1 {
		workers = 1
	}
	return &Batcher{predictor: p, workers: workers, logger: logger, metrics: metrics}
}

type windowSlot struct {
	result domain.PredictionResult
	err    error
}

// PredictAll predicts every window rows[i : i+WindowLength] for i in
// [0, len(rows)-WindowLength]. Tables shorter than WindowLength yield an empty
// result. A failing window is skipped and recorded; only cancellation of ctx
// fails the whole batch.
func (b *Batcher) PredictAll(ctx context.Context, rows []domain.Record) (BatchResult, error) {
	n := len(rows) - domain.WindowLength + 1
	if n <= 0 {
		return BatchResult{Predictions: []domain.PredictionResult{}}, nil
	}

	start := time.Now()
	slots := make([]windowSlot, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i := range n {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := b.predictor.predict(gctx, rows[i:i+domain.WindowLength], sourceBatch)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				slots[i].err = err
				return nil
			}
			slots[i].result = res.WithWindow(i, i+domain.WindowLength-1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return BatchResult{}, err
	}

	out := BatchResult{Predictions: make([]domain.PredictionResult, 0, n)}
	for i, s := range slots {
		if s.err != nil {
			f := WindowFailure{Start: i, End: i + domain.WindowLength - 1, Err: s.err}
			b.logger.Warn("skipping window",
				"window_start", f.Start,
				"window_end", f.End,
				"error", s.err,
			)
			out.Skipped = append(out.Skipped, f)
			continue
		}
		out.Predictions = append(out.Predictions, s.result)
	}

	b.metrics.BatchSize.Observe(float64(n))
	b.metrics.WindowsSkipped.Add(float64(len(out.Skipped)))
	b.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	return out, nil
}
