package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/drought-forecast-service/internal/artifacts"
	"github.com/couchcryptid/drought-forecast-service/internal/domain"
	"github.com/couchcryptid/drought-forecast-service/internal/observability"
	"github.com/couchcryptid/drought-forecast-service/internal/pipeline"
	"github.com/couchcryptid/drought-forecast-service/internal/tabular"
)

type predictCmd struct {
	CSV     string `name:"csv" required:"" type:"existingfile" help:"Monthly feature table with a header row."`
	Workers int    `default:"4" help:"Windows predicted in parallel."`
}

type skippedWindow struct {
	WindowStart int    `json:"window_start"`
	WindowEnd   int    `json:"window_end"`
	Error       string `json:"error"`
}

type predictOutput struct {
	File             string                    `json:"file"`
	TotalPredictions int                       `json:"total_predictions"`
	SkippedWindows   []skippedWindow           `json:"skipped_windows"`
	Predictions      []domain.PredictionResult `json:"predictions"`
}

func (c *predictCmd) Run(g *Globals) error {
	logger := g.logger()

	bundle, err := artifacts.Load(g.paths(), artifacts.LoadONNXModel)
	if err != nil {
		return err
	}
	defer func() { _ = bundle.Close() }()

	f, err := os.Open(c.CSV)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	predictor := pipeline.NewPredictor(bundle.Schema, bundle.Scalers, bundle.Engine, bundle.Classifier, logger, metrics, g.predictorOptions()...)
	batcher := pipeline.NewBatcher(predictor, c.Workers, logger, metrics)

	out, err := predictTable(ctx, batcher, bundle.Schema, f)
	if err != nil {
		return fmt.Errorf("%s: %w", c.CSV, err)
	}
	out.File = c.CSV

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

type batchPredictor interface {
	PredictAll(ctx context.Context, rows []domain.Record) (pipeline.BatchResult, error)
}

func predictTable(ctx context.Context, b batchPredictor, schema *domain.Schema, r io.Reader) (predictOutput, error) {
	table, err := tabular.ReadCSV(r)
	if err != nil {
		return predictOutput{}, err
	}
	if err := table.Validate(schema); err != nil {
		return predictOutput{}, err
	}

	res, err := b.PredictAll(ctx, table.Rows)
	if err != nil {
		return predictOutput{}, err
	}

	skipped := make([]skippedWindow, len(res.Skipped))
	for i, s := range res.Skipped {
		skipped[i] = skippedWindow{WindowStart: s.Start, WindowEnd: s.End, Error: s.Err.Error()}
	}
	return predictOutput{
		TotalPredictions: len(res.Predictions),
		SkippedWindows:   skipped,
		Predictions:      res.Predictions,
	}, nil
}
