// Package sqlite persists predictions in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/couchcryptid/drought-forecast-service/internal/domain"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

// Store implements persistence.Repository on SQLite.
type Store struct {
	db     *sql.DB
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	logger *slog.Logger
}

// New wraps an open database. Call Migrate before use.
func New(db *sql.DB, logger *slog.Logger) (*Store, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Store{db: db, enc: enc, dec: dec, logger: logger}, nil
}

// Open opens the database at path, enables WAL and migrates the schema.
// Startup is retried with exponential backoff while another process holds
// the database lock.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s, err := New(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	operation := func() error {
		return s.Migrate(ctx)
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("initialize database %s: %w", path, err)
	}
	return s, nil
}

// dsn turns a database path into a driver URI whose pragmas apply to every
// pooled connection, not only the one that happens to run a PRAGMA.
func dsn(path string) string {
	pragmas := []string{"busy_timeout(5000)"}
	if path != ":memory:" {
		pragmas = append(pragmas, "journal_mode(WAL)")
	}
	uri := path
	if !strings.HasPrefix(uri, "file:") {
		uri = "file:" + uri
	}
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	for _, p := range pragmas {
		uri += sep + "_pragma=" + p
		sep = "&"
	}
	return uri
}

// Close releases the database and codecs.
func (s *Store) Close() error {
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		return err
	}
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const insertPrediction = `
	INSERT INTO predictions (id, prediction_type, location, batch_id, regcdi_value, drought_category,
		severity_level, description, confidence_score, prediction_date, model_version,
		window_start, window_end, input_zstd, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func (s *Store) insert(ctx context.Context, ex execer, rec domain.PredictionRecord) error {
	var input []byte
	if len(rec.Input) > 0 {
		input = s.enc.EncodeAll(rec.Input, nil)
	}
	_, err := ex.ExecContext(ctx, insertPrediction,
		rec.ID, string(rec.PredictionType), rec.Location, rec.BatchID, rec.DomainIndex, rec.Category,
		string(rec.SeverityLevel), rec.Description, rec.Confidence, formatTime(rec.ProducedAt), rec.ModelVersion,
		nullInt(rec.WindowStart), nullInt(rec.WindowEnd), input, formatTime(rec.CreatedAt),
	)
	return err
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

// InsertPrediction stores one record.
func (s *Store) InsertPrediction(ctx context.Context, rec domain.PredictionRecord) error {
	if err := s.insert(ctx, s.db, rec); err != nil {
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

// InsertBatch stores an upload and all of its records atomically.
func (s *Store) InsertBatch(ctx context.Context, batch domain.BatchUpload) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO batch_uploads (id, filename, total_predictions, skipped_windows, uploaded_at) VALUES (?, ?, ?, ?, ?)",
		batch.ID, batch.Filename, batch.TotalPredictions, batch.SkippedWindows, formatTime(batch.UploadedAt),
	); err != nil {
		return fmt.Errorf("insert batch upload: %w", err)
	}
	for _, rec := range batch.Records {
		if err := s.insert(ctx, tx, rec); err != nil {
			return fmt.Errorf("insert batch prediction: %w", err)
		}
	}
	return tx.Commit()
}

const selectPrediction = `
	SELECT id, prediction_type, location, batch_id, regcdi_value, drought_category, severity_level,
		description, confidence_score, prediction_date, model_version, window_start, window_end,
		input_zstd, created_at
	FROM predictions
`

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanPrediction(row scanner) (domain.PredictionRecord, error) {
	var (
		rec                   domain.PredictionRecord
		predType, level       string
		producedAt, createdAt string
		start, end            sql.NullInt64
		input                 []byte
	)
	if err := row.Scan(&rec.ID, &predType, &rec.Location, &rec.BatchID, &rec.DomainIndex, &rec.Category,
		&level, &rec.Description, &rec.Confidence, &producedAt, &rec.ModelVersion, &start, &end,
		&input, &createdAt); err != nil {
		return rec, err
	}
	rec.PredictionType = domain.PredictionType(predType)
	rec.SeverityLevel = domain.SeverityLevel(level)

	var err error
	if rec.ProducedAt, err = parseTime(producedAt); err != nil {
		return rec, fmt.Errorf("parse prediction_date: %w", err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return rec, fmt.Errorf("parse created_at: %w", err)
	}
	if start.Valid && end.Valid {
		rec = withWindow(rec, int(start.Int64), int(end.Int64))
	}
	if len(input) > 0 {
		raw, err := s.dec.DecodeAll(input, nil)
		if err != nil {
			return rec, fmt.Errorf("decompress input: %w", err)
		}
		rec.Input = raw
	}
	return rec, nil
}

func withWindow(rec domain.PredictionRecord, start, end int) domain.PredictionRecord {
	rec.PredictionResult = rec.PredictionResult.WithWindow(start, end)
	return rec
}

func (s *Store) queryPredictions(ctx context.Context, query string, args ...any) ([]domain.PredictionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.PredictionRecord{}
	for rows.Next() {
		rec, err := s.scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentPredictions returns up to limit records, newest first. An empty
// location matches every record.
func (s *Store) RecentPredictions(ctx context.Context, location string, limit int) ([]domain.PredictionRecord, error) {
	if location == "" {
		return s.queryPredictions(ctx, selectPrediction+" ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	}
	return s.queryPredictions(ctx, selectPrediction+" WHERE location = ? ORDER BY created_at DESC, rowid DESC LIMIT ?", location, limit)
}

// PredictionHistory returns one page of records, newest first.
func (s *Store) PredictionHistory(ctx context.Context, skip, limit int) ([]domain.PredictionRecord, error) {
	return s.queryPredictions(ctx, selectPrediction+" ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?", limit, skip)
}

// GetPrediction returns one record or domain.ErrNotFound.
func (s *Store) GetPrediction(ctx context.Context, id string) (domain.PredictionRecord, error) {
	rec, err := s.scanPrediction(s.db.QueryRowContext(ctx, selectPrediction+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PredictionRecord{}, domain.ErrNotFound
	}
	return rec, err
}

// Summary aggregates the stored predictions.
func (s *Store) Summary(ctx context.Context) (domain.Summary, error) {
	sum := domain.EmptySummary()

	var (
		avg  sql.NullFloat64
		last sql.NullString
	)
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), AVG(regcdi_value), MAX(created_at) FROM predictions",
	).Scan(&sum.TotalPredictions, &avg, &last); err != nil {
		return sum, fmt.Errorf("summary totals: %w", err)
	}
	sum.AverageRegcdi = avg.Float64
	if last.Valid {
		t, err := parseTime(last.String)
		if err != nil {
			return sum, fmt.Errorf("parse last prediction date: %w", err)
		}
		sum.LastPredictionDate = &t
	}

	rows, err := s.db.QueryContext(ctx, "SELECT severity_level, COUNT(*) FROM predictions GROUP BY severity_level")
	if err != nil {
		return sum, fmt.Errorf("summary distribution: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			level string
			n     int
		)
		if err := rows.Scan(&level, &n); err != nil {
			return sum, err
		}
		sum.DroughtDistribution[domain.SeverityLevel(level)] = n
	}
	return sum, rows.Err()
}
