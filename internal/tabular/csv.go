// Package tabular reads and writes monthly feature tables as CSV.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/couchcryptid/drought-forecast-service/internal/domain"
)

// ErrEmpty is returned for input without a header row.
var ErrEmpty = errors.New("csv has no header row")

// Table is a parsed CSV: normalized column names and one record per data row.
// Empty cells are left out of their record. Cells that are not numeric are
// kept as NaN, so window validation names the offending column.
type Table struct {
	Columns []string
	Rows    []domain.Record
}

// NormalizeColumn canonicalizes a header cell: it strips a byte order mark,
// applies NFKC, trims whitespace and lowercases.
func NormalizeColumn(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	s = norm.NFKC.String(s)
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeNames applies NormalizeColumn to each configured feature name so a
// schema matches headers regardless of case or stray whitespace.
func NormalizeNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = NormalizeColumn(n)
	}
	return out
}

// ReadCSV parses a CSV with a header row.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = NormalizeColumn(h)
	}

	t := &Table{Columns: columns, Rows: []domain.Record{}}
	for line := 2; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if isBlank(fields) {
			continue
		}
		rec := make(domain.Record, len(columns))
		for i, cell := range fields {
			if i >= len(columns) || columns[i] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				v = math.NaN()
			}
			rec[columns[i]] = v
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

func isBlank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Validate reports the schema columns missing from the header as a
// *domain.SchemaError. Header cells are normalized by ReadCSV; schema names
// are normalized when the schema is built (see NormalizeNames).
func (t *Table) Validate(schema *domain.Schema) error {
	if missing := schema.Missing(t.Columns); len(missing) > 0 {
		return &domain.SchemaError{Missing: missing, Row: -1}
	}
	return nil
}

// WriteCSV writes rows with the given columns in order. Columns absent from a
// record are written as empty cells.
func WriteCSV(w io.Writer, columns []string, rows []map[string]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	buf := make([]string, len(columns))
	for _, row := range rows {
		for i, c := range columns {
			buf[i] = row[c]
		}
		if err := cw.Write(buf); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
