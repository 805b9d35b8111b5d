package main

import (
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/couchcryptid/drought-forecast-service/internal/domain"
	"github.com/couchcryptid/drought-forecast-service/internal/tabular"
)

type genmockCmd struct {
	Months int    `default:"36" help:"Number of monthly rows to generate."`
	Start  string `default:"2020-01" help:"First month (YYYY-MM)."`
	Seed   uint64 `default:"42" help:"Random seed; equal seeds give identical files."`
	Out    string `short:"o" default:"-" help:"Output file, - for stdout."`
}

func (c *genmockCmd) Run(_ *Globals) error {
	start, err := time.Parse("2006-01", c.Start)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	if c.Months < 0 {
		return fmt.Errorf("--months must be >= 0, got %d", c.Months)
	}

	var w io.Writer = os.Stdout
	if c.Out != "-" {
		f, err := os.Create(c.Out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return writeMock(w, start, c.Months, c.Seed)
}

var mockColumns = append([]string{"date"}, domain.DefaultFeatureNames...)

// writeMock writes months of seasonal synthetic observations with a slow
// wet/dry cycle, so rolling windows span several severity levels.
func writeMock(w io.Writer, start time.Time, months int, seed uint64) error {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rows := make([]map[string]string, months)
	for i := range rows {
		season := math.Sin(2 * math.Pi * float64(i%12) / 12)
		cycle := math.Sin(2 * math.Pi * float64(i) / 40)
		noise := func(sd float64) float64 { return rng.NormFloat64() * sd }

		rainfall := math.Max(0, 70+55*season+35*cycle+noise(15))
		spi := clamp(1.2*cycle+noise(0.3), -3, 3)
		m := domain.MonthlyFeatures{
			RainfallMM:   rainfall,
			TmaxC:        29 - 3*season - 1.5*cycle + noise(0.8),
			TminC:        16 - 2*season + noise(0.6),
			SPEI:         clamp(spi-0.2+noise(0.2), -3, 3),
			SPI:          spi,
			NDVI:         clamp(0.45+0.15*season+0.12*cycle+noise(0.03), 0, 1),
			SoilMoisture: clamp(28+10*season+8*cycle+noise(2), 0, 100),
		}

		row := map[string]string{"date": start.AddDate(0, i, 0).Format("2006-01-02")}
		for name, v := range m.Record() {
			row[name] = strconv.FormatFloat(v, 'f', 3, 64)
		}
		rows[i] = row
	}
	return tabular.WriteCSV(w, mockColumns, rows)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
