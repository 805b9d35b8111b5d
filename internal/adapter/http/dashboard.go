package http

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/couchcryptid/drought-forecast-service/internal/domain"
)

//go:embed templates/*
var templateFS embed.FS

const dashboardRecent = 20

// severityColors are the dashboard colours per severity level.
var severityColors = map[domain.SeverityLevel]string{
	domain.LevelNoDrought: "#32CD32",
	domain.LevelMild:      "#FFD700",
	domain.LevelModerate:  "#FFA500",
	domain.LevelSevere:    "#FF4500",
	domain.LevelExtreme:   "#8B0000",
}

const unknownColor = "#808080"

func severityColor(level domain.SeverityLevel) string {
	if c, ok := severityColors[level]; ok {
		return c
	}
	return unknownColor
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(total)
}

type dashboardRenderer struct {
	tmpl *template.Template
}

func newDashboardRenderer() *dashboardRenderer {
	funcs := template.FuncMap{
		"color":  severityColor,
		"pct":    percent,
		"mul100": func(f float64) float64 { return 100 * f },
		"ts":     func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04 MST") },
	}
	return &dashboardRenderer{
		tmpl: template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html")),
	}
}

type distributionRow struct {
	Level domain.SeverityLevel
	Label string
	Count int
}

type dashboardData struct {
	GeneratedAt  time.Time
	ModelLoaded  bool
	ModelVersion string
	Summary      domain.Summary
	Distribution []distributionRow
	Recent       []domain.PredictionRecord
}

// distribution lists every level, wettest first, including empty buckets.
func distribution(summary domain.Summary) []distributionRow {
	labels := domain.DefaultCategories()
	rows := make([]distributionRow, 0, len(domain.Levels))
	for _, level := range domain.Levels {
		rows = append(rows, distributionRow{
			Level: level,
			Label: labels[level].Label,
			Count: summary.DroughtDistribution[level],
		})
	}
	return rows
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Recorder.Summary(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	recent, err := s.deps.Recorder.Recent(r.Context(), r.URL.Query().Get("location"), dashboardRecent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	info := s.deps.Predictor.ModelInfo()
	data := dashboardData{
		GeneratedAt:  s.deps.Clock.Now(),
		ModelLoaded:  info.Loaded,
		ModelVersion: info.ModelVersion,
		Summary:      summary,
		Distribution: distribution(summary),
		Recent:       recent,
	}

	var buf bytes.Buffer
	if err := s.dashboard.tmpl.ExecuteTemplate(&buf, "dashboard.html", data); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
