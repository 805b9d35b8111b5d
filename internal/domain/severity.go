package domain

import "math"

// SeverityLevel is the machine key of a drought severity bucket.
type SeverityLevel string

const (
	LevelNoDrought SeverityLevel = "no_drought"
	LevelMild      SeverityLevel = "mild"
	LevelModerate  SeverityLevel = "moderate"
	LevelSevere    SeverityLevel = "severe"
	LevelExtreme   SeverityLevel = "extreme"
)

// Levels lists every severity level from wettest to driest.
var Levels = []SeverityLevel{LevelNoDrought, LevelMild, LevelModerate, LevelSevere, LevelExtreme}

// bucketEdges are the REGCDI values separating adjacent severity buckets.
var bucketEdges = [...]float64{-1.0, -0.5, 0.0, 0.5}

// Category describes one severity bucket.
type Category struct {
	Level       SeverityLevel `json:"level"`
	Label       string        `json:"label"`
	Description string        `json:"description"`
}

// Classification is the outcome of classifying a domain index.
type Classification struct {
	Category
	Confidence float64 `json:"confidence"`
}

// DefaultCategories returns the built-in labels and descriptions.
func DefaultCategories() map[SeverityLevel]Category {
	return map[SeverityLevel]Category{
		LevelNoDrought: {Level: LevelNoDrought, Label: "No Drought", Description: "Normal conditions with adequate water availability"},
		LevelMild:      {Level: LevelMild, Label: "Mild Drought", Description: "Slight water deficit, minimal impact on agriculture"},
		LevelModerate:  {Level: LevelModerate, Label: "Moderate Drought", Description: "Noticeable water shortage, crop stress beginning"},
		LevelSevere:    {Level: LevelSevere, Label: "Severe Drought", Description: "Significant water scarcity, major agricultural impact"},
		LevelExtreme:   {Level: LevelExtreme, Label: "Extreme Drought", Description: "Critical water shortage, widespread agricultural failure"},
	}
}

// Classifier maps REGCDI values to severity categories. It is immutable and
// safe for concurrent use.
type Classifier struct {
	categories map[SeverityLevel]Category
}

// NewClassifier creates a Classifier. labels overrides the default label of
// the given levels; unknown levels and empty labels are ignored.
func NewClassifier(labels map[SeverityLevel]string) *Classifier {
	cats := DefaultCategories()
	for level, label := range labels {
		c, ok := cats[level]
		if !ok || label == "" {
			continue
		}
		c.Label = label
		cats[level] = c
	}
	return &Classifier{categories: cats}
}

// Classify buckets index and attaches the heuristic confidence.
func (c *Classifier) Classify(index float64) Classification {
	return Classification{
		Category:   c.categories[LevelFor(index)],
		Confidence: Confidence(index),
	}
}

// Category returns the category for level.
func (c *Classifier) Category(level SeverityLevel) (Category, bool) {
	cat, ok := c.categories[level]
	return cat, ok
}

// LevelFor returns the severity bucket for a REGCDI value. Edge values belong
// to the higher (wetter) bucket.
func LevelFor(index float64) SeverityLevel {
	switch {
	case index >= 0.5:
		return LevelNoDrought
	case index >= 0.0:
		return LevelMild
	case index >= -0.5:
		return LevelModerate
	case index >= -1.0:
		return LevelSevere
	default:
		return LevelExtreme
	}
}

// Confidence returns min(1, 0.5 + 0.25*d) where d is the distance from index
// to the nearest bucket edge. It is a heuristic proxy, not a calibrated
// probability.
func Confidence(index float64) float64 {
	d := math.Inf(1)
	for _, edge := range bucketEdges {
		d = math.Min(d, math.Abs(index-edge))
	}
	return math.Min(1.0, 0.5+0.25*d)
}
