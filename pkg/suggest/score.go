package suggest

import (
	"math"

	"github.com/gofhir/rulecheck/pkg/rules"
)

// Level is the confidence band of a suggestion.
type Level string

const (
	LevelLow    Level = "Low"
	LevelMedium Level = "Medium"
	LevelHigh   Level = "High"
)

// Score component maxima.
const (
	maxCoverage    = 30
	maxConsistency = 25
	maxSampleSize  = 20
	maxPenalty     = 30
)

// riskWeights reflect how costly a wrong suggestion of each type would be;
// cheaper mistakes weigh more.
var riskWeights = map[rules.Type]float64{
	rules.TypeCodeSystem:    15,
	rules.TypeRequired:      10,
	rules.TypeArrayLength:   10,
	rules.TypeAllowedValues: 8,
	rules.TypeRegex:         6,
}

// LevelFor maps a total score to its level: Low below 60, Medium below 80,
// High otherwise.
func LevelFor(total float64) Level {
	switch {
	case total >= 80:
		return LevelHigh
	case total >= 60:
		return LevelMedium
	}
	return LevelLow
}

// Breakdown explains a confidence score.
type Breakdown struct {
	Coverage        float64 `json:"coverageScore" yaml:"coverageScore"`
	Consistency     float64 `json:"consistencyScore" yaml:"consistencyScore"`
	SampleSize      float64 `json:"sampleSizeScore" yaml:"sampleSizeScore"`
	Risk            float64 `json:"riskWeight" yaml:"riskWeight"`
	ConflictPenalty float64 `json:"conflictPenalty" yaml:"conflictPenalty"`
	Total           float64 `json:"totalScore" yaml:"totalScore"`
}

// evidence is the scoring input of one candidate.
type evidence struct {
	// coverage and consistency are fractions in [0, 1].
	coverage    float64
	consistency float64
	sampleSize  int

	// outliers of observations contradict the candidate.
	outliers     int
	observations int
}

func score(t rules.Type, ev evidence, th Thresholds) Breakdown {
	b := Breakdown{
		Coverage:    maxCoverage * clamp01(ev.coverage),
		Consistency: maxConsistency * clamp01(ev.consistency),
		Risk:        riskWeights[t],
	}
	if ev.sampleSize > 0 {
		b.SampleSize = maxSampleSize * math.Min(1, math.Log1p(float64(ev.sampleSize))/math.Log1p(float64(th.SampleSizeSaturation)))
	}
	if ev.outliers >= 2 && ev.observations > 0 {
		b.ConflictPenalty = math.Min(maxPenalty, 60*float64(ev.outliers)/float64(ev.observations))
	}
	total := b.Coverage + b.Consistency + b.SampleSize + b.Risk - b.ConflictPenalty
	b.Total = round2(math.Max(0, math.Min(100, total)))

	b.Coverage = round2(b.Coverage)
	b.Consistency = round2(b.Consistency)
	b.SampleSize = round2(b.SampleSize)
	b.ConflictPenalty = round2(b.ConflictPenalty)
	return b
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
