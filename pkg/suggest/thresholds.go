package suggest

import (
	"errors"
	"fmt"
)

// Thresholds tune candidate generation and scoring.
type Thresholds struct {
	// RequiredCoverage is the fraction of resources that must carry a path
	// for a Required (or ArrayLength) candidate.
	RequiredCoverage float64 `mapstructure:"required_coverage" yaml:"requiredCoverage"`

	// AllowedValuesMaxDistinct caps the distinct values of an AllowedValues
	// candidate.
	AllowedValuesMaxDistinct int `mapstructure:"allowed_values_max_distinct" yaml:"allowedValuesMaxDistinct"`

	// AllowedValuesMaxRatio caps distinct values relative to occurrences.
	AllowedValuesMaxRatio float64 `mapstructure:"allowed_values_max_ratio" yaml:"allowedValuesMaxRatio"`

	// AllowedValuesMinCoverage is the coverage an AllowedValues candidate
	// needs.
	AllowedValuesMinCoverage float64 `mapstructure:"allowed_values_min_coverage" yaml:"allowedValuesMinCoverage"`

	// FormatConsistency is the share of values that must share one format
	// signature for a Regex candidate.
	FormatConsistency float64 `mapstructure:"format_consistency" yaml:"formatConsistency"`

	// MinOccurrences is the fewest observations any candidate is built
	// from. Values seen fewer times count as outliers.
	MinOccurrences int `mapstructure:"min_occurrences" yaml:"minOccurrences"`

	// SampleRetention bounds the distinct values kept per path.
	SampleRetention int `mapstructure:"sample_retention" yaml:"sampleRetention"`

	// EvidenceLimit bounds the evidence attached to a suggestion.
	EvidenceLimit int `mapstructure:"evidence_limit" yaml:"evidenceLimit"`

	// SampleSizeSaturation is the sample size at which the sample size
	// score reaches its maximum.
	SampleSizeSaturation int `mapstructure:"sample_size_saturation" yaml:"sampleSizeSaturation"`

	// ExcludePaths are resource-relative paths that are never profiled,
	// with their children.
	ExcludePaths []string `mapstructure:"exclude_paths" yaml:"excludePaths"`
}

// DefaultThresholds returns the default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RequiredCoverage:         0.9,
		AllowedValuesMaxDistinct: 10,
		AllowedValuesMaxRatio:    0.5,
		AllowedValuesMinCoverage: 0.8,
		FormatConsistency:        0.9,
		MinOccurrences:           2,
		SampleRetention:          200,
		EvidenceLimit:            5,
		SampleSizeSaturation:     50,
		ExcludePaths:             []string{"id", "meta", "text", "resourceType"},
	}
}

// Validate checks that every threshold is in range.
func (t Thresholds) Validate() error {
	var errs []error
	fraction := func(name string, v float64) {
		if v <= 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be in (0, 1], got %g", name, v))
		}
	}
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	fraction("requiredCoverage", t.RequiredCoverage)
	fraction("allowedValuesMaxRatio", t.AllowedValuesMaxRatio)
	fraction("allowedValuesMinCoverage", t.AllowedValuesMinCoverage)
	fraction("formatConsistency", t.FormatConsistency)
	positive("allowedValuesMaxDistinct", t.AllowedValuesMaxDistinct)
	positive("minOccurrences", t.MinOccurrences)
	positive("sampleRetention", t.SampleRetention)
	positive("evidenceLimit", t.EvidenceLimit)
	positive("sampleSizeSaturation", t.SampleSizeSaturation)
	if t.AllowedValuesMaxDistinct > t.SampleRetention {
		errs = append(errs, fmt.Errorf("allowedValuesMaxDistinct %d exceeds sampleRetention %d",
			t.AllowedValuesMaxDistinct, t.SampleRetention))
	}
	return errors.Join(errs...)
}
