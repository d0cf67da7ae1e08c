package rulecheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
	}{
		{"error", SeverityError},
		{"ERROR", SeverityError},
		{"fatal", SeverityError},
		{" critical ", SeverityError},
		{"warning", SeverityWarning},
		{"Warn", SeverityWarning},
		{"information", SeverityInfo},
		{"info", SeverityInfo},
		{"hint", SeverityInfo},
		{"whatever", SeverityInfo},
		{"", SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSeverity(tt.in))
		})
	}
}

func TestParseSeverity(t *testing.T) {
	s, ok := ParseSeverity("note")
	assert.True(t, ok)
	assert.Equal(t, SeverityInfo, s)

	s, ok = ParseSeverity("Fatal")
	assert.True(t, ok)
	assert.Equal(t, SeverityError, s)

	_, ok = ParseSeverity("whatever")
	assert.False(t, ok)
}

func TestSeverity_Rank(t *testing.T) {
	assert.Less(t, SeverityError.Rank(), SeverityWarning.Rank())
	assert.Less(t, SeverityWarning.Rank(), SeverityInfo.Rank())
	assert.Equal(t, 0, Severity("fatal").Rank())
}

func TestFindingBuilder(t *testing.T) {
	f := NewFinding(SourceRule, SeverityError, CodeRequired).
		Message("gender is required").
		At("Patient", "Patient.gender").
		Entry(2).
		Rule("pat-gender").
		Evidence("<missing>").
		Build()

	assert.Equal(t, SourceRule, f.Source)
	assert.Equal(t, "Patient", f.ResourceType)
	assert.Equal(t, "Patient.gender", f.Path)
	assert.Equal(t, "pat-gender", f.RuleID)
	assert.Equal(t, 2, f.EntryIndex)
	assert.True(t, f.IsError())
	assert.Equal(t, "error: gender is required at Patient.gender", f.String())
}

func TestNewFinding_DefaultsToBundleEntry(t *testing.T) {
	f := NewFinding(SourceStructural, SeverityWarning, CodeStructure).Message("m").Build()
	assert.Equal(t, -1, f.EntryIndex)
	assert.False(t, f.IsError())
	assert.Equal(t, "warning: m", f.String())
}
