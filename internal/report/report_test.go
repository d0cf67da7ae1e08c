package report_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/internal/report"
	"github.com/gofhir/rulecheck/pkg/rules"
	"github.com/gofhir/rulecheck/pkg/suggest"
	"github.com/gofhir/rulecheck/pkg/worker"
)

func sampleBatch() *worker.BatchResult {
	return &worker.BatchResult{Results: []*worker.JobResult{
		{Name: "ok.json", Result: &rc.Result{Passed: true, Errors: []rc.UnifiedError{}}},
		{Name: "bad.json", Result: &rc.Result{
			Errors: []rc.UnifiedError{{
				Source: rc.SourceRule, Category: rc.CategoryBusinessRule, Severity: rc.SeverityError,
				Path: "Patient.gender", RuleID: "patient-gender", Message: "Patient.gender is required", Occurrences: 2,
			}, {
				Source: rc.SourceReference, Category: rc.CategoryReference, Severity: rc.SeverityWarning,
				Path: "Observation.subject", Message: "external reference", Evidence: "http://x/Patient/1", Occurrences: 1,
			}},
			Counts: rc.Counts{Error: 1, Warning: 1},
		}},
		{Name: "broken.json", Err: errors.New("parsing bundle: unexpected EOF")},
	}}
}

func TestRenderBatch(t *testing.T) {
	out := report.RenderBatch(sampleBatch())

	for _, want := range []string{
		"ok.json", "bad.json", "broken.json",
		"Patient.gender", "rule patient-gender", "x2",
		"value http://x/Patient/1", "parsing bundle: unexpected EOF",
		"3 files, 1 passed, 2 failed, 1 errors",
	} {
		assert.Contains(t, out, want)
	}
}

func TestFromBatch_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, report.JSON(&buf, report.FromBatch(sampleBatch())))

	var doc report.Batch
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, report.Summary{Files: 3, Passed: 1, Failed: 2, Errors: 1}, doc.Summary)
	require.Len(t, doc.Files, 3)
	assert.Equal(t, "broken.json", doc.Files[2].Name)
	assert.Nil(t, doc.Files[2].Result)
	assert.Equal(t, "Patient.gender", doc.Files[1].Result.Errors[0].Path)
}

func TestRenderSuggestions(t *testing.T) {
	out := report.RenderSuggestions([]suggest.Suggestion{{
		RuleType:     rules.TypeCodeSystem,
		ResourceType: "Observation",
		TargetPath:   "Observation.code.coding",
		Score:        suggest.Breakdown{Total: 82.2},
		Level:        suggest.LevelHigh,
		Rationale:    "10 of 10 codings use http://loinc.org",
		SampleSize:   10,
		Coverage:     100,
	}})

	for _, want := range []string{"Rule suggestions", "(1)", "82.20", "High", "CodeSystem", "Observation.code.coding", "coverage 100%", "10 samples"} {
		assert.Contains(t, out, want)
	}
}
