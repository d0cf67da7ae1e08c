package unify

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rc "github.com/gofhir/rulecheck"
)

func finding(src rc.Source, sev string, code rc.Code, rt, path, rule, msg string, entry int) rc.Finding {
	return rc.NewFinding(src, rc.Severity(sev), code).Message(msg).At(rt, path).Rule(rule).Entry(entry).Build()
}

func sample() []rc.Finding {
	return []rc.Finding{
		finding(rc.SourceRule, "warn", rc.CodeValue, "Patient", "Patient.gender", "r2", "bad gender", 1),
		finding(rc.SourceRule, "ERROR", rc.CodeRequired, "Patient", "Patient.birthDate", "r1", "birthDate is required", 0),
		finding(rc.SourceRule, "fatal", rc.CodeRequired, "Patient", "Patient.birthDate", "r1", "birthDate is required", 3),
		finding(rc.SourceRule, "warning", rc.CodeRequired, "Patient", "Patient.birthDate", "r1", "birthDate is required", 0),
		finding(rc.SourceReference, "error", rc.CodeNotFound, "Observation", "Observation.subject.reference", "", "reference does not resolve", 2),
		finding(rc.SourceStructural, "note", rc.CodeStructure, "Bundle", "Bundle.entry[0].fullUrl", "", "fullUrl missing", 0),
		finding(rc.SourceRule, "error", rc.CodeException, "Observation", "Observation", "r9", "rule r9 could not be evaluated", -1),
		finding(rc.SourceRule, "warning", rc.CodeCodeInvalid, "Observation", "Observation.code.coding[0].code", "r3", "unknown code", 2),
	}
}

func TestBuild(t *testing.T) {
	res := Build(sample(), Options{})

	keys := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		keys = append(keys, e.ResourceType+" "+e.Path+" "+e.RuleID)
	}
	assert.Equal(t, []string{
		"Bundle Bundle.entry[0].fullUrl ",
		"Observation Observation r9",
		"Observation Observation.code.coding[0].code r3",
		"Observation Observation.subject.reference ",
		"Patient Patient.birthDate r1",
		"Patient Patient.gender r2",
	}, keys)

	merged := res.ByRule("r1")
	require.Len(t, merged, 1)
	assert.Equal(t, rc.SeverityError, merged[0].Severity)
	assert.Equal(t, 3, merged[0].Occurrences)
	assert.Equal(t, []int{0, 3}, merged[0].Entries)

	assert.Equal(t, rc.Counts{Error: 3, Warning: 2, Info: 1}, res.Counts)
	assert.False(t, res.Passed)
	assert.Nil(t, res.Errors[1].Entries)
}

func TestBuild_Categories(t *testing.T) {
	res := Build(sample(), Options{})
	got := make(map[string]rc.Category)
	for _, e := range res.Errors {
		got[e.Path] = e.Category
	}
	assert.Equal(t, map[string]rc.Category{
		"Bundle.entry[0].fullUrl":         rc.CategoryStructure,
		"Observation":                     rc.CategoryEvaluation,
		"Observation.code.coding[0].code": rc.CategoryTerminology,
		"Observation.subject.reference":   rc.CategoryReference,
		"Patient.birthDate":               rc.CategoryBusinessRule,
		"Patient.gender":                  rc.CategoryBusinessRule,
	}, got)
}

func TestBuild_SeverityOrderWithinPath(t *testing.T) {
	res := Build([]rc.Finding{
		finding(rc.SourceRule, "information", rc.CodeValue, "Patient", "Patient.name", "a", "info", 0),
		finding(rc.SourceRule, "warning", rc.CodeValue, "Patient", "Patient.name", "z", "warn", 0),
		finding(rc.SourceRule, "error", rc.CodeValue, "Patient", "Patient.name", "m", "err", 0),
		finding(rc.SourceRule, "error", rc.CodeValue, "Patient", "Patient.name", "b", "err", 0),
	}, Options{})

	var order []string
	for _, e := range res.Errors {
		order = append(order, e.RuleID)
	}
	assert.Equal(t, []string{"b", "m", "z", "a"}, order)
}

func TestBuild_StrictMode(t *testing.T) {
	in := []rc.Finding{
		finding(rc.SourceReference, "warning", rc.CodeIncomplete, "Observation", "Observation.subject.reference", "", "external", 0),
		finding(rc.SourceRule, "info", rc.CodeValue, "Patient", "Patient.name", "r", "note", 0),
	}

	lax := Build(in, Options{})
	assert.True(t, lax.Passed)
	assert.Equal(t, rc.Counts{Warning: 1, Info: 1}, lax.Counts)

	strict := Build(in, FromSettings(rc.NewSettings(rc.WithStrictMode(true))))
	assert.False(t, strict.Passed)
	assert.Equal(t, rc.Counts{Error: 1, Info: 1}, strict.Counts)
}

func TestBuild_Empty(t *testing.T) {
	res := Build(nil, Options{})
	assert.True(t, res.Passed)
	assert.NotNil(t, res.Errors)
	assert.Empty(t, res.Errors)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"errors":[]`)
}

func TestBuild_Deterministic(t *testing.T) {
	want, err := json.Marshal(Build(sample(), Options{}))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		in := sample()
		rng.Shuffle(len(in), func(a, b int) { in[a], in[b] = in[b], in[a] })
		got, err := json.Marshal(Build(in, Options{}))
		require.NoError(t, err)
		assert.Equal(t, string(want), string(got))
	}
}

func TestBuild_DoesNotMutateInput(t *testing.T) {
	in := sample()
	Build(in, Options{StrictMode: true})
	assert.Equal(t, rc.Severity("warn"), in[0].Severity)
}
