package suggest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/pkg/bundle"
	"github.com/gofhir/rulecheck/pkg/logger"
	"github.com/gofhir/rulecheck/pkg/rules"
)

func observations(t *testing.T, statuses ...string) []*bundle.Bundle {
	t.Helper()
	var out []*bundle.Bundle
	for i, status := range statuses {
		data := fmt.Sprintf(`{"resourceType":"Bundle","type":"collection","entry":[
			{"fullUrl":"urn:uuid:o%d","resource":{"resourceType":"Observation","id":"o%d","status":%q,
				"code":{"coding":[{"system":"http://loinc.org","code":"%d-%d"}]}}}]}`,
			i, i, status, 8860+i, i%10)
		b, err := bundle.Parse([]byte(data))
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(append([]Option{WithLogger(logger.Nop())}, opts...)...)
	require.NoError(t, err)
	return e
}

func find(out []Suggestion, t rules.Type, target string) *Suggestion {
	for i := range out {
		if out[i].RuleType == t && out[i].TargetPath == target {
			return &out[i]
		}
	}
	return nil
}

func TestProfile_CodeSystem(t *testing.T) {
	out, err := newEngine(t).Profile(context.Background(), observations(t, repeat("final", 10)...))
	require.NoError(t, err)
	require.NotEmpty(t, out)

	top := out[0]
	assert.Equal(t, rules.TypeCodeSystem, top.RuleType)
	assert.Equal(t, "Observation", top.ResourceType)
	assert.Equal(t, "Observation.code.coding", top.TargetPath)
	assert.Equal(t, 100.0, top.Coverage)
	assert.Equal(t, 10, top.SampleSize)
	assert.Equal(t, LevelHigh, top.Level)
	assert.InDelta(t, 82.2, top.Score.Total, 0.001)
	assert.Equal(t, "http://loinc.org", top.Params.(*rules.CodeSystemParams).System)
	assert.Len(t, top.Evidence, 5)
	assert.Equal(t, "http://loinc.org|8860-0", top.Evidence[0])
}

func TestProfile_Candidates(t *testing.T) {
	out, err := newEngine(t).Profile(context.Background(), observations(t, repeat("final", 10)...))
	require.NoError(t, err)

	re := find(out, rules.TypeRegex, "Observation.code.coding.code")
	require.NotNil(t, re)
	assert.Equal(t, `^[0-9]{4}-[0-9]$`, re.Params.(*rules.RegexParams).Pattern)
	assert.Equal(t, LevelMedium, re.Level)

	av := find(out, rules.TypeAllowedValues, "Observation.status")
	require.NotNil(t, av)
	assert.Equal(t, []string{"final"}, av.Params.(*rules.AllowedValuesParams).Values)

	assert.NotNil(t, find(out, rules.TypeRequired, "Observation.code"))
	assert.NotNil(t, find(out, rules.TypeArrayLength, "Observation.code.coding"))

	assert.Nil(t, find(out, rules.TypeAllowedValues, "Observation.code.coding.code"), "too many distinct codes")
	assert.Nil(t, find(out, rules.TypeRequired, "Observation.id"), "excluded path")

	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].Score.Total, out[i].Score.Total)
	}
}

func TestProfile_ConflictPenalty(t *testing.T) {
	statuses := append(repeat("final", 8), "amended", "preliminary")
	out, err := newEngine(t).Profile(context.Background(), observations(t, statuses...))
	require.NoError(t, err)

	av := find(out, rules.TypeAllowedValues, "Observation.status")
	require.NotNil(t, av)
	assert.Equal(t, []string{"amended", "final", "preliminary"}, av.Params.(*rules.AllowedValuesParams).Values)
	assert.Equal(t, 12.0, av.Score.ConflictPenalty)
	assert.Equal(t, 20.0, av.Score.Consistency)
	assert.Equal(t, LevelLow, av.Level)
}

func TestProfile_Idempotent(t *testing.T) {
	samples := observations(t, "final", "final", "amended", "final", "final", "final")
	e := newEngine(t)

	first, err := e.Profile(context.Background(), samples)
	require.NoError(t, err)
	second, err := e.Profile(context.Background(), samples)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	serial, err := newEngine(t, WithWorkers(1)).Profile(context.Background(), samples)
	require.NoError(t, err)
	assert.Equal(t, first, serial)
}

func TestProfile_Bounds(t *testing.T) {
	data := `{"resourceType":"Bundle","type":"collection","entry":[
		{"fullUrl":"urn:uuid:1","resource":{"resourceType":"Patient","gender":"male","name":[{"family":"Ng"}],"birthDate":"1970-01-01"}},
		{"fullUrl":"urn:uuid:2","resource":{"resourceType":"Patient","gender":"female","name":[],"birthDate":"1980-02-02"}},
		{"fullUrl":"urn:uuid:3","resource":{"resourceType":"Patient","gender":"other","deceasedBoolean":false}},
		{"fullUrl":"urn:uuid:4","resource":{"resourceType":"Patient","gender":"male","name":[{"family":"O'Hara"}],"birthDate":"1990"}}
	]}`
	b, err := bundle.Parse([]byte(data))
	require.NoError(t, err)

	out, err := newEngine(t).Profile(context.Background(), []*bundle.Bundle{b, nil, b})
	require.NoError(t, err)
	require.NotEmpty(t, out)
	for _, s := range out {
		assert.GreaterOrEqual(t, s.Score.Total, 0.0, s.TargetPath)
		assert.LessOrEqual(t, s.Score.Total, 100.0, s.TargetPath)
		assert.LessOrEqual(t, s.Score.Coverage, float64(maxCoverage))
		assert.LessOrEqual(t, s.Score.Consistency, float64(maxConsistency))
		assert.LessOrEqual(t, s.Score.SampleSize, float64(maxSampleSize))
		assert.LessOrEqual(t, s.Score.ConflictPenalty, float64(maxPenalty))
		assert.Equal(t, LevelFor(s.Score.Total), s.Level)
	}
}

func TestProfile_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newEngine(t).Profile(ctx, observations(t, "final", "final"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassify(t *testing.T) {
	got, err := newEngine(t).Classify(context.Background(), observations(t, repeat("final", 10)...))
	require.NoError(t, err)

	byPath := make(map[string]Classification)
	for _, c := range got {
		byPath[c.Path] = c
	}
	coding := byPath["Observation.code.coding"]
	assert.True(t, coding.IsArray)
	assert.True(t, coding.HasSystemAndCode)
	assert.Equal(t, TypeObject, coding.PrimitiveType)

	code := byPath["Observation.code.coding.code"]
	assert.Equal(t, TypeCode, code.PrimitiveType)
	assert.Equal(t, 10, code.DistinctValueCount)
	assert.True(t, code.HasConsistentFormat)
	assert.Len(t, code.Samples, 5)

	assert.False(t, byPath["Observation.status"].HasConsistentFormat)
	assert.NotContains(t, byPath, "Observation.id")
}

func TestScore(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name  string
		typ   rules.Type
		ev    evidence
		total float64
		level Level
	}{
		{"perfect code system", rules.TypeCodeSystem, evidence{coverage: 1, consistency: 1, sampleSize: 10, observations: 10}, 82.2, LevelHigh},
		{"saturated", rules.TypeRequired, evidence{coverage: 1, consistency: 1, sampleSize: 500, observations: 500}, 85, LevelHigh},
		{"single outlier is free", rules.TypeRegex, evidence{coverage: 1, consistency: 0.9, sampleSize: 50, outliers: 1, observations: 10}, 78.5, LevelMedium},
		{"penalty capped", rules.TypeRegex, evidence{coverage: 0.2, consistency: 0.1, sampleSize: 1, outliers: 9, observations: 10}, 0, LevelLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := score(tt.typ, tt.ev, th)
			assert.InDelta(t, tt.total, b.Total, 0.001)
			assert.Equal(t, tt.level, LevelFor(b.Total))
		})
	}
}

func TestSignature(t *testing.T) {
	key, runs, ok := signature("8867-4")
	require.True(t, ok)
	assert.Equal(t, "9 '- 9", key)
	assert.Len(t, runs, 3)

	sh := newShape(runs)
	_, other, _ := signature("12345-6")
	sh.add(other, 1)
	assert.Equal(t, `^[0-9]{4,5}-[0-9]$`, sh.regex())

	_, runs, _ = signature("AB.1")
	assert.Equal(t, `^[A-Za-z]{2}\.[0-9]$`, newShape(runs).regex())

	_, _, ok = signature("")
	assert.False(t, ok)
	_, _, ok = signature("a-b-c-d-e-f-g")
	assert.False(t, ok)
}

func TestThresholds_Validate(t *testing.T) {
	require.NoError(t, DefaultThresholds().Validate())

	th := DefaultThresholds()
	th.RequiredCoverage = 1.5
	th.MinOccurrences = 0
	th.AllowedValuesMaxDistinct = 500
	err := th.Validate()
	require.Error(t, err)
	for _, want := range []string{"requiredCoverage", "minOccurrences", "exceeds sampleRetention"} {
		assert.Contains(t, err.Error(), want)
	}

	_, err = NewEngine(WithThresholds(th))
	assert.ErrorContains(t, err, "invalid thresholds")
}

func TestExport(t *testing.T) {
	out, err := newEngine(t).Profile(context.Background(), observations(t, repeat("final", 10)...))
	require.NoError(t, err)

	data, err := Export(out, LevelMedium)
	require.NoError(t, err)
	set, err := rules.Load(data)
	require.NoError(t, err)

	cs, ok := set.Get("observation-code-coding-code-system")
	require.True(t, ok, string(data))
	assert.Equal(t, rc.SeverityError, cs.Severity)
	assert.Equal(t, "Observation.code.coding", cs.TargetPath.String())
	assert.Equal(t, "http://loinc.org", cs.Params.(*rules.CodeSystemParams).System)

	re, ok := set.Get("observation-code-coding-code-regex")
	require.True(t, ok)
	assert.Equal(t, rc.SeverityWarning, re.Severity)

	for _, r := range set.Rules() {
		assert.False(t, strings.HasSuffix(r.ID, "-2"), r.ID)
	}

	high, err := Export(out, LevelHigh)
	require.NoError(t, err)
	set, err = rules.Load(high)
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
}

func TestToRule(t *testing.T) {
	s := Suggestion{
		RuleType:     rules.TypeArrayLength,
		ResourceType: "MedicationRequest",
		TargetPath:   "MedicationRequest.dosageInstruction",
		Params:       &rules.ArrayLengthParams{NonEmpty: true},
		Level:        LevelLow,
	}
	r, err := s.ToRule()
	require.NoError(t, err)
	assert.Equal(t, "medication-request-dosage-instruction-array-length", r.ID)
	assert.Equal(t, rc.SeverityWarning, r.Severity)
	assert.NotSame(t, s.Params, r.Params)

	s.Params = &rules.FixedValueParams{Value: "x"}
	_, err = s.ToRule()
	assert.Error(t, err)
}
