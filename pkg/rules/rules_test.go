package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/pkg/path"
)

const sampleYAML = `
rules:
  - id: patient-gender
    type: Required
    resourceType: Patient
    targetPath: Patient.gender
    severity: error
    message: Gender is mandatory
  - id: patient-mrn
    type: regex
    resourceType: Patient
    targetPath: identifier.value
    severity: warning
    params:
      pattern: "^[0-9]{6}$"
  - id: obs-status
    type: allowed-values
    resourceType: Observation
    targetPath: status
    severity: error
    params:
      values: [final, amended]
  - id: obs-code
    type: CodeSystem
    resourceType: Observation
    targetPath: code.coding
    severity: error
    params:
      system: http://loinc.org
  - id: obs-category
    type: ArrayLength
    resourceType: Observation
    targetPath: category
    severity: error
    params:
      min: 1
      max: 3
`

func TestLoad_YAML(t *testing.T) {
	set, err := NewLoader(0).Load([]byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, 5, set.Len())

	r, ok := set.Get("patient-mrn")
	require.True(t, ok)
	assert.Equal(t, TypeRegex, r.Type)
	assert.Equal(t, rc.SeverityWarning, r.Severity)
	assert.Equal(t, "Patient.identifier.value", r.TargetPath.String())
	re := r.Params.(*RegexParams)
	assert.True(t, re.MatchString("123456"))
	assert.False(t, re.MatchString("12a456"))

	av, _ := set.Get("obs-status")
	assert.True(t, av.Params.(*AllowedValuesParams).Allows("final"))
	assert.False(t, av.Params.(*AllowedValuesParams).Allows("Final"))

	al, _ := set.Get("obs-category")
	p := al.Params.(*ArrayLengthParams)
	assert.Empty(t, p.Violation(1))
	assert.NotEmpty(t, p.Violation(0))
	assert.NotEmpty(t, p.Violation(4))

	assert.Len(t, set.ForResourceType("Observation"), 3)
	assert.Len(t, set.ForResourceType("Encounter"), 0)

	g, _ := set.Get("patient-gender")
	assert.Equal(t, "Gender is mandatory", g.MessageOr("fallback"))
}

func TestLoad_DecimalsKeepPrecision(t *testing.T) {
	set, err := Load([]byte(`
- {id: fv, type: FixedValue, resourceType: Observation, targetPath: valueQuantity.value, severity: error, params: {value: 1.50}}
- {id: n, type: FixedValue, resourceType: Observation, targetPath: valueInteger, severity: error, params: {value: 7}}
- {id: qa, type: QuestionAnswer, resourceType: QuestionnaireResponse, targetPath: item, severity: error, params: {value: dose, constraint: {fixedValue: 2.0}}}
- {id: res, type: Resource, resourceType: Observation, severity: error, params: {allOf: [code], when: {path: valueQuantity.value, equals: 0.10}}}
`))
	require.NoError(t, err)

	fv, _ := set.Get("fv")
	assert.Equal(t, "1.50", fv.Params.(*FixedValueParams).Text())
	n, _ := set.Get("n")
	assert.Equal(t, "7", n.Params.(*FixedValueParams).Text())
	qa, _ := set.Get("qa")
	assert.Equal(t, "2.0", qa.Params.(*QuestionAnswerParams).Inner().(*FixedValueParams).Text())
	res, _ := set.Get("res")
	want, exact := res.Params.(*ResourceParams).When.Expected()
	assert.True(t, exact)
	assert.Equal(t, "0.10", want)
}

func TestLoad_JSONList(t *testing.T) {
	data := `[
	  {"id": "fv", "type": "FixedValue", "resourceType": "Patient", "targetPath": "active", "severity": "error", "params": {"value": true}},
	  {"id": "res", "type": "Resource", "resourceType": "Patient", "severity": "info", "params": {"anyOf": ["telecom", "address"], "when": {"path": "active", "equals": true}}}
	]`
	set, err := NewLoader(0).Load([]byte(data))
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	fv, _ := set.Get("fv")
	assert.Equal(t, "true", fv.Params.(*FixedValueParams).Text())

	res, _ := set.Get("res")
	assert.True(t, res.TargetPath.IsRoot())
	assert.Equal(t, rc.SeverityInfo, res.Severity)
	rp := res.Params.(*ResourceParams)
	require.Len(t, rp.AnyOfPaths(), 2)
	assert.Equal(t, "Patient.telecom", rp.AnyOfPaths()[0].String())
	want, ok := rp.When.Expected()
	assert.True(t, ok)
	assert.Equal(t, "true", want)
}

func TestLoad_Empty(t *testing.T) {
	for _, doc := range []string{"", "rules: []", "[]"} {
		set, err := Load([]byte(doc))
		require.NoError(t, err, doc)
		assert.Zero(t, set.Len(), doc)
	}
}

func TestLoad_DocumentErrors(t *testing.T) {
	for _, doc := range []string{"rules: 3", "other: []", "just text", "{unterminated"} {
		_, err := Load([]byte(doc))
		assert.Error(t, err, doc)
		var le *LoadError
		assert.False(t, errors.As(err, &le), doc)
	}
}

func TestLoad_ItemErrors(t *testing.T) {
	tests := []struct {
		name   string
		rule   string
		reason string
	}{
		{"unknown type", `{id: a, type: Bogus, resourceType: Patient, targetPath: gender, severity: error}`, "unknown rule type"},
		{"missing type", `{id: a, resourceType: Patient, targetPath: gender, severity: error}`, "type is required"},
		{"bad severity", `{id: a, type: Required, resourceType: Patient, targetPath: gender, severity: bogus}`, "unknown severity"},
		{"missing severity", `{id: a, type: Required, resourceType: Patient, targetPath: gender}`, "severity is required"},
		{"missing id", `{type: Required, resourceType: Patient, targetPath: gender, severity: error}`, "id is required"},
		{"missing resource type", `{id: a, type: Required, targetPath: gender, severity: error}`, "resourceType is required"},
		{"missing path", `{id: a, type: Required, resourceType: Patient, severity: error}`, "targetPath is required"},
		{"wrong root", `{id: a, type: Required, resourceType: Patient, targetPath: Observation.status, severity: error}`, "rooted at Observation"},
		{"unknown field", `{id: a, type: Required, resourceType: Patient, targetPath: gender, severity: error, colour: red}`, "colour"},
		{"unknown param", `{id: a, type: Regex, resourceType: Patient, targetPath: gender, severity: error, params: {pattern: x, flags: i}}`, "flags"},
		{"bad regex", `{id: a, type: Regex, resourceType: Patient, targetPath: gender, severity: error, params: {pattern: "("}}`, "does not compile"},
		{"empty values", `{id: a, type: AllowedValues, resourceType: Patient, targetPath: gender, severity: error, params: {values: []}}`, "values must not be empty"},
		{"composite fixed", `{id: a, type: FixedValue, resourceType: Patient, targetPath: gender, severity: error, params: {value: [1]}}`, "must be a scalar"},
		{"min above max", `{id: a, type: ArrayLength, resourceType: Patient, targetPath: name, severity: error, params: {min: 3, max: 1}}`, "exceeds max"},
		{"no bounds", `{id: a, type: ArrayLength, resourceType: Patient, targetPath: name, severity: error}`, "one of min, max or nonEmpty"},
		{"two constraints", `{id: a, type: QuestionAnswer, resourceType: QuestionnaireResponse, targetPath: item, severity: error, params: {value: q1, constraint: {regex: x, fixedValue: y}}}`, "exactly one of regex"},
		{"both resource forms", `{id: a, type: Resource, resourceType: Patient, severity: error, params: {expression: "name.exists()", allOf: [name]}}`, "exactly one of expression"},
		{"bad expression", `{id: a, type: Resource, resourceType: Patient, severity: error, params: {expression: "name.where("}}`, "expression does not compile"},
		{"bad unknown system", `{id: a, type: CodeSystem, resourceType: Patient, targetPath: maritalStatus.coding, severity: error, params: {unknownSystem: loud}}`, "unknownSystem"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(0).Load([]byte("- " + tt.rule))
			var le *LoadError
			require.ErrorAs(t, err, &le)
			require.Len(t, le.Items, 1)
			assert.Equal(t, 0, le.Items[0].Index)
			assert.Contains(t, le.Items[0].Reason, tt.reason)
		})
	}
}

func TestLoad_ReportsEveryOffendingRule(t *testing.T) {
	doc := `
- {id: ok, type: Required, resourceType: Patient, targetPath: gender, severity: error}
- {id: bad, type: Nope, resourceType: Patient, targetPath: gender, severity: error}
- {id: ok, type: Required, resourceType: Patient, targetPath: birthDate, severity: error}
- {id: re, type: Regex, resourceType: Patient, targetPath: gender, severity: error, params: {pattern: "["}}
`
	_, err := Load([]byte(doc))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	require.Len(t, le.Items, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{le.Items[0].Index, le.Items[1].Index, le.Items[2].Index})
	assert.Equal(t, "duplicate rule id", le.Items[1].Reason)
	assert.Equal(t, "ok", le.Items[1].RuleID)
	assert.Contains(t, err.Error(), "3 rejected")
}

func TestLoad_QuestionAnswerDefaults(t *testing.T) {
	doc := `
- id: qa
  type: QuestionAnswer
  resourceType: QuestionnaireResponse
  targetPath: item
  severity: error
  params:
    value: smoker
    constraint:
      allowedValues: [yes, no]
      caseInsensitive: true
`
	set, err := Load([]byte(doc))
	require.NoError(t, err)
	r, _ := set.Get("qa")
	qa := r.Params.(*QuestionAnswerParams)
	assert.Equal(t, "linkId", qa.DiscriminatorPath().String())
	assert.Equal(t, "answer.value", qa.AnswerPath().String())
	inner, ok := qa.Inner().(*AllowedValuesParams)
	require.True(t, ok)
	assert.True(t, inner.Allows("YES"))
}

func TestLoadFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(name, []byte(sampleYAML), 0o600))
	set, err := LoadFile(name)
	require.NoError(t, err)
	assert.Equal(t, 5, set.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewRuleSet(t *testing.T) {
	set, err := NewRuleSet(
		Rule{ID: "g", Type: TypeRequired, ResourceType: "Patient", TargetPath: path.MustParse("gender"), Severity: "ERROR"},
		Rule{ID: "v", Type: TypeRegex, ResourceType: "Patient", TargetPath: path.MustParse("id"), Severity: rc.SeverityWarning, Params: &RegexParams{Pattern: "^a"}},
	)
	require.NoError(t, err)
	g, _ := set.Get("g")
	assert.Equal(t, rc.SeverityError, g.Severity)
	assert.Equal(t, "Patient.gender", g.TargetPath.String())
	assert.IsType(t, &RequiredParams{}, g.Params)

	_, err = NewRuleSet(Rule{ID: "x", Type: TypeRegex, ResourceType: "Patient", TargetPath: path.MustParse("id"), Severity: rc.SeverityError, Params: &AllowedValuesParams{Values: []string{"a"}}})
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Contains(t, le.Items[0].Reason, "params are AllowedValues")
}

func TestNilRuleSet(t *testing.T) {
	var s *RuleSet
	assert.Zero(t, s.Len())
	assert.Nil(t, s.Rules())
	_, ok := s.Get("x")
	assert.False(t, ok)
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want Type
		ok   bool
	}{
		{"Required", TypeRequired, true},
		{"allowed-values", TypeAllowedValues, true},
		{"ARRAY_LENGTH", TypeArrayLength, true},
		{"question answer", TypeQuestionAnswer, true},
		{"codesystem", TypeCodeSystem, true},
		{"", "", false},
		{"cardinality", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseType(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestCodeSystemParams_UnknownSystem(t *testing.T) {
	tests := []struct {
		in     string
		sev    rc.Severity
		report bool
	}{
		{"", rc.SeverityWarning, true},
		{"error", rc.SeverityError, true},
		{"Ignore", "", false},
	}
	for _, tt := range tests {
		p := &CodeSystemParams{UnknownSystem: tt.in}
		require.NoError(t, p.prepare(NewLoader(1), &Rule{}))
		sev, report := p.UnknownSystemSeverity()
		assert.Equal(t, tt.report, report, tt.in)
		if tt.report {
			assert.Equal(t, tt.sev, sev, tt.in)
		}
	}
}

func TestLoader_CachesCompiledPatterns(t *testing.T) {
	l := NewLoader(8)
	doc := []byte(`
- {id: a, type: Regex, resourceType: Patient, targetPath: id, severity: error, params: {pattern: "^x"}}
- {id: b, type: Regex, resourceType: Patient, targetPath: gender, severity: error, params: {pattern: "^x"}}
- {id: c, type: Resource, resourceType: Patient, severity: error, params: {expression: "name.exists()"}}
`)
	_, err := l.Load(doc)
	require.NoError(t, err)
	_, err = l.Load(doc)
	require.NoError(t, err)

	re, ex := l.CacheStats()
	assert.Equal(t, 1, re.Size)
	assert.Equal(t, uint64(1), re.Misses)
	assert.Equal(t, uint64(3), re.Hits)
	assert.Equal(t, 1, ex.Size)
	assert.Equal(t, uint64(1), ex.Hits)
}

func TestMarshal_RoundTrip(t *testing.T) {
	set, err := Load([]byte(sampleYAML))
	require.NoError(t, err)

	data, err := Marshal(set.Rules())
	require.NoError(t, err)

	again, err := Load(data)
	require.NoError(t, err)
	require.Equal(t, set.Len(), again.Len())
	for _, r := range set.Rules() {
		got, ok := again.Get(r.ID)
		require.True(t, ok, r.ID)
		assert.Equal(t, r.TargetPath.String(), got.TargetPath.String())
		assert.Equal(t, r.Severity, got.Severity)
		assert.Equal(t, r.Type, got.Type)
	}
}
