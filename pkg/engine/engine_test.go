package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/pkg/bundle"
	"github.com/gofhir/rulecheck/pkg/codemaster"
	"github.com/gofhir/rulecheck/pkg/logger"
	"github.com/gofhir/rulecheck/pkg/model"
	"github.com/gofhir/rulecheck/pkg/path"
	"github.com/gofhir/rulecheck/pkg/rules"
)

func parseBundle(t *testing.T, resources ...string) *bundle.Bundle {
	t.Helper()
	data := `{"resourceType":"Bundle","type":"collection","entry":[`
	for i, r := range resources {
		if i > 0 {
			data += ","
		}
		data += `{"resource":` + r + `}`
	}
	data += `]}`
	b, err := bundle.Parse([]byte(data))
	require.NoError(t, err)
	return b
}

func loadRules(t *testing.T, doc string) *rules.RuleSet {
	t.Helper()
	set, err := rules.Load([]byte(doc))
	require.NoError(t, err)
	return set
}

func newEngine(opts ...Option) *Engine {
	return New(append([]Option{WithLogger(logger.Nop())}, opts...)...)
}

func TestEvaluate_Required(t *testing.T) {
	b := parseBundle(t,
		`{"resourceType":"Patient","id":"p1"}`,
		`{"resourceType":"Patient","id":"p2","gender":"female"}`,
		`{"resourceType":"Observation","id":"o1"}`,
	)
	set := loadRules(t, `- {id: gender, type: Required, resourceType: Patient, targetPath: Patient.gender, severity: error}`)

	findings, err := newEngine().Evaluate(context.Background(), b, set, nil)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, "Patient.gender", f.Path)
	assert.Equal(t, "Patient", f.ResourceType)
	assert.Equal(t, "gender", f.RuleID)
	assert.Equal(t, rc.SeverityError, f.Severity)
	assert.Equal(t, rc.CodeRequired, f.Code)
	assert.Equal(t, rc.SourceRule, f.Source)
	assert.Equal(t, 0, f.EntryIndex)
}

func TestEvaluate_ArrayLength(t *testing.T) {
	set := loadRules(t, `- {id: cat, type: ArrayLength, resourceType: Observation, targetPath: category, severity: error, params: {min: 1, nonEmpty: true}}`)

	tests := []struct {
		name     string
		resource string
		fails    bool
	}{
		{"empty array", `{"resourceType":"Observation","category":[]}`, true},
		{"absent", `{"resourceType":"Observation"}`, true},
		{"one element", `{"resourceType":"Observation","category":[{"text":"vital-signs"}]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings, err := newEngine().Evaluate(context.Background(), parseBundle(t, tt.resource), set, nil)
			require.NoError(t, err)
			if tt.fails {
				require.Len(t, findings, 1)
				assert.Equal(t, "Observation.category", findings[0].Path)
				assert.Equal(t, "0", findings[0].Evidence)
			} else {
				assert.Empty(t, findings)
			}
		})
	}
}

func TestEvaluate_ValueRules(t *testing.T) {
	b := parseBundle(t, `{
		"resourceType":"Patient",
		"gender":"unknown",
		"active":false,
		"identifier":[{"value":"123456"},{"value":"12x"}],
		"name":[{"family":"Doe"}]
	}`)

	tests := []struct {
		name  string
		rule  string
		paths []string
	}{
		{"regex", `{id: r, type: Regex, resourceType: Patient, targetPath: identifier.value, severity: error, params: {pattern: "^[0-9]+$"}}`,
			[]string{"Patient.identifier[1].value"}},
		{"allowed values", `{id: r, type: AllowedValues, resourceType: Patient, targetPath: gender, severity: error, params: {values: [male, female]}}`,
			[]string{"Patient.gender"}},
		{"allowed values case insensitive", `{id: r, type: AllowedValues, resourceType: Patient, targetPath: gender, severity: error, params: {values: [UNKNOWN], caseInsensitive: true}}`,
			nil},
		{"fixed boolean", `{id: r, type: FixedValue, resourceType: Patient, targetPath: active, severity: error, params: {value: true}}`,
			[]string{"Patient.active"}},
		{"non primitive", `{id: r, type: FixedValue, resourceType: Patient, targetPath: name, severity: warning, params: {value: x}}`,
			[]string{"Patient.name[0]"}},
		{"absent values pass", `{id: r, type: Regex, resourceType: Patient, targetPath: birthDate, severity: error, params: {pattern: "^x"}}`,
			nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings, err := newEngine().Evaluate(context.Background(), b, loadRules(t, "- "+tt.rule), nil)
			require.NoError(t, err)
			var got []string
			for _, f := range findings {
				got = append(got, f.Path)
			}
			assert.Equal(t, tt.paths, got)
		})
	}
}

func TestEvaluate_CodeSystem(t *testing.T) {
	cm := codemaster.FromMap(map[string][]string{
		"http://loinc.org": {"8867-4"},
	})
	b := parseBundle(t,
		`{"resourceType":"Observation","code":{"coding":[{"system":"http://loinc.org","code":"8867-4"}]}}`,
		`{"resourceType":"Observation","code":{"coding":[{"system":"http://loinc.org","code":"0000-0"}]}}`,
		`{"resourceType":"Observation","code":{"coding":[{"system":"http://snomed.info/sct","code":"1"}]}}`,
		`{"resourceType":"Observation","code":{"coding":[{"code":"8867-4"}]}}`,
	)

	tests := []struct {
		name   string
		params string
		want   map[int]rc.Severity
	}{
		{"default", `{}`, map[int]rc.Severity{1: rc.SeverityError, 2: rc.SeverityWarning, 3: rc.SeverityError}},
		{"ignore unknown system", `{unknownSystem: ignore}`, map[int]rc.Severity{1: rc.SeverityError, 3: rc.SeverityError}},
		{"unknown system is an error", `{unknownSystem: error}`, map[int]rc.Severity{1: rc.SeverityError, 2: rc.SeverityError, 3: rc.SeverityError}},
		{"restricted to loinc", `{system: "http://loinc.org"}`, map[int]rc.Severity{1: rc.SeverityError, 2: rc.SeverityError, 3: rc.SeverityError}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := loadRules(t, `- {id: cs, type: CodeSystem, resourceType: Observation, targetPath: code, severity: error, params: `+tt.params+`}`)
			findings, err := newEngine().Evaluate(context.Background(), b, set, cm)
			require.NoError(t, err)
			got := map[int]rc.Severity{}
			for _, f := range findings {
				got[f.EntryIndex] = f.Severity
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_CodeSystemCodingPath(t *testing.T) {
	cm := codemaster.FromMap(map[string][]string{"http://loinc.org": {"8867-4"}})
	b := parseBundle(t, `{"resourceType":"Observation","code":{"coding":[{"system":"http://loinc.org","code":"8867-4"},{"system":"http://loinc.org","code":"x"}]}}`)
	set := loadRules(t, `- {id: cs, type: CodeSystem, resourceType: Observation, targetPath: code.coding, severity: error}`)

	findings, err := newEngine().Evaluate(context.Background(), b, set, cm)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "Observation.code.coding[1].code", findings[0].Path)
	assert.Equal(t, rc.CodeCodeInvalid, findings[0].Code)
	assert.Equal(t, "http://loinc.org|x", findings[0].Evidence)
}

func TestEvaluate_QuestionAnswer(t *testing.T) {
	b := parseBundle(t, `{
		"resourceType":"QuestionnaireResponse",
		"item":[
			{"linkId":"smoker","answer":[{"valueString":"maybe"}]},
			{"linkId":"age","answer":[{"valueInteger":42}]},
			{"linkId":"group","item":[{"linkId":"smoker","answer":[{"valueString":"yes"}]},{"linkId":"smoker"}]}
		]
	}`)

	tests := []struct {
		name  string
		rule  string
		paths []string
	}{
		{"top level", `{id: q, type: QuestionAnswer, resourceType: QuestionnaireResponse, targetPath: item, severity: error, params: {value: smoker, constraint: {allowedValues: ["yes", "no"]}}}`,
			[]string{"QuestionnaireResponse.item[0].answer[0].valueString"}},
		{"nested with required answer", `{id: q, type: QuestionAnswer, resourceType: QuestionnaireResponse, targetPath: item, severity: error, params: {value: smoker, nested: true, answerRequired: true, constraint: {allowedValues: ["yes", "no"]}}}`,
			[]string{"QuestionnaireResponse.item[0].answer[0].valueString", "QuestionnaireResponse.item[2].item[1].answer.value"}},
		{"fixed integer", `{id: q, type: QuestionAnswer, resourceType: QuestionnaireResponse, targetPath: item, severity: error, params: {value: age, constraint: {fixedValue: 42}}}`,
			nil},
		{"regex", `{id: q, type: QuestionAnswer, resourceType: QuestionnaireResponse, targetPath: item, severity: error, params: {value: age, constraint: {regex: "^[0-9]$"}}}`,
			[]string{"QuestionnaireResponse.item[1].answer[0].valueInteger"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings, err := newEngine().Evaluate(context.Background(), b, loadRules(t, "- "+tt.rule), nil)
			require.NoError(t, err)
			var got []string
			for _, f := range findings {
				got = append(got, f.Path)
			}
			assert.Equal(t, tt.paths, got)
		})
	}
}

func TestEvaluate_Resource(t *testing.T) {
	b := parseBundle(t,
		`{"resourceType":"Patient","active":true,"name":[{"family":"Doe"}]}`,
		`{"resourceType":"Patient","active":false}`,
		`{"resourceType":"Patient","active":true,"telecom":[{"value":"555"}],"gender":"male"}`,
	)

	tests := []struct {
		name    string
		params  string
		entries []int
	}{
		{"allOf", `{allOf: [name, gender]}`, []int{0, 1, 1, 2}},
		{"anyOf", `{anyOf: [telecom, address]}`, []int{0, 1}},
		{"anyOf when active", `{anyOf: [telecom, address], when: {path: active, equals: true}}`, []int{0}},
		{"when present", `{allOf: [gender], when: {path: telecom}}`, nil},
		{"expression", `{expression: "gender.exists()"}`, []int{0, 1}},
		{"expression when", `{expression: "gender.exists()", when: {path: active, equals: false}}`, []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := loadRules(t, `- {id: res, type: Resource, resourceType: Patient, severity: error, params: `+tt.params+`}`)
			findings, err := newEngine().Evaluate(context.Background(), b, set, nil)
			require.NoError(t, err)
			var got []int
			for _, f := range findings {
				got = append(got, f.EntryIndex)
			}
			assert.Equal(t, tt.entries, got)
		})
	}
}

func TestEvaluate_PanickingRuleIsIsolated(t *testing.T) {
	resolver := model.ResolverFunc(func(resourceType, p string) []string {
		if p == "Patient.boom" {
			panic("resolver exploded")
		}
		return nil
	})
	e := newEngine(WithNavigator(path.New(resolver, 0)))

	b := parseBundle(t, `{"resourceType":"Patient"}`, `{"resourceType":"Patient"}`)
	set := loadRules(t, `
- {id: boom, type: Required, resourceType: Patient, targetPath: boom, severity: warning}
- {id: gender, type: Required, resourceType: Patient, targetPath: gender, severity: error}
`)

	findings, err := e.Evaluate(context.Background(), b, set, nil)
	require.NoError(t, err)
	require.Len(t, findings, 3)

	assert.Equal(t, "boom", findings[0].RuleID)
	assert.Equal(t, rc.CodeException, findings[0].Code)
	assert.Equal(t, rc.SeverityError, findings[0].Severity)
	assert.Contains(t, findings[0].Message, "resolver exploded")

	assert.Equal(t, "gender", findings[1].RuleID)
	assert.Equal(t, "gender", findings[2].RuleID)
}

func TestEvaluate_Cancelled(t *testing.T) {
	b := parseBundle(t, `{"resourceType":"Patient"}`)
	set := loadRules(t, `- {id: gender, type: Required, resourceType: Patient, targetPath: gender, severity: error}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	findings, err := newEngine().Evaluate(ctx, b, set, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, findings)
}

func TestEvaluate_RuleOrderIsStable(t *testing.T) {
	b := parseBundle(t, `{"resourceType":"Patient"}`, `{"resourceType":"Patient"}`)
	doc := ""
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		doc += "- {id: " + id + ", type: Required, resourceType: Patient, targetPath: gender, severity: error}\n"
	}
	set := loadRules(t, doc)

	want, err := newEngine(WithWorkers(1)).Evaluate(context.Background(), b, set, nil)
	require.NoError(t, err)
	require.Len(t, want, 16)

	for i := 0; i < 10; i++ {
		got, err := newEngine(WithWorkers(8)).Evaluate(context.Background(), b, set, nil)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestEvaluateRule(t *testing.T) {
	b := parseBundle(t, `{"resourceType":"Patient"}`)
	set := loadRules(t, `- {id: gender, type: Required, resourceType: Patient, targetPath: gender, severity: error}`)
	r, _ := set.Get("gender")

	findings, err := newEngine().EvaluateRule(context.Background(), b, r, nil)
	require.NoError(t, err)
	assert.Len(t, findings, 1)
}

func TestEvaluate_DecimalPrecision(t *testing.T) {
	b := parseBundle(t,
		`{"resourceType":"Observation","status":"final","valueQuantity":{"value":1.0}}`,
		`{"resourceType":"Observation","status":"final","valueQuantity":{"value":1}}`,
		`{"resourceType":"QuestionnaireResponse","item":[{"linkId":"dose","answer":[{"valueDecimal":2.50}]}]}`,
	)

	tests := []struct {
		name    string
		rule    string
		entries []int
	}{
		{"fixed decimal", `{id: d, type: FixedValue, resourceType: Observation, targetPath: valueQuantity.value, severity: error, params: {value: 1.0}}`,
			[]int{1}},
		{"fixed decimal in json", `{"id": "d", "type": "FixedValue", "resourceType": "Observation", "targetPath": "valueQuantity.value", "severity": "error", "params": {"value": 1.0}}`,
			[]int{1}},
		{"fixed integer", `{id: d, type: FixedValue, resourceType: Observation, targetPath: valueQuantity.value, severity: error, params: {value: 1}}`,
			[]int{0}},
		{"answer decimal", `{id: d, type: QuestionAnswer, resourceType: QuestionnaireResponse, targetPath: item, severity: error, params: {value: dose, answer: answer.valueDecimal, constraint: {fixedValue: 2.50}}}`,
			nil},
		{"when decimal", `{id: d, type: Resource, resourceType: Observation, severity: error, params: {allOf: [code], when: {path: valueQuantity.value, equals: 1.0}}}`,
			[]int{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings, err := newEngine().Evaluate(context.Background(), b, loadRules(t, "- "+tt.rule), nil)
			require.NoError(t, err)
			var got []int
			for _, f := range findings {
				got = append(got, f.EntryIndex)
			}
			assert.Equal(t, tt.entries, got)
		})
	}
}

func TestEvaluate_DepthCapFailsRule(t *testing.T) {
	e := newEngine(WithNavigator(path.New(nil, 2)))
	b := parseBundle(t,
		`{"resourceType":"Patient","name":[{"given":["Ann"]}]}`,
		`{"resourceType":"Patient"}`,
	)
	set := loadRules(t, `- {id: given, type: Required, resourceType: Patient, targetPath: name.given, severity: warning}`)

	findings, err := e.Evaluate(context.Background(), b, set, nil)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, rc.CodeException, findings[0].Code)
	assert.Equal(t, 0, findings[0].EntryIndex)
	assert.Contains(t, findings[0].Message, path.ErrMaxDepth.Error())

	shallow := parseBundle(t, `{"resourceType":"Patient","name":[]}`)
	findings, err = e.Evaluate(context.Background(), shallow, set, nil)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, rc.CodeRequired, findings[0].Code)
}
