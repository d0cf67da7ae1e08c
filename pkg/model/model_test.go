package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitChoiceKey(t *testing.T) {
	tests := []struct {
		key        string
		base, suff string
		ok         bool
	}{
		{"valueQuantity", "value", "Quantity", true},
		{"valueCodeableConcept", "value", "CodeableConcept", true},
		{"valueDateTime", "value", "DateTime", true},
		{"multipleBirthBoolean", "multipleBirth", "Boolean", true},
		{"deceasedBoolean", "deceased", "Boolean", true},
		{"valueBase64Binary", "value", "Base64Binary", true},
		{"effectivePeriod", "effective", "Period", true},
		{"birthDate", "birth", "Date", true},
		{"gender", "", "", false},
		{"valueFoo", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			base, suffix, ok := SplitChoiceKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.base, base)
			assert.Equal(t, tt.suff, suffix)
		})
	}
}

func TestTypeCodeToSuffix(t *testing.T) {
	assert.Equal(t, "DateTime", TypeCodeToSuffix("dateTime"))
	assert.Equal(t, "CodeableConcept", TypeCodeToSuffix("CodeableConcept"))
	assert.Equal(t, "String", TypeCodeToSuffix("http://hl7.org/fhirpath/System.String"))
	assert.Equal(t, "Boolean", TypeCodeToSuffix("System.Boolean"))
	assert.Equal(t, "", TypeCodeToSuffix("http://hl7.org/fhirpath/"))
	assert.Equal(t, "", TypeCodeToSuffix(""))
}

func TestDefault(t *testing.T) {
	r := Default()

	assert.Equal(t, TypeSuffixes, r.ChoiceFieldSuffixes("Observation", "Observation.value"))
	assert.Equal(t, TypeSuffixes, r.ChoiceFieldSuffixes("Observation", "Observation.component.value"))
	assert.NotNil(t, r.ChoiceFieldSuffixes("Patient", "Patient.deceased"))
	assert.Nil(t, r.ChoiceFieldSuffixes("Observation", "Observation.deceased"))
	assert.Nil(t, r.ChoiceFieldSuffixes("Patient", "Patient.gender"))
}

func TestChain(t *testing.T) {
	static := Static{"Observation.value": {"Quantity"}}
	r := Chain{nil, static, Default()}

	assert.Equal(t, []string{"Quantity"}, r.ChoiceFieldSuffixes("Observation", "Observation.value"))
	assert.NotNil(t, r.ChoiceFieldSuffixes("Patient", "Patient.deceased"))
	assert.Nil(t, r.ChoiceFieldSuffixes("Patient", "Patient.name"))
}

func TestResolverFunc(t *testing.T) {
	r := ResolverFunc(func(rt, p string) []string {
		if p == "X.y" {
			return []string{"String"}
		}
		return nil
	})
	assert.Equal(t, []string{"String"}, r.ChoiceFieldSuffixes("X", "X.y"))
}

const observationSD = `{
  "resourceType": "StructureDefinition",
  "url": "http://example.org/StructureDefinition/obs",
  "name": "Obs",
  "type": "Observation",
  "snapshot": {
    "element": [
      {"path": "Observation"},
      {"path": "Observation.status", "type": [{"code": "code"}]},
      {"path": "Observation.value[x]", "type": [{"code": "Quantity"}, {"code": "string"}, {"code": "dateTime"}]},
      {"path": "Observation.component.value[x]", "type": [{"code": "CodeableConcept"}]}
    ]
  }
}`

func TestStructureDefinitions(t *testing.T) {
	sds, err := ParseStructureDefinitions([]byte(observationSD))
	require.NoError(t, err)
	require.Len(t, sds, 1)

	r := NewStructureDefinitions(sds...)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"DateTime", "Quantity", "String"}, r.ChoiceFieldSuffixes("Observation", "Observation.value"))
	assert.Equal(t, []string{"CodeableConcept"}, r.ChoiceFieldSuffixes("Observation", "Observation.component.value"))
	assert.Nil(t, r.ChoiceFieldSuffixes("Observation", "Observation.status"))
}

func TestParseStructureDefinitions_Bundle(t *testing.T) {
	data := []byte(`{"resourceType":"Bundle","entry":[
		{"resource":` + observationSD + `},
		{"resource":{"resourceType":"ValueSet","url":"http://example.org/vs"}}
	]}`)

	sds, err := ParseStructureDefinitions(data)
	require.NoError(t, err)
	assert.Len(t, sds, 1)

	_, err = ParseStructureDefinitions([]byte(`{"resourceType":"Patient"}`))
	assert.Error(t, err)
}

func TestLoadStructureDefinitions(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "obs.json")
	require.NoError(t, os.WriteFile(p, []byte(observationSD), 0o600))

	r, err := LoadStructureDefinitions(p)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	_, err = LoadStructureDefinitions(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
