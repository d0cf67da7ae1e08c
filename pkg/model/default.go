package model

import "strings"

// commonChoiceElements names choice elements of the R4 resources most often
// seen in clinical bundles, keyed by the last segment of the logical path.
// An empty resource list means the element is a choice wherever it occurs.
var commonChoiceElements = map[string][]string{
	"value":         nil,
	"deceased":      {"Patient", "FamilyMemberHistory"},
	"multipleBirth": {"Patient"},
	"effective":     {"Observation", "DiagnosticReport", "MedicationStatement", "RiskAssessment"},
	"onset":         {"Condition", "AllergyIntolerance", "FamilyMemberHistory"},
	"abatement":     {"Condition"},
	"occurrence":    {"Procedure", "ServiceRequest", "Immunization", "RiskAssessment", "DeviceRequest", "CommunicationRequest", "ChargeItem", "MedicationAdministration"},
	"performed":     {"Procedure"},
	"medication":    {"MedicationRequest", "MedicationStatement", "MedicationAdministration", "MedicationDispense", "Immunization"},
	"reported":      {"MedicationRequest"},
	"timing":        {"ServiceRequest", "DeviceRequest", "Communication"},
	"serviced":      {"Claim", "ExplanationOfBenefit", "Coverage"},
	"born":          {"FamilyMemberHistory"},
	"age":           {"FamilyMemberHistory"},
	"answer":        {"Questionnaire"},
	"asNeeded":      {"MedicationRequest", "MedicationStatement"},
	"dose":          nil,
	"rate":          nil,
	"product":       {"MedicationKnowledge", "Substance"},
	"subject":       {"PlanDefinition", "ActivityDefinition", "Questionnaire"},
	"item":          {"Composition"},
	"defaultValue":  {"StructureDefinition"},
	"fixed":         {"StructureDefinition"},
	"pattern":       {"StructureDefinition"},
}

// Default returns a resolver backed by a built-in table of common R4 choice
// elements. Every known element accepts every type suffix; the navigator
// only matches keys actually present in the data.
func Default() Resolver {
	return defaultResolver{}
}

type defaultResolver struct{}

func (defaultResolver) ChoiceFieldSuffixes(resourceType, path string) []string {
	name := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		name = path[i+1:]
	}
	types, ok := commonChoiceElements[name]
	if !ok {
		return nil
	}
	if types == nil {
		return TypeSuffixes
	}
	for _, t := range types {
		if t == resourceType {
			return TypeSuffixes
		}
	}
	return nil
}

// Static is a resolver over an explicit table of logical path to suffixes,
// e.g. {"Observation.value": {"Quantity", "String"}}.
type Static map[string][]string

// ChoiceFieldSuffixes implements Resolver.
func (s Static) ChoiceFieldSuffixes(_, path string) []string {
	return s[path]
}
