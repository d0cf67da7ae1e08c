// Package model answers schema questions the path navigator cannot infer
// from data alone: which logical elements are choice fields ("value[x]")
// and under which type-suffixed keys they may appear.
//
// Resolvers are built once at startup and shared read-only by every run.
package model

import (
	"sort"
	"strings"

	"github.com/fatih/camelcase"
)

// Resolver reports the type suffixes a choice element may carry.
//
// path is the logical path of the element without the "[x]" marker, rooted
// at the resource type, e.g. "Observation.value" or
// "Observation.component.value". A nil result means the element is not a
// choice element.
type Resolver interface {
	ChoiceFieldSuffixes(resourceType, path string) []string
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(resourceType, path string) []string

// ChoiceFieldSuffixes implements Resolver.
func (f ResolverFunc) ChoiceFieldSuffixes(resourceType, path string) []string {
	return f(resourceType, path)
}

// TypeSuffixes lists every R4 data type that may appear as a choice suffix,
// sorted.
var TypeSuffixes = sortedSuffixes(
	// Primitives
	"Base64Binary", "Boolean", "Canonical", "Code", "Date", "DateTime",
	"Decimal", "Id", "Instant", "Integer", "Markdown", "Oid", "PositiveInt",
	"String", "Time", "UnsignedInt", "Uri", "Url", "Uuid",

	// Complex types
	"Address", "Age", "Annotation", "Attachment", "CodeableConcept", "Coding",
	"ContactDetail", "ContactPoint", "Contributor", "Count", "DataRequirement",
	"Distance", "Dosage", "Duration", "Expression", "HumanName", "Identifier",
	"Meta", "Money", "ParameterDefinition", "Period", "Quantity", "Range",
	"Ratio", "Reference", "RelatedArtifact", "SampledData", "Signature",
	"Timing", "TriggerDefinition", "UsageContext",
)

var suffixSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(TypeSuffixes))
	for _, s := range TypeSuffixes {
		m[s] = struct{}{}
	}
	return m
}()

func sortedSuffixes(s ...string) []string {
	sort.Strings(s)
	return s
}

// IsTypeSuffix reports whether s is a known choice type suffix.
func IsTypeSuffix(s string) bool {
	_, ok := suffixSet[s]
	return ok
}

// SplitChoiceKey splits a concrete key such as "valueCodeableConcept" into
// its base ("value") and type suffix ("CodeableConcept"). The shortest base
// whose remainder is a known suffix wins, so "multipleBirthBoolean" splits
// into "multipleBirth" and "Boolean".
func SplitChoiceKey(key string) (base, suffix string, ok bool) {
	words := camelcase.Split(key)
	for i := 1; i < len(words); i++ {
		suffix = strings.Join(words[i:], "")
		if IsTypeSuffix(suffix) {
			return strings.Join(words[:i], ""), suffix, true
		}
	}
	return "", "", false
}

// Contains reports whether suffix is in suffixes.
func Contains(suffixes []string, suffix string) bool {
	for _, s := range suffixes {
		if s == suffix {
			return true
		}
	}
	return false
}

// TypeCodeToSuffix converts an ElementDefinition type code ("dateTime",
// "CodeableConcept") to its key suffix ("DateTime", "CodeableConcept").
func TypeCodeToSuffix(code string) string {
	if code == "" {
		return ""
	}
	// FHIRPath system types appear in snapshots as URLs such as
	// "http://hl7.org/fhirpath/System.String".
	if i := strings.LastIndexAny(code, "/."); i >= 0 {
		code = code[i+1:]
	}
	if code == "" {
		return ""
	}
	return strings.ToUpper(code[:1]) + code[1:]
}

// Chain queries resolvers in order and returns the first non-nil answer.
type Chain []Resolver

// ChoiceFieldSuffixes implements Resolver.
func (c Chain) ChoiceFieldSuffixes(resourceType, path string) []string {
	for _, r := range c {
		if r == nil {
			continue
		}
		if s := r.ChoiceFieldSuffixes(resourceType, path); s != nil {
			return s
		}
	}
	return nil
}
