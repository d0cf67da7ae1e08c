// Package rules defines business rules and loads rule sets from YAML or
// JSON. Every rule type carries its own parameter struct, checked when the
// rule set is built; a rule set that loads is ready to evaluate.
package rules

import (
	"fmt"
	"strings"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/pkg/path"
)

// Type is the rule type tag.
type Type string

// Rule types.
const (
	TypeRequired       Type = "Required"
	TypeRegex          Type = "Regex"
	TypeAllowedValues  Type = "AllowedValues"
	TypeFixedValue     Type = "FixedValue"
	TypeCodeSystem     Type = "CodeSystem"
	TypeArrayLength    Type = "ArrayLength"
	TypeQuestionAnswer Type = "QuestionAnswer"
	TypeResource       Type = "Resource"
)

// Types lists every rule type in declaration order.
var Types = []Type{
	TypeRequired, TypeRegex, TypeAllowedValues, TypeFixedValue,
	TypeCodeSystem, TypeArrayLength, TypeQuestionAnswer, TypeResource,
}

// ParseType parses a type tag. Case, '-' and '_' are ignored, so
// "allowed-values" and "AllowedValues" are equivalent.
func ParseType(s string) (Type, bool) {
	token := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(s))
	for _, t := range Types {
		if strings.ToLower(string(t)) == token {
			return t, true
		}
	}
	return "", false
}

// Rule is one business rule. Rules are immutable once part of a RuleSet.
type Rule struct {
	ID           string
	Type         Type
	ResourceType string

	// TargetPath is always rooted at ResourceType.
	TargetPath path.Path

	Severity rc.Severity
	Message  string

	// Params is the type-specific parameter struct; its concrete type
	// always matches Type.
	Params Params
}

// MessageOr returns the configured message, or fallback when none is set.
func (r *Rule) MessageOr(fallback string) string {
	if r.Message != "" {
		return r.Message
	}
	return fallback
}

// RuleSet is an ordered, immutable collection of rules.
type RuleSet struct {
	rules []Rule
	byID  map[string]int
}

// NewRuleSet checks rules and returns them as a RuleSet. It reports every
// offending rule in a *LoadError.
func NewRuleSet(rules ...Rule) (*RuleSet, error) {
	return defaultLoader.build(rules, nil)
}

// Rules returns the rules in order. The slice must not be modified.
func (s *RuleSet) Rules() []Rule {
	if s == nil {
		return nil
	}
	return s.rules
}

// Len returns the number of rules.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Get returns the rule with the given id.
func (s *RuleSet) Get(id string) (Rule, bool) {
	if s == nil {
		return Rule{}, false
	}
	i, ok := s.byID[id]
	if !ok {
		return Rule{}, false
	}
	return s.rules[i], true
}

// ForResourceType returns the rules applying to resourceType, in order.
func (s *RuleSet) ForResourceType(resourceType string) []Rule {
	var out []Rule
	for _, r := range s.Rules() {
		if r.ResourceType == resourceType {
			out = append(out, r)
		}
	}
	return out
}

// ItemError describes one rejected rule.
type ItemError struct {
	// Index is the rule's position in the input.
	Index  int
	RuleID string
	Reason string
}

func (e ItemError) String() string {
	if e.RuleID != "" {
		return fmt.Sprintf("rule[%d] %q: %s", e.Index, e.RuleID, e.Reason)
	}
	return fmt.Sprintf("rule[%d]: %s", e.Index, e.Reason)
}

// LoadError lists every rule rejected while loading a rule set.
type LoadError struct {
	Items []ItemError
}

func (e *LoadError) Error() string {
	parts := make([]string, len(e.Items))
	for i, it := range e.Items {
		parts[i] = it.String()
	}
	return fmt.Sprintf("invalid rule set (%d rejected): %s", len(e.Items), strings.Join(parts, "; "))
}
