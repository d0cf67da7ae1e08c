package suggest

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/fatih/camelcase"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/pkg/path"
	"github.com/gofhir/rulecheck/pkg/rules"
)

var levelRank = map[Level]int{LevelLow: 0, LevelMedium: 1, LevelHigh: 2}

// AtLeast reports whether l is min or above.
func (l Level) AtLeast(min Level) bool {
	return levelRank[l] >= levelRank[min]
}

// RuleID derives a rule id from the resource type, target path and rule
// type, e.g. "observation-code-coding-code-system".
func (s *Suggestion) RuleID() string {
	var words []string
	add := func(name string) {
		for _, w := range camelcase.Split(name) {
			if w = strings.ToLower(strings.Trim(w, "_")); w != "" {
				words = append(words, w)
			}
		}
	}
	if s.TargetPath != s.ResourceType && !strings.HasPrefix(s.TargetPath, s.ResourceType+".") {
		add(s.ResourceType)
	}
	for _, seg := range strings.Split(strings.ReplaceAll(s.TargetPath, "[x]", ""), ".") {
		add(seg)
	}
	add(string(s.RuleType))
	return strings.Join(words, "-")
}

// ToRule converts the suggestion into a rule draft. High confidence
// suggestions become errors, the rest warnings. The draft owns a copy of
// the parameters.
func (s *Suggestion) ToRule() (rules.Rule, error) {
	target, err := path.Parse(s.TargetPath)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("suggestion target: %w", err)
	}
	sev := rc.SeverityWarning
	if s.Level == LevelHigh {
		sev = rc.SeverityError
	}
	params, err := cloneParams(s.RuleType, s.Params)
	if err != nil {
		return rules.Rule{}, err
	}
	return rules.Rule{
		ID:           s.RuleID(),
		Type:         s.RuleType,
		ResourceType: s.ResourceType,
		TargetPath:   target.WithResourceType(s.ResourceType),
		Severity:     sev,
		Params:       params,
	}, nil
}

func cloneParams(t rules.Type, p rules.Params) (rules.Params, error) {
	switch x := p.(type) {
	case nil:
		if t == rules.TypeRequired {
			return &rules.RequiredParams{}, nil
		}
	case *rules.RequiredParams:
		return &rules.RequiredParams{}, nil
	case *rules.RegexParams:
		return &rules.RegexParams{Pattern: x.Pattern}, nil
	case *rules.AllowedValuesParams:
		return &rules.AllowedValuesParams{Values: slices.Clone(x.Values), CaseInsensitive: x.CaseInsensitive}, nil
	case *rules.CodeSystemParams:
		return &rules.CodeSystemParams{System: x.System, UnknownSystem: x.UnknownSystem}, nil
	case *rules.ArrayLengthParams:
		c := &rules.ArrayLengthParams{NonEmpty: x.NonEmpty}
		if x.Min != nil {
			c.Min = new(int)
			*c.Min = *x.Min
		}
		if x.Max != nil {
			c.Max = new(int)
			*c.Max = *x.Max
		}
		return c, nil
	}
	return nil, fmt.Errorf("no rule draft for %s parameters %T", t, p)
}

// Rules converts the suggestions at or above minLevel into a checked rule
// set, in suggestion order. Colliding ids get a numeric suffix.
func Rules(suggestions []Suggestion, minLevel Level) (*rules.RuleSet, error) {
	var drafts []rules.Rule
	seen := make(map[string]int)
	for i := range suggestions {
		s := &suggestions[i]
		if !s.Level.AtLeast(minLevel) {
			continue
		}
		r, err := s.ToRule()
		if err != nil {
			return nil, fmt.Errorf("suggestion %d: %w", i, err)
		}
		seen[r.ID]++
		if n := seen[r.ID]; n > 1 {
			r.ID += "-" + strconv.Itoa(n)
		}
		drafts = append(drafts, r)
	}
	return rules.NewRuleSet(drafts...)
}

// Export renders the suggestions at or above minLevel as a rule file that
// rules.Load accepts.
func Export(suggestions []Suggestion, minLevel Level) ([]byte, error) {
	set, err := Rules(suggestions, minLevel)
	if err != nil {
		return nil, err
	}
	return rules.Marshal(set.Rules())
}
