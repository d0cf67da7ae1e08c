package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gofhir/fhirpath"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/pkg/bundle"
	"github.com/gofhir/rulecheck/pkg/path"
)

// Params is the sealed set of per-type rule parameters.
type Params interface {
	Type() Type
	prepare(l *Loader, r *Rule) error
}

// NewParams returns an empty parameter struct for t.
func NewParams(t Type) (Params, error) {
	switch t {
	case TypeRequired:
		return &RequiredParams{}, nil
	case TypeRegex:
		return &RegexParams{}, nil
	case TypeAllowedValues:
		return &AllowedValuesParams{}, nil
	case TypeFixedValue:
		return &FixedValueParams{}, nil
	case TypeCodeSystem:
		return &CodeSystemParams{}, nil
	case TypeArrayLength:
		return &ArrayLengthParams{}, nil
	case TypeQuestionAnswer:
		return &QuestionAnswerParams{}, nil
	case TypeResource:
		return &ResourceParams{}, nil
	}
	return nil, fmt.Errorf("unknown rule type %q", t)
}

// RequiredParams has no parameters.
type RequiredParams struct{}

// Type implements Params.
func (*RequiredParams) Type() Type { return TypeRequired }

func (*RequiredParams) prepare(*Loader, *Rule) error { return nil }

// RegexParams checks scalar values against a regular expression. The
// pattern is not anchored implicitly; use ^ and $ for full matches.
type RegexParams struct {
	Pattern string `yaml:"pattern" json:"pattern"`

	re *regexp.Regexp
}

// Type implements Params.
func (*RegexParams) Type() Type { return TypeRegex }

func (p *RegexParams) prepare(l *Loader, _ *Rule) error {
	if p.Pattern == "" {
		return errors.New("pattern is required")
	}
	re, err := l.regexp(p.Pattern)
	if err != nil {
		return fmt.Errorf("pattern does not compile: %w", err)
	}
	p.re = re
	return nil
}

// MatchString reports whether s matches the pattern.
func (p *RegexParams) MatchString(s string) bool {
	return p.re.MatchString(s)
}

// AllowedValuesParams restricts scalar values to a fixed set.
type AllowedValuesParams struct {
	Values          []string `yaml:"values" json:"values"`
	CaseInsensitive bool     `yaml:"caseInsensitive,omitempty" json:"caseInsensitive,omitempty"`

	set map[string]struct{}
}

// Type implements Params.
func (*AllowedValuesParams) Type() Type { return TypeAllowedValues }

func (p *AllowedValuesParams) prepare(*Loader, *Rule) error {
	if len(p.Values) == 0 {
		return errors.New("values must not be empty")
	}
	p.set = make(map[string]struct{}, len(p.Values))
	for _, v := range p.Values {
		p.set[p.fold(v)] = struct{}{}
	}
	return nil
}

func (p *AllowedValuesParams) fold(s string) string {
	if p.CaseInsensitive {
		return strings.ToLower(s)
	}
	return s
}

// Allows reports whether s is in the set.
func (p *AllowedValuesParams) Allows(s string) bool {
	_, ok := p.set[p.fold(s)]
	return ok
}

// FixedValueParams requires every value to equal one scalar.
type FixedValueParams struct {
	Value any `yaml:"value" json:"value"`

	// literal is Value as written in the rule file when it is a decimal.
	literal string
	text    string
}

// Type implements Params.
func (*FixedValueParams) Type() Type { return TypeFixedValue }

func (p *FixedValueParams) prepare(*Loader, *Rule) error {
	if p.Value == nil {
		return errors.New("value is required")
	}
	s, ok := bundle.Scalar(p.Value)
	if !ok {
		return fmt.Errorf("value must be a scalar, got %T", p.Value)
	}
	if p.literal != "" {
		s = p.literal
	}
	p.text = s
	return nil
}

// Text returns the expected value in canonical text form.
func (p *FixedValueParams) Text() string {
	return p.text
}

// IgnoreUnknownSystem is the unknownSystem token that suppresses findings
// for unconfigured code systems.
const IgnoreUnknownSystem = "ignore"

// CodeSystemParams checks (system, code) pairs against the code master.
type CodeSystemParams struct {
	// System restricts the check to codings of one system; empty checks
	// every coding.
	System string `yaml:"system,omitempty" json:"system,omitempty"`

	// UnknownSystem is the severity for codings whose system the code
	// master does not know, or "ignore". Defaults to warning.
	UnknownSystem string `yaml:"unknownSystem,omitempty" json:"unknownSystem,omitempty"`

	unknown rc.Severity
	ignore  bool
}

// Type implements Params.
func (*CodeSystemParams) Type() Type { return TypeCodeSystem }

func (p *CodeSystemParams) prepare(*Loader, *Rule) error {
	switch tok := strings.ToLower(strings.TrimSpace(p.UnknownSystem)); tok {
	case "":
		p.unknown = rc.SeverityWarning
	case IgnoreUnknownSystem:
		p.ignore = true
	default:
		sev, ok := rc.ParseSeverity(tok)
		if !ok {
			return fmt.Errorf("unknownSystem %q is not a severity or %q", p.UnknownSystem, IgnoreUnknownSystem)
		}
		p.unknown = sev
	}
	return nil
}

// UnknownSystemSeverity returns the severity for unknown systems and false
// when they are ignored.
func (p *CodeSystemParams) UnknownSystemSeverity() (rc.Severity, bool) {
	return p.unknown, !p.ignore
}

// ArrayLengthParams bounds the number of elements at the target path.
type ArrayLengthParams struct {
	Min      *int `yaml:"min,omitempty" json:"min,omitempty"`
	Max      *int `yaml:"max,omitempty" json:"max,omitempty"`
	NonEmpty bool `yaml:"nonEmpty,omitempty" json:"nonEmpty,omitempty"`
}

// Type implements Params.
func (*ArrayLengthParams) Type() Type { return TypeArrayLength }

func (p *ArrayLengthParams) prepare(*Loader, *Rule) error {
	if p.Min == nil && p.Max == nil && !p.NonEmpty {
		return errors.New("one of min, max or nonEmpty is required")
	}
	if p.Min != nil && *p.Min < 0 {
		return fmt.Errorf("min must not be negative, got %d", *p.Min)
	}
	if p.Max != nil && *p.Max < 0 {
		return fmt.Errorf("max must not be negative, got %d", *p.Max)
	}
	if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
		return fmt.Errorf("min %d exceeds max %d", *p.Min, *p.Max)
	}
	return nil
}

// Violation describes why count breaks the bounds, or returns "".
func (p *ArrayLengthParams) Violation(count int) string {
	switch {
	case p.NonEmpty && count == 0:
		return "must not be empty"
	case p.Min != nil && count < *p.Min:
		return fmt.Sprintf("has %d elements, at least %d required", count, *p.Min)
	case p.Max != nil && count > *p.Max:
		return fmt.Sprintf("has %d elements, at most %d allowed", count, *p.Max)
	}
	return ""
}

// QuestionAnswerParams applies a constraint to the answer of the items
// whose discriminator equals Value. The rule's target path locates the
// items, e.g. "QuestionnaireResponse.item".
type QuestionAnswerParams struct {
	// Discriminator is the item-relative path compared to Value.
	// Defaults to "linkId".
	Discriminator string `yaml:"discriminator,omitempty" json:"discriminator,omitempty"`
	Value         string `yaml:"value" json:"value"`

	// Answer is the item-relative answer path. Defaults to "answer.value".
	Answer string `yaml:"answer,omitempty" json:"answer,omitempty"`

	// Nested also searches items nested under matching paths' "item".
	Nested bool `yaml:"nested,omitempty" json:"nested,omitempty"`

	// AnswerRequired reports qualifying items without an answer.
	AnswerRequired bool `yaml:"answerRequired,omitempty" json:"answerRequired,omitempty"`

	Constraint AnswerConstraint `yaml:"constraint" json:"constraint"`

	discriminator path.Path
	answer        path.Path
}

// AnswerConstraint holds exactly one inner check.
type AnswerConstraint struct {
	Regex           string   `yaml:"regex,omitempty" json:"regex,omitempty"`
	AllowedValues   []string `yaml:"allowedValues,omitempty" json:"allowedValues,omitempty"`
	CaseInsensitive bool     `yaml:"caseInsensitive,omitempty" json:"caseInsensitive,omitempty"`
	FixedValue      any      `yaml:"fixedValue,omitempty" json:"fixedValue,omitempty"`

	literal string
	inner   Params
}

// Type implements Params.
func (*QuestionAnswerParams) Type() Type { return TypeQuestionAnswer }

func (p *QuestionAnswerParams) prepare(l *Loader, r *Rule) error {
	if p.Value == "" {
		return errors.New("value is required")
	}
	disc := p.Discriminator
	if disc == "" {
		disc = "linkId"
	}
	ans := p.Answer
	if ans == "" {
		ans = "answer.value"
	}
	var err error
	if p.discriminator, err = relativePath(disc); err != nil {
		return fmt.Errorf("discriminator: %w", err)
	}
	if p.answer, err = relativePath(ans); err != nil {
		return fmt.Errorf("answer: %w", err)
	}

	c := &p.Constraint
	set := 0
	if c.Regex != "" {
		set++
		c.inner = &RegexParams{Pattern: c.Regex}
	}
	if len(c.AllowedValues) > 0 {
		set++
		c.inner = &AllowedValuesParams{Values: c.AllowedValues, CaseInsensitive: c.CaseInsensitive}
	}
	if c.FixedValue != nil {
		set++
		c.inner = &FixedValueParams{Value: c.FixedValue, literal: c.literal}
	}
	if set != 1 {
		return fmt.Errorf("constraint needs exactly one of regex, allowedValues or fixedValue, got %d", set)
	}
	if err := c.inner.prepare(l, r); err != nil {
		return fmt.Errorf("constraint: %w", err)
	}
	return nil
}

// DiscriminatorPath returns the item-relative discriminator path.
func (p *QuestionAnswerParams) DiscriminatorPath() path.Path { return p.discriminator }

// AnswerPath returns the item-relative answer path.
func (p *QuestionAnswerParams) AnswerPath() path.Path { return p.answer }

// Inner returns the prepared inner constraint: *RegexParams,
// *AllowedValuesParams or *FixedValueParams.
func (p *QuestionAnswerParams) Inner() Params { return p.Constraint.inner }

// ResourceParams checks a condition spanning several fields of one
// resource: either a FHIRPath expression that must not evaluate to false,
// or lists of paths that must all (AllOf) or at least one (AnyOf) be
// present. When restricts the rule to resources meeting a condition.
type ResourceParams struct {
	Expression string     `yaml:"expression,omitempty" json:"expression,omitempty"`
	AllOf      []string   `yaml:"allOf,omitempty" json:"allOf,omitempty"`
	AnyOf      []string   `yaml:"anyOf,omitempty" json:"anyOf,omitempty"`
	When       *Condition `yaml:"when,omitempty" json:"when,omitempty"`

	expr  *fhirpath.Expression
	allOf []path.Path
	anyOf []path.Path
}

// Condition selects resources by the value at a path. Without Equals the
// path only has to be present.
type Condition struct {
	Path   string `yaml:"path" json:"path"`
	Equals any    `yaml:"equals,omitempty" json:"equals,omitempty"`

	literal string
	path    path.Path
	equals  string
}

// Type implements Params.
func (*ResourceParams) Type() Type { return TypeResource }

func (p *ResourceParams) prepare(l *Loader, r *Rule) error {
	hasExpr := p.Expression != ""
	hasPaths := len(p.AllOf) > 0 || len(p.AnyOf) > 0
	if hasExpr == hasPaths {
		return errors.New("exactly one of expression or allOf/anyOf is required")
	}
	if hasExpr {
		expr, err := l.fhirpath(p.Expression)
		if err != nil {
			return fmt.Errorf("expression does not compile: %w", err)
		}
		p.expr = expr
	}

	var err error
	if p.allOf, err = rootedPaths(p.AllOf, r.ResourceType); err != nil {
		return fmt.Errorf("allOf: %w", err)
	}
	if p.anyOf, err = rootedPaths(p.AnyOf, r.ResourceType); err != nil {
		return fmt.Errorf("anyOf: %w", err)
	}

	if w := p.When; w != nil {
		if w.path, err = rootedPath(w.Path, r.ResourceType); err != nil {
			return fmt.Errorf("when: %w", err)
		}
		if w.Equals != nil {
			s, ok := bundle.Scalar(w.Equals)
			if !ok {
				return fmt.Errorf("when.equals must be a scalar, got %T", w.Equals)
			}
			if w.literal != "" {
				s = w.literal
			}
			w.equals = s
		}
	}
	return nil
}

// Compiled returns the compiled FHIRPath expression, or nil.
func (p *ResourceParams) Compiled() *fhirpath.Expression { return p.expr }

// AllOfPaths returns the rooted allOf paths.
func (p *ResourceParams) AllOfPaths() []path.Path { return p.allOf }

// AnyOfPaths returns the rooted anyOf paths.
func (p *ResourceParams) AnyOfPaths() []path.Path { return p.anyOf }

// ConditionPath returns the rooted condition path.
func (c *Condition) ConditionPath() path.Path { return c.path }

// Expected returns the expected value and whether one is configured.
func (c *Condition) Expected() (string, bool) { return c.equals, c.Equals != nil }

func relativePath(expr string) (path.Path, error) {
	p, err := path.Parse(expr)
	if err != nil {
		return path.Path{}, err
	}
	if p.ResourceType != "" {
		return path.Path{}, fmt.Errorf("path %q must be relative", expr)
	}
	return p, nil
}

func rootedPath(expr, resourceType string) (path.Path, error) {
	p, err := path.Parse(expr)
	if err != nil {
		return path.Path{}, err
	}
	if p.ResourceType != "" && p.ResourceType != resourceType {
		return path.Path{}, fmt.Errorf("path %q is rooted at %s, rule applies to %s", expr, p.ResourceType, resourceType)
	}
	return p.WithResourceType(resourceType), nil
}

func rootedPaths(exprs []string, resourceType string) ([]path.Path, error) {
	out := make([]path.Path, 0, len(exprs))
	for _, e := range exprs {
		p, err := rootedPath(e, resourceType)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
