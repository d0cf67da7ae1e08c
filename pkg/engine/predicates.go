package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofhir/fhirpath"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/pkg/bundle"
	"github.com/gofhir/rulecheck/pkg/codemaster"
	"github.com/gofhir/rulecheck/pkg/path"
	"github.com/gofhir/rulecheck/pkg/rules"
)

var (
	codingPath = path.MustParse("coding")
	systemPath = path.MustParse("system")
	codePath   = path.MustParse("code")
	itemPath   = path.MustParse("item")
)

// checker applies one rule to one entry.
type checker struct {
	nav      *path.Navigator
	rule     *rules.Rule
	entry    bundle.Entry
	resource bundle.Resource
	codes    *codemaster.CodeMaster
}

func (c *checker) resourceType() string {
	return c.rule.ResourceType
}

func (c *checker) finding(sev rc.Severity, code rc.Code, at, msg string) *rc.FindingBuilder {
	return rc.NewFinding(rc.SourceRule, sev, code).
		Message(c.rule.MessageOr(msg)).
		At(c.resourceType(), at).
		Entry(c.entry.Index).
		Rule(c.rule.ID)
}

// resolve returns the values at p. A branch cut off by the depth cap fails
// the rule rather than reading as absent.
func (c *checker) resolve(p path.Path) ([]path.Match, error) {
	m, err := c.nav.ResolveChecked(c.resource, p)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", p, err)
	}
	return m, nil
}

func (c *checker) matches() ([]path.Match, error) {
	return c.resolve(c.rule.TargetPath)
}

func (c *checker) from(base path.Match, rel path.Path) []path.Match {
	return c.nav.ResolveFrom(base, c.resourceType(), rel)
}

func (c *checker) required() ([]rc.Finding, error) {
	matches, err := c.matches()
	if err != nil || len(matches) > 0 {
		return nil, err
	}
	at := c.rule.TargetPath.String()
	return []rc.Finding{
		c.finding(c.rule.Severity, rc.CodeRequired, at, fmt.Sprintf("%s is required", at)).Build(),
	}, nil
}

// violation returns a description of why s fails p, or "".
func violation(p rules.Params, s string) (string, error) {
	switch p := p.(type) {
	case *rules.RegexParams:
		if !p.MatchString(s) {
			return fmt.Sprintf("value %q does not match pattern %q", s, p.Pattern), nil
		}
	case *rules.AllowedValuesParams:
		if !p.Allows(s) {
			return fmt.Sprintf("value %q is not one of %s", s, strings.Join(p.Values, ", ")), nil
		}
	case *rules.FixedValueParams:
		if s != p.Text() {
			return fmt.Sprintf("value %q must be %q", s, p.Text()), nil
		}
	default:
		return "", fmt.Errorf("%T is not a value constraint", p)
	}
	return "", nil
}

func (c *checker) values(p rules.Params) ([]rc.Finding, error) {
	matches, err := c.matches()
	if err != nil {
		return nil, err
	}
	return c.scalars(matches, p)
}

func (c *checker) scalars(matches []path.Match, p rules.Params) ([]rc.Finding, error) {
	var out []rc.Finding
	for _, m := range matches {
		s, ok := bundle.Scalar(m.Value)
		if !ok {
			out = append(out, c.finding(c.rule.Severity, rc.CodeStructure, m.Path,
				fmt.Sprintf("expected a primitive value at %s", m.Path)).Evidence(kind(m.Value)).Build())
			continue
		}
		msg, err := violation(p, s)
		if err != nil {
			return nil, err
		}
		if msg != "" {
			out = append(out, c.finding(c.rule.Severity, rc.CodeValue, m.Path, msg).Evidence(s).Build())
		}
	}
	return out, nil
}

func (c *checker) arrayLength(p *rules.ArrayLengthParams) ([]rc.Finding, error) {
	matches, err := c.matches()
	if err != nil {
		return nil, err
	}
	n := len(matches)
	msg := p.Violation(n)
	if msg == "" {
		return nil, nil
	}
	at := c.rule.TargetPath.String()
	return []rc.Finding{
		c.finding(c.rule.Severity, rc.CodeStructure, at, at+" "+msg).Evidence(fmt.Sprint(n)).Build(),
	}, nil
}

// codeSystem checks every coding at the target path. A matched object with
// a "coding" list is a CodeableConcept; any other object is a Coding.
func (c *checker) codeSystem(p *rules.CodeSystemParams) ([]rc.Finding, error) {
	matches, err := c.matches()
	if err != nil {
		return nil, err
	}
	var out []rc.Finding
	for _, m := range matches {
		obj, ok := m.Value.(map[string]any)
		if !ok {
			out = append(out, c.finding(c.rule.Severity, rc.CodeStructure, m.Path,
				fmt.Sprintf("expected a Coding or CodeableConcept at %s", m.Path)).Evidence(kind(m.Value)).Build())
			continue
		}

		codings := []path.Match{m}
		if _, concept := obj["coding"]; concept {
			codings = c.from(m, codingPath)
		}

		seen := false
		for _, cd := range codings {
			system := c.scalarAt(cd, systemPath)
			if p.System != "" && system != p.System {
				continue
			}
			seen = true
			out = append(out, c.coding(p, cd, system)...)
		}
		if !seen && p.System != "" {
			out = append(out, c.finding(c.rule.Severity, rc.CodeCodeInvalid, m.Path,
				fmt.Sprintf("no coding from %s at %s", p.System, m.Path)).Build())
		}
	}
	return out, nil
}

func (c *checker) coding(p *rules.CodeSystemParams, cd path.Match, system string) []rc.Finding {
	code := c.scalarAt(cd, codePath)
	switch {
	case system == "":
		return []rc.Finding{c.finding(c.rule.Severity, rc.CodeRequired, cd.Path+".system",
			fmt.Sprintf("coding at %s has no system", cd.Path)).Build()}
	case code == "":
		return []rc.Finding{c.finding(c.rule.Severity, rc.CodeRequired, cd.Path+".code",
			fmt.Sprintf("coding at %s has no code", cd.Path)).Build()}
	}

	switch c.codes.Lookup(system, code) {
	case codemaster.UnknownSystem:
		sev, report := p.UnknownSystemSeverity()
		if !report {
			return nil
		}
		return []rc.Finding{c.finding(sev, rc.CodeCodeInvalid, cd.Path+".system",
			fmt.Sprintf("code system %s is not configured", system)).Evidence(system).Build()}
	case codemaster.UnknownCode:
		return []rc.Finding{c.finding(c.rule.Severity, rc.CodeCodeInvalid, cd.Path+".code",
			fmt.Sprintf("code %q is not valid in %s", code, system)).Evidence(system + "|" + code).Build()}
	}
	return nil
}

func (c *checker) scalarAt(base path.Match, rel path.Path) string {
	for _, m := range c.from(base, rel) {
		if s, ok := bundle.Scalar(m.Value); ok {
			return s
		}
	}
	return ""
}

func (c *checker) questionAnswer(p *rules.QuestionAnswerParams) ([]rc.Finding, error) {
	items, err := c.matches()
	if err != nil {
		return nil, err
	}
	if p.Nested {
		items = c.nested(items, 0)
	}

	var out []rc.Finding
	for _, item := range items {
		if !c.qualifies(item, p) {
			continue
		}
		answers := c.from(item, p.AnswerPath())
		if len(answers) == 0 {
			if p.AnswerRequired {
				at := item.Path + "." + p.AnswerPath().String()
				out = append(out, c.finding(c.rule.Severity, rc.CodeRequired, at,
					fmt.Sprintf("question %s has no answer", p.Value)).Build())
			}
			continue
		}
		fs, err := c.scalars(answers, p.Inner())
		if err != nil {
			return nil, err
		}
		out = append(out, fs...)
	}
	return out, nil
}

// nested appends the items below each item, depth first.
func (c *checker) nested(items []path.Match, depth int) []path.Match {
	if depth >= c.nav.MaxDepth() {
		return items
	}
	var out []path.Match
	for _, it := range items {
		out = append(out, it)
		if children := c.from(it, itemPath); len(children) > 0 {
			out = append(out, c.nested(children, depth+1)...)
		}
	}
	return out
}

func (c *checker) qualifies(item path.Match, p *rules.QuestionAnswerParams) bool {
	for _, m := range c.from(item, p.DiscriminatorPath()) {
		if s, ok := bundle.Scalar(m.Value); ok && s == p.Value {
			return true
		}
	}
	return false
}

func (c *checker) resourceRule(p *rules.ResourceParams, encode func() ([]byte, error)) ([]rc.Finding, error) {
	if w := p.When; w != nil {
		ok, err := c.applies(w)
		if err != nil || !ok {
			return nil, err
		}
	}
	root := c.resourceType()

	if expr := p.Compiled(); expr != nil {
		data, err := encode()
		if err != nil {
			return nil, fmt.Errorf("encoding resource: %w", err)
		}
		result, err := expr.Evaluate(data)
		if err != nil {
			return nil, fmt.Errorf("evaluating %q: %w", p.Expression, err)
		}
		if passed(result) {
			return nil, nil
		}
		return []rc.Finding{c.finding(c.rule.Severity, rc.CodeInvariant, root,
			fmt.Sprintf("constraint %q is not satisfied", p.Expression)).Build()}, nil
	}

	var out []rc.Finding
	for _, ap := range p.AllOfPaths() {
		matches, err := c.resolve(ap)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			at := ap.String()
			out = append(out, c.finding(c.rule.Severity, rc.CodeRequired, at,
				fmt.Sprintf("%s is required", at)).Build())
		}
	}
	if anyOf := p.AnyOfPaths(); len(anyOf) > 0 {
		found := false
		for _, ap := range anyOf {
			matches, err := c.resolve(ap)
			if err != nil {
				return nil, err
			}
			if len(matches) > 0 {
				found = true
				break
			}
		}
		if !found {
			names := make([]string, len(anyOf))
			for i, ap := range anyOf {
				names[i] = ap.String()
			}
			out = append(out, c.finding(c.rule.Severity, rc.CodeRequired, root,
				fmt.Sprintf("one of %s is required", strings.Join(names, ", "))).Build())
		}
	}
	return out, nil
}

func (c *checker) applies(w *rules.Condition) (bool, error) {
	matches, err := c.resolve(w.ConditionPath())
	if err != nil {
		return false, err
	}
	want, exact := w.Expected()
	if !exact {
		return len(matches) > 0, nil
	}
	for _, m := range matches {
		if s, ok := bundle.Scalar(m.Value); ok && s == want {
			return true, nil
		}
	}
	return false, nil
}

// passed reports whether an expression result satisfies a constraint: an
// empty result means not applicable, and results that are not booleans
// count as satisfied.
func passed(result fhirpath.Collection) bool {
	if result.Empty() {
		return true
	}
	b, err := result.ToBoolean()
	if err != nil {
		return true
	}
	return b
}

func kind(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case nil:
		return "null"
	case json.Number:
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
