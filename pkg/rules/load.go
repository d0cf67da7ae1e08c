package rules

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/gofhir/fhirpath"
	"gopkg.in/yaml.v3"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/pkg/cache"
	"github.com/gofhir/rulecheck/pkg/path"
)

// DefaultCacheSize bounds the compiled pattern and expression caches.
const DefaultCacheSize = 512

// Loader builds rule sets, memoising compiled regular expressions and
// FHIRPath expressions across loads. A Loader is safe for concurrent use.
type Loader struct {
	regexes *cache.LRU[string, *regexp.Regexp]
	exprs   *cache.LRU[string, *fhirpath.Expression]
}

// NewLoader creates a Loader whose caches hold up to size entries each.
func NewLoader(size int) *Loader {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Loader{
		regexes: cache.New[string, *regexp.Regexp](size),
		exprs:   cache.New[string, *fhirpath.Expression](size),
	}
}

var defaultLoader = NewLoader(DefaultCacheSize)

// Load parses a YAML or JSON rule set with the shared default Loader.
func Load(data []byte) (*RuleSet, error) {
	return defaultLoader.Load(data)
}

// LoadFile reads and parses a rule set file with the shared default Loader.
func LoadFile(name string) (*RuleSet, error) {
	return defaultLoader.LoadFile(name)
}

// CacheStats returns statistics of the regular expression and FHIRPath
// caches.
func (l *Loader) CacheStats() (regexes, expressions cache.Stats) {
	return l.regexes.Stats(), l.exprs.Stats()
}

func (l *Loader) regexp(pattern string) (*regexp.Regexp, error) {
	return l.regexes.GetOrLoad(pattern, func() (*regexp.Regexp, error) {
		return regexp.Compile(pattern)
	})
}

func (l *Loader) fhirpath(expr string) (*fhirpath.Expression, error) {
	return l.exprs.GetOrLoad(expr, func() (*fhirpath.Expression, error) {
		return fhirpath.Compile(expr)
	})
}

// LoadFile reads and parses a rule set file.
func (l *Loader) LoadFile(name string) (*RuleSet, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading rule set: %w", err)
	}
	set, err := l.Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return set, nil
}

// rawRule is the file form of a rule.
type rawRule struct {
	ID           string    `yaml:"id"`
	Type         string    `yaml:"type"`
	ResourceType string    `yaml:"resourceType"`
	TargetPath   string    `yaml:"targetPath"`
	Severity     string    `yaml:"severity"`
	Message      string    `yaml:"message"`
	Params       yaml.Node `yaml:"params"`
}

// Load parses a rule set. The document is either a list of rules or a
// mapping with a "rules" list; JSON input is accepted as YAML. Unknown
// fields, in rules and in params, are rejected.
//
// Every offending rule is reported in a *LoadError; a rule set is returned
// only when all rules are valid.
func (l *Loader) Load(data []byte) (*RuleSet, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing rule set: %w", err)
	}
	items, err := ruleNodes(&doc)
	if err != nil {
		return nil, err
	}

	var (
		rules    []Rule
		problems []ItemError
		indexes  []int
	)
	for i, n := range items {
		var raw rawRule
		if err := decodeStrict(n, &raw); err != nil {
			problems = append(problems, ItemError{Index: i, RuleID: peekID(n), Reason: err.Error()})
			continue
		}
		r, err := raw.toRule()
		if err != nil {
			problems = append(problems, ItemError{Index: i, RuleID: raw.ID, Reason: err.Error()})
			continue
		}
		rules = append(rules, r)
		indexes = append(indexes, i)
	}

	set, err := l.build(rules, indexes)
	var le *LoadError
	switch {
	case errors.As(err, &le):
		problems = append(problems, le.Items...)
	case err != nil:
		return nil, err
	}
	if len(problems) > 0 {
		sortItems(problems)
		return nil, &LoadError{Items: problems}
	}
	return set, nil
}

func ruleNodes(doc *yaml.Node) ([]*yaml.Node, error) {
	root := doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil, nil
		}
		root = root.Content[0]
	}
	switch root.Kind {
	case 0:
		return nil, nil
	case yaml.SequenceNode:
		return root.Content, nil
	case yaml.MappingNode:
		var rules *yaml.Node
		for i := 0; i+1 < len(root.Content); i += 2 {
			if k := root.Content[i].Value; k != "rules" {
				return nil, fmt.Errorf("parsing rule set: unknown top-level field %q", k)
			}
			rules = root.Content[i+1]
		}
		if rules == nil {
			return nil, nil
		}
		if rules.Kind != yaml.SequenceNode {
			return nil, errors.New("parsing rule set: rules must be a list")
		}
		return rules.Content, nil
	}
	return nil, errors.New("parsing rule set: expected a list of rules or a mapping with a rules list")
}

// decodeStrict decodes n into out, rejecting fields out does not declare.
// yaml.Node.Decode has no strict mode, so the node is re-encoded first.
func decodeStrict(n *yaml.Node, out any) error {
	data, err := yaml.Marshal(n)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return cleanYAMLError(err)
	}
	return nil
}

// cleanYAMLError drops the "yaml: unmarshal errors:" preamble and line
// numbers of the re-encoded node, which do not match the input file.
func cleanYAMLError(err error) error {
	var te *yaml.TypeError
	if errors.As(err, &te) {
		msgs := make([]string, len(te.Errors))
		for i, m := range te.Errors {
			if j := strings.Index(m, ": "); strings.HasPrefix(m, "line ") && j > 0 {
				m = m[j+2:]
			}
			msgs[i] = m
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return err
}

func peekID(n *yaml.Node) string {
	if n.Kind != yaml.MappingNode {
		return ""
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == "id" {
			return n.Content[i+1].Value
		}
	}
	return ""
}

// keepDecimals records decimal parameters as written. Decoding 1.0 into an
// any yields float64(1), but decimals compare by their written precision.
func keepDecimals(n *yaml.Node, p Params) {
	switch p := p.(type) {
	case *FixedValueParams:
		p.literal = decimalAt(n, "value")
	case *QuestionAnswerParams:
		p.Constraint.literal = decimalAt(n, "constraint", "fixedValue")
	case *ResourceParams:
		if p.When != nil {
			p.When.literal = decimalAt(n, "when", "equals")
		}
	}
}

// decimalAt returns the text of the float scalar found by following keys
// through nested mappings, or "".
func decimalAt(n *yaml.Node, keys ...string) string {
	for _, key := range keys {
		if n == nil || n.Kind != yaml.MappingNode {
			return ""
		}
		var next *yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == key {
				next = n.Content[i+1]
				break
			}
		}
		n = next
	}
	if n == nil || n.Kind != yaml.ScalarNode || n.ShortTag() != "!!float" {
		return ""
	}
	return n.Value
}

func (raw *rawRule) toRule() (Rule, error) {
	t, ok := ParseType(raw.Type)
	if !ok {
		if raw.Type == "" {
			return Rule{}, errors.New("type is required")
		}
		return Rule{}, fmt.Errorf("unknown rule type %q", raw.Type)
	}
	r := Rule{
		ID:           raw.ID,
		Type:         t,
		ResourceType: raw.ResourceType,
		Message:      raw.Message,
	}

	if raw.Severity == "" {
		return Rule{}, errors.New("severity is required")
	}
	sev, ok := rc.ParseSeverity(raw.Severity)
	if !ok {
		return Rule{}, fmt.Errorf("unknown severity %q", raw.Severity)
	}
	r.Severity = sev

	if raw.TargetPath != "" {
		p, err := path.Parse(raw.TargetPath)
		if err != nil {
			return Rule{}, fmt.Errorf("targetPath: %w", err)
		}
		r.TargetPath = p
	}

	params, _ := NewParams(t)
	if raw.Params.Kind != 0 {
		if err := decodeStrict(&raw.Params, params); err != nil {
			return Rule{}, fmt.Errorf("params: %w", err)
		}
		keepDecimals(&raw.Params, params)
	}
	r.Params = params
	return r, nil
}

// build checks rules and assembles the set. indexes maps each rule to its
// input position; nil means rules are numbered in order.
func (l *Loader) build(rules []Rule, indexes []int) (*RuleSet, error) {
	set := &RuleSet{
		rules: make([]Rule, 0, len(rules)),
		byID:  make(map[string]int, len(rules)),
	}
	var problems []ItemError
	for i := range rules {
		idx := i
		if indexes != nil {
			idx = indexes[i]
		}
		r := rules[i]
		if err := l.check(&r); err != nil {
			problems = append(problems, ItemError{Index: idx, RuleID: r.ID, Reason: err.Error()})
			continue
		}
		if _, dup := set.byID[r.ID]; dup {
			problems = append(problems, ItemError{Index: idx, RuleID: r.ID, Reason: "duplicate rule id"})
			continue
		}
		set.byID[r.ID] = len(set.rules)
		set.rules = append(set.rules, r)
	}
	if len(problems) > 0 {
		return nil, &LoadError{Items: problems}
	}
	return set, nil
}

func (l *Loader) check(r *Rule) error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("id is required")
	}
	if _, ok := ParseType(string(r.Type)); !ok {
		return fmt.Errorf("unknown rule type %q", r.Type)
	}
	if r.ResourceType == "" {
		return errors.New("resourceType is required")
	}
	if _, ok := rc.ParseSeverity(string(r.Severity)); !ok {
		return fmt.Errorf("unknown severity %q", r.Severity)
	}
	r.Severity = rc.NormalizeSeverity(string(r.Severity))

	tp := r.TargetPath
	if tp.ResourceType != "" && tp.ResourceType != r.ResourceType {
		return fmt.Errorf("targetPath %s is rooted at %s, rule applies to %s", tp, tp.ResourceType, r.ResourceType)
	}
	if tp.IsRoot() && r.Type != TypeResource {
		return errors.New("targetPath is required")
	}
	r.TargetPath = tp.WithResourceType(r.ResourceType)

	if r.Params == nil {
		r.Params, _ = NewParams(r.Type)
	}
	if r.Params.Type() != r.Type {
		return fmt.Errorf("params are %s, rule type is %s", r.Params.Type(), r.Type)
	}
	if err := r.Params.prepare(l, r); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	return nil
}

func sortItems(items []ItemError) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Index < items[j].Index })
}
