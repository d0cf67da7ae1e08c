// Package suggest infers candidate business rules from sample bundles.
//
// Profiling walks every resource of the samples and accumulates, per
// resource type and logical path, how often the path occurs, which values
// and value formats it carries and which code systems appear in it. Each
// profiled path may then yield Required, ArrayLength, AllowedValues, Regex
// and CodeSystem candidates, scored by a fixed formula. Identical samples
// and thresholds always yield identical suggestions.
package suggest

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"slices"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/gofhir/rulecheck/pkg/bundle"
	"github.com/gofhir/rulecheck/pkg/logger"
	"github.com/gofhir/rulecheck/pkg/path"
	"github.com/gofhir/rulecheck/pkg/rules"
)

// Suggestion is one scored rule candidate.
type Suggestion struct {
	RuleType     rules.Type   `json:"ruleType" yaml:"ruleType"`
	ResourceType string       `json:"resourceType" yaml:"resourceType"`
	TargetPath   string       `json:"targetPath" yaml:"targetPath"`
	Params       rules.Params `json:"params,omitempty" yaml:"params,omitempty"`

	Score     Breakdown `json:"score" yaml:"score"`
	Level     Level     `json:"confidenceLevel" yaml:"confidenceLevel"`
	Rationale string    `json:"rationale" yaml:"rationale"`

	// Evidence holds up to EvidenceLimit observed values, first seen first.
	Evidence []string `json:"evidence,omitempty" yaml:"evidence,omitempty"`

	SampleSize int `json:"sampleSize" yaml:"sampleSize"`

	// Coverage is the percentage of resources of ResourceType the
	// candidate is based on.
	Coverage float64 `json:"coverage" yaml:"coverage"`
}

// Engine profiles sample bundles. It is safe for concurrent use.
type Engine struct {
	nav     *path.Navigator
	th      Thresholds
	workers int
	log     *logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithNavigator sets the path navigator used to walk resources.
func WithNavigator(nav *path.Navigator) Option {
	return func(e *Engine) {
		if nav != nil {
			e.nav = nav
		}
	}
}

// WithThresholds replaces the default thresholds.
func WithThresholds(th Thresholds) Option {
	return func(e *Engine) {
		e.th = th
	}
}

// WithWorkers bounds the number of bundles profiled concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine creates an Engine. It fails if the thresholds are out of range.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		nav:     path.New(nil, path.DefaultMaxDepth),
		th:      DefaultThresholds(),
		workers: runtime.NumCPU(),
		log:     logger.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.th.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	return e, nil
}

// Thresholds returns the engine's thresholds.
func (e *Engine) Thresholds() Thresholds {
	return e.th
}

// Profile profiles bundles and returns the rule candidates, best first.
// Nil bundles are skipped.
func (e *Engine) Profile(ctx context.Context, bundles []*bundle.Bundle) ([]Suggestion, error) {
	p, err := e.profile(ctx, bundles)
	if err != nil {
		return nil, err
	}
	out := p.suggestions()
	e.log.Info("profiled %d bundles: %d paths, %d suggestions", len(bundles), len(p.order), len(out))
	return out, nil
}

// Classify profiles bundles and returns the classification of every
// observed path, sorted by resource type and path.
func (e *Engine) Classify(ctx context.Context, bundles []*bundle.Bundle) ([]Classification, error) {
	p, err := e.profile(ctx, bundles)
	if err != nil {
		return nil, err
	}
	return p.classifications(), nil
}

// profile builds one profile per bundle concurrently, then merges them in
// bundle order.
func (e *Engine) profile(ctx context.Context, bundles []*bundle.Bundle) (*profile, error) {
	parts := make([]*profile, len(bundles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, b := range bundles {
		if b == nil {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p := newProfile(e.th)
			if err := p.addBundle(e.nav, b); err != nil {
				return fmt.Errorf("bundle %d: %w", i, err)
			}
			parts[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := newProfile(e.th)
	for i, p := range parts {
		if p == nil {
			continue
		}
		merged.merge(p)
		e.log.Debug("merged bundle %d: %d resources", i, p.serial)
	}
	return merged, nil
}

// suggestions generates and ranks the candidates of every profiled path.
func (p *profile) suggestions() []Suggestion {
	var out []Suggestion
	for _, k := range p.order {
		out = append(out, p.candidates(p.paths[k])...)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score.Total != b.Score.Total {
			return a.Score.Total > b.Score.Total
		}
		if a.TargetPath != b.TargetPath {
			return a.TargetPath < b.TargetPath
		}
		if a.ResourceType != b.ResourceType {
			return a.ResourceType < b.ResourceType
		}
		return a.RuleType < b.RuleType
	})
	return out
}

func (p *profile) candidates(s *stats) []Suggestion {
	n := p.resources[s.key.resourceType]
	if n == 0 {
		return nil
	}
	var out []Suggestion
	add := func(t rules.Type, params rules.Params, ev evidence, rationale string, samples []string) {
		b := score(t, ev, p.th)
		out = append(out, Suggestion{
			RuleType:     t,
			ResourceType: s.key.resourceType,
			TargetPath:   s.key.path,
			Params:       params,
			Score:        b,
			Level:        LevelFor(b.Total),
			Rationale:    rationale,
			Evidence:     p.limit(samples),
			SampleSize:   ev.sampleSize,
			Coverage:     round2(100 * ev.coverage),
		})
	}

	coverage := float64(s.present) / float64(n)
	if s.present >= p.th.MinOccurrences && coverage >= p.th.RequiredCoverage {
		consistency := 1.0
		if s.arrays > 0 && s.present > 0 {
			consistency = float64(s.nonEmpty) / float64(s.present)
		}
		add(rules.TypeRequired, &rules.RequiredParams{}, evidence{
			coverage:     coverage,
			consistency:  consistency,
			sampleSize:   n,
			outliers:     n - s.present,
			observations: n,
		}, fmt.Sprintf("present in %d of %d %s resources", s.present, n, s.key.resourceType), s.values)
	}

	if s.arrays > 0 {
		nonEmpty := float64(s.nonEmpty) / float64(n)
		if s.nonEmpty >= p.th.MinOccurrences && nonEmpty >= p.th.RequiredCoverage {
			add(rules.TypeArrayLength, &rules.ArrayLengthParams{NonEmpty: true}, evidence{
				coverage:     nonEmpty,
				consistency:  float64(s.arrays-s.emptyArrays) / float64(s.arrays),
				sampleSize:   n,
				outliers:     s.emptyArrays,
				observations: s.arrays,
			}, fmt.Sprintf("non-empty array in %d of %d %s resources", s.nonEmpty, n, s.key.resourceType), s.values)
		}
	}

	prim := s.primitive()
	if textual(prim) && s.codings == 0 {
		if c, ok := p.allowedValues(s, coverage); ok {
			add(rules.TypeAllowedValues, c.params, c.ev, c.rationale, c.values)
		}
		if c, ok := p.regex(s, coverage); ok {
			add(rules.TypeRegex, c.params, c.ev, c.rationale, s.values)
		}
	}

	if s.codings > 0 {
		if c, ok := p.codeSystem(s, n); ok {
			add(rules.TypeCodeSystem, c.params, c.ev, c.rationale, s.pairs)
		}
	}
	return out
}

type candidate struct {
	params    rules.Params
	ev        evidence
	rationale string
	values    []string
}

// allowedValues proposes the observed values as an enumeration when there
// are few of them relative to the occurrences. Values seen fewer than
// MinOccurrences times count as outliers.
func (p *profile) allowedValues(s *stats, coverage float64) (candidate, bool) {
	distinct := len(s.values)
	switch {
	case s.overflow, distinct == 0, s.total < p.th.MinOccurrences:
		return candidate{}, false
	case distinct > p.th.AllowedValuesMaxDistinct:
		return candidate{}, false
	case float64(distinct) > p.th.AllowedValuesMaxRatio*float64(s.total):
		return candidate{}, false
	case coverage < p.th.AllowedValuesMinCoverage:
		return candidate{}, false
	}

	var outliers, rare int
	for _, v := range s.values {
		if c := s.counts[v]; c < p.th.MinOccurrences {
			outliers++
			rare += c
		}
	}
	values := slices.Clone(s.values)
	sort.Strings(values)
	return candidate{
		params: &rules.AllowedValuesParams{Values: values},
		ev: evidence{
			coverage:     coverage,
			consistency:  float64(s.total-rare) / float64(s.total),
			sampleSize:   s.total,
			outliers:     outliers,
			observations: s.total,
		},
		rationale: fmt.Sprintf("%d distinct values in %d occurrences", distinct, s.total),
		values:    values,
	}, true
}

// regex proposes the dominant format signature as a pattern.
func (p *profile) regex(s *stats, coverage float64) (candidate, bool) {
	sh, share := s.dominantShape()
	if sh == nil || len(s.values) < p.th.MinOccurrences || share < p.th.FormatConsistency {
		return candidate{}, false
	}
	shaped := s.unshaped
	for _, o := range s.shapes {
		shaped += o.count
	}
	pattern := sh.regex()
	return candidate{
		params: &rules.RegexParams{Pattern: pattern},
		ev: evidence{
			coverage:     coverage,
			consistency:  share,
			sampleSize:   shaped,
			outliers:     shaped - sh.count,
			observations: shaped,
		},
		rationale: fmt.Sprintf("%d of %d values match %s", sh.count, shaped, pattern),
	}, true
}

// codeSystem proposes checking codings against the code master, restricted
// to the dominant system when it clearly prevails.
func (p *profile) codeSystem(s *stats, n int) (candidate, bool) {
	if s.coded < p.th.MinOccurrences {
		return candidate{}, false
	}
	system, share := s.dominantSystem()
	params := &rules.CodeSystemParams{}
	rationale := fmt.Sprintf("%d codings from %d systems", s.codings, len(s.systemOrder))
	if share >= p.th.FormatConsistency {
		params.System = system
		rationale = fmt.Sprintf("%d of %d codings use %s", s.systems[system], s.codings, system)
	}
	return candidate{
		params: params,
		ev: evidence{
			coverage:     math.Min(1, float64(s.coded)/float64(n)),
			consistency:  share,
			sampleSize:   s.codings,
			outliers:     s.codings - s.systems[system],
			observations: s.codings,
		},
		rationale: rationale,
	}, true
}

func (p *profile) limit(samples []string) []string {
	if len(samples) > p.th.EvidenceLimit {
		samples = samples[:p.th.EvidenceLimit]
	}
	return slices.Clone(samples)
}
