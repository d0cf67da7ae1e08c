// Package engine evaluates rule sets against bundles.
//
// Rules are independent of one another: each rule is evaluated against every
// entry whose resource type it targets and writes its findings into its own
// slot. Slots are concatenated in rule order, so the output does not depend
// on how the rules were scheduled.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/pkg/bundle"
	"github.com/gofhir/rulecheck/pkg/codemaster"
	"github.com/gofhir/rulecheck/pkg/logger"
	"github.com/gofhir/rulecheck/pkg/path"
	"github.com/gofhir/rulecheck/pkg/rules"
)

// Engine evaluates rules. It holds no per-run state and is safe for
// concurrent use.
type Engine struct {
	nav     *path.Navigator
	workers int
	log     *logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithNavigator sets the path navigator. The default navigator uses the
// built-in choice element table.
func WithNavigator(nav *path.Navigator) Option {
	return func(e *Engine) {
		if nav != nil {
			e.nav = nav
		}
	}
}

// WithWorkers bounds the number of rules evaluated concurrently.
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

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		nav:     path.New(nil, path.DefaultMaxDepth),
		workers: runtime.NumCPU(),
		log:     logger.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// With returns a copy of e with opts applied.
func (e *Engine) With(opts ...Option) *Engine {
	c := *e
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// Navigator returns the engine's path navigator.
func (e *Engine) Navigator() *path.Navigator {
	return e.nav
}

// Evaluate applies every rule of set to the matching entries of b. A rule
// whose evaluation fails or panics yields a single exception finding and
// does not affect the other rules.
//
// If ctx is cancelled, Evaluate returns ctx.Err() and no findings.
func (e *Engine) Evaluate(ctx context.Context, b *bundle.Bundle, set *rules.RuleSet, cm *codemaster.CodeMaster) ([]rc.Finding, error) {
	rs := newRun(b, cm)
	list := set.Rules()
	slots := make([][]rc.Finding, len(list))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range list {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := e.evaluateRule(gctx, rs, &list[i])
			if err != nil {
				return err
			}
			slots[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var n int
	for _, s := range slots {
		n += len(s)
	}
	findings := make([]rc.Finding, 0, n)
	for _, s := range slots {
		findings = append(findings, s...)
	}
	return findings, nil
}

// EvaluateRule applies a single rule. It is Evaluate for a one-rule set.
func (e *Engine) EvaluateRule(ctx context.Context, b *bundle.Bundle, r rules.Rule, cm *codemaster.CodeMaster) ([]rc.Finding, error) {
	return e.evaluateRule(ctx, newRun(b, cm), &r)
}

// evaluateRule returns an error only for cancellation.
func (e *Engine) evaluateRule(ctx context.Context, rs *run, r *rules.Rule) (out []rc.Finding, err error) {
	var current = -1
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("rule %s panicked: %v", r.ID, p)
			out = []rc.Finding{exception(r, current, fmt.Errorf("panic: %v", p))}
			err = nil
		}
	}()

	for _, ent := range rs.entries(r.ResourceType) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current = ent.Index
		fs, err := e.check(rs, r, ent)
		if err != nil {
			e.log.Warn("rule %s failed on entry %d: %v", r.ID, ent.Index, err)
			return []rc.Finding{exception(r, ent.Index, err)}, nil
		}
		out = append(out, fs...)
	}
	return out, nil
}

func (e *Engine) check(rs *run, r *rules.Rule, ent bundle.Entry) ([]rc.Finding, error) {
	c := checker{nav: e.nav, rule: r, entry: ent, resource: ent.Resource, codes: rs.codes}
	switch p := r.Params.(type) {
	case *rules.RequiredParams:
		return c.required()
	case *rules.RegexParams, *rules.AllowedValuesParams, *rules.FixedValueParams:
		return c.values(p)
	case *rules.ArrayLengthParams:
		return c.arrayLength(p)
	case *rules.CodeSystemParams:
		return c.codeSystem(p)
	case *rules.QuestionAnswerParams:
		return c.questionAnswer(p)
	case *rules.ResourceParams:
		return c.resourceRule(p, func() ([]byte, error) { return rs.json(ent.Index) })
	}
	return nil, fmt.Errorf("no evaluator for params %T", r.Params)
}

func exception(r *rules.Rule, entry int, err error) rc.Finding {
	return rc.NewFinding(rc.SourceRule, rc.SeverityError, rc.CodeException).
		Message(fmt.Sprintf("rule %s could not be evaluated: %v", r.ID, err)).
		At(r.ResourceType, r.TargetPath.String()).
		Entry(entry).
		Rule(r.ID).
		Build()
}

// run is the read-only input of one evaluation plus the per-entry JSON
// encodings used by FHIRPath expressions.
type run struct {
	byType    map[string][]bundle.Entry
	resources map[int]bundle.Resource
	codes     *codemaster.CodeMaster

	mu      sync.Mutex
	encoded map[int]*encoding
}

type encoding struct {
	once sync.Once
	data []byte
	err  error
}

func newRun(b *bundle.Bundle, cm *codemaster.CodeMaster) *run {
	rs := &run{
		byType:    make(map[string][]bundle.Entry),
		resources: make(map[int]bundle.Resource),
		codes:     cm,
		encoded:   make(map[int]*encoding),
	}
	for _, ent := range b.Entries() {
		if ent.Resource == nil {
			continue
		}
		t := ent.Resource.Type()
		rs.byType[t] = append(rs.byType[t], ent)
		rs.resources[ent.Index] = ent.Resource
	}
	return rs
}

func (rs *run) entries(resourceType string) []bundle.Entry {
	return rs.byType[resourceType]
}

// json encodes an entry's resource at most once per run.
func (rs *run) json(index int) ([]byte, error) {
	rs.mu.Lock()
	enc, ok := rs.encoded[index]
	if !ok {
		enc = &encoding{}
		rs.encoded[index] = enc
	}
	rs.mu.Unlock()

	enc.once.Do(func() {
		res, ok := rs.resources[index]
		if !ok {
			enc.err = fmt.Errorf("entry %d not found", index)
			return
		}
		enc.data, enc.err = json.Marshal(map[string]any(res))
	})
	return enc.data, enc.err
}
