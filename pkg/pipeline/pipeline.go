// Package pipeline orchestrates one validation run: structural validation,
// rule evaluation and reference resolution execute concurrently over the
// same bundle and their findings are unified into one result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/pkg/bundle"
	"github.com/gofhir/rulecheck/pkg/codemaster"
	"github.com/gofhir/rulecheck/pkg/engine"
	"github.com/gofhir/rulecheck/pkg/logger"
	"github.com/gofhir/rulecheck/pkg/reference"
	"github.com/gofhir/rulecheck/pkg/rules"
	"github.com/gofhir/rulecheck/pkg/structural"
	"github.com/gofhir/rulecheck/pkg/unify"
)

var (
	// ErrCancelled wraps the context error of a run that was cancelled or
	// timed out. Such a run yields no result.
	ErrCancelled = errors.New("validation run cancelled")

	// ErrNilBundle is returned when Run is called without a bundle.
	ErrNilBundle = errors.New("no bundle to validate")
)

// Config holds the collaborators of a Pipeline. Zero fields get defaults.
type Config struct {
	Engine     *engine.Engine
	References *reference.Resolver

	// Structural validates the bundle structure. Defaults to
	// structural.NewBasic().
	Structural structural.Validator

	Logger  *logger.Logger
	Metrics *rc.Metrics
}

// Pipeline runs validation. It keeps no per-run state, so one Pipeline
// serves any number of concurrent runs.
type Pipeline struct {
	engine     *engine.Engine
	references *reference.Resolver
	structural structural.Validator
	phases     []Phase
	log        *logger.Logger
	metrics    *rc.Metrics
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		engine:     cfg.Engine,
		references: cfg.References,
		structural: cfg.Structural,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
	}
	if p.log == nil {
		p.log = logger.Default()
	}
	if p.engine == nil {
		p.engine = engine.New(engine.WithLogger(p.log))
	}
	if p.references == nil {
		p.references = reference.New(reference.Config{Navigator: p.engine.Navigator(), Logger: p.log})
	}
	if p.structural == nil {
		p.structural = structural.NewBasic()
	}
	if p.metrics == nil {
		p.metrics = rc.NewMetrics()
	}

	p.phases = []Phase{
		NewPhaseFunc(PhaseStructural, rc.SourceStructural, p.validateStructure),
		NewPhaseFunc(PhaseRules, rc.SourceRule, p.evaluateRules),
		NewPhaseFunc(PhaseReferences, rc.SourceReference, p.resolveReferences),
	}
	return p
}

// Metrics returns the metrics collector.
func (p *Pipeline) Metrics() *rc.Metrics {
	return p.metrics
}

// Phases returns the phase identifiers in output order.
func (p *Pipeline) Phases() []PhaseID {
	out := make([]PhaseID, len(p.phases))
	for i, ph := range p.phases {
		out[i] = ph.ID()
	}
	return out
}

// Run validates b. A malformed bundle is rejected before any phase runs.
// A cancelled or timed out run returns an error wrapping ErrCancelled and
// no result; otherwise the result is complete.
//
// A nil rule set or CodeMaster is treated as empty.
func (p *Pipeline) Run(ctx context.Context, b *bundle.Bundle, set *rules.RuleSet, cm *codemaster.CodeMaster, settings rc.Settings) (*rc.Result, error) {
	if b == nil {
		p.metrics.RecordRejected()
		return nil, ErrNilBundle
	}
	if err := b.Check(); err != nil {
		p.metrics.RecordRejected()
		return nil, fmt.Errorf("rejecting bundle: %w", err)
	}
	if set == nil {
		set, _ = rules.NewRuleSet()
	}
	if cm == nil {
		cm = codemaster.NewBuilder().Build()
	}

	runID := uuid.NewString()
	log := p.log.With("run", runID)
	start := time.Now()

	if settings.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.RunTimeout)
		defer cancel()
	}

	log.Debug("validating bundle %q: %d entries, %d rules, policy %s",
		b.ID(), b.Len(), set.Len(), settings.ReferencePolicy)

	in := &Input{Bundle: b, Rules: set, Codes: cm, Settings: settings}
	results := p.Execute(ctx, in)
	if err := ctx.Err(); err != nil {
		p.metrics.RecordFailed()
		log.Warn("run abandoned after %s: %v", time.Since(start), err)
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	var findings []rc.Finding
	for i, r := range results {
		findings = append(findings, r.Findings...)
		if r.Err != nil {
			log.Warn("phase %s failed: %v", r.Phase, r.Err)
			findings = append(findings, degraded(p.phases[i], r.Err))
		}
	}

	res := unify.Build(findings, unify.FromSettings(settings))
	elapsed := time.Since(start)
	p.metrics.RecordRun(elapsed, res)
	log.Info("bundle %q validated in %s: passed=%t errors=%d warnings=%d",
		b.ID(), elapsed, res.Passed, res.Counts.Error, res.Counts.Warning)
	return res, nil
}

// Execute runs every phase concurrently and waits for all of them. Results
// are in phase order regardless of completion order.
func (p *Pipeline) Execute(ctx context.Context, in *Input) []PhaseResult {
	results := make([]PhaseResult, len(p.phases))
	var g errgroup.Group
	for i, ph := range p.phases {
		g.Go(func() error {
			start := time.Now()
			fs, err := p.validate(ctx, ph, in)
			d := time.Since(start)
			p.metrics.RecordPhase(string(ph.ID()), d, len(fs))
			results[i] = PhaseResult{Phase: ph.ID(), Findings: fs, Duration: d, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// validate runs one phase, turning a panic into the phase's error.
func (p *Pipeline) validate(ctx context.Context, ph Phase, in *Input) (fs []rc.Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("phase %s panicked: %v", ph.ID(), r)
			fs, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return ph.Validate(ctx, in)
}

func (p *Pipeline) validateStructure(ctx context.Context, in *Input) ([]rc.Finding, error) {
	return p.structural.Validate(ctx, in.Bundle)
}

func (p *Pipeline) evaluateRules(ctx context.Context, in *Input) ([]rc.Finding, error) {
	eng := p.engine.With(
		engine.WithNavigator(p.engine.Navigator().WithMaxDepth(in.Settings.MaxDepth)),
		engine.WithWorkers(in.Settings.Workers),
	)
	return eng.Evaluate(ctx, in.Bundle, in.Rules, in.Codes)
}

func (p *Pipeline) resolveReferences(ctx context.Context, in *Input) ([]rc.Finding, error) {
	return p.references.WithSettings(in.Settings).Resolve(ctx, in.Bundle, in.Settings.ReferencePolicy)
}

// degraded turns a phase that could not complete into a warning, so an
// unavailable collaborator never fails the run by itself.
func degraded(ph Phase, err error) rc.Finding {
	return rc.NewFinding(ph.Source(), rc.SeverityWarning, rc.CodeProcessing).
		Message(fmt.Sprintf("%s validation did not complete: %v", ph.ID(), err)).
		At("Bundle", "Bundle").
		Build()
}
