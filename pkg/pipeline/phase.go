package pipeline

import (
	"context"
	"time"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/pkg/bundle"
	"github.com/gofhir/rulecheck/pkg/codemaster"
	"github.com/gofhir/rulecheck/pkg/rules"
)

// PhaseID identifies a validation phase.
type PhaseID string

// Standard phase identifiers, in output order.
const (
	PhaseStructural PhaseID = "structural"
	PhaseRules      PhaseID = "rules"
	PhaseReferences PhaseID = "references"
)

// Input is everything one run validates against. It is read-only for the
// duration of the run.
type Input struct {
	Bundle   *bundle.Bundle
	Rules    *rules.RuleSet
	Codes    *codemaster.CodeMaster
	Settings rc.Settings
}

// Phase is one independent part of a run.
//
// Phases must be safe for concurrent use: every phase of a run executes at
// the same time against the same Input. An error means the phase could not
// complete; it is not a finding.
type Phase interface {
	ID() PhaseID
	Source() rc.Source
	Validate(ctx context.Context, in *Input) ([]rc.Finding, error)
}

// PhaseFunc adapts a function to Phase.
type PhaseFunc struct {
	id     PhaseID
	source rc.Source
	fn     func(ctx context.Context, in *Input) ([]rc.Finding, error)
}

// NewPhaseFunc creates a Phase from a function.
func NewPhaseFunc(id PhaseID, source rc.Source, fn func(ctx context.Context, in *Input) ([]rc.Finding, error)) *PhaseFunc {
	return &PhaseFunc{id: id, source: source, fn: fn}
}

// ID implements Phase.
func (p *PhaseFunc) ID() PhaseID { return p.id }

// Source implements Phase.
func (p *PhaseFunc) Source() rc.Source { return p.source }

// Validate implements Phase.
func (p *PhaseFunc) Validate(ctx context.Context, in *Input) ([]rc.Finding, error) {
	return p.fn(ctx, in)
}

// PhaseResult holds the outcome of one phase.
type PhaseResult struct {
	Phase    PhaseID
	Findings []rc.Finding
	Duration time.Duration

	// Err is set when the phase could not complete.
	Err error
}
