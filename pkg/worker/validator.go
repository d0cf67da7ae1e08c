package worker

import (
	"context"
	"fmt"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/pkg/bundle"
	"github.com/gofhir/rulecheck/pkg/codemaster"
	"github.com/gofhir/rulecheck/pkg/pipeline"
	"github.com/gofhir/rulecheck/pkg/rules"
)

// Validator validates one bundle document.
type Validator interface {
	Validate(ctx context.Context, data []byte) (*rc.Result, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, data []byte) (*rc.Result, error)

// Validate implements Validator.
func (f ValidatorFunc) Validate(ctx context.Context, data []byte) (*rc.Result, error) {
	return f(ctx, data)
}

// PipelineValidator parses bundles and runs them through a pipeline with a
// fixed rule set, code master and settings.
type PipelineValidator struct {
	pipeline *pipeline.Pipeline
	rules    *rules.RuleSet
	codes    *codemaster.CodeMaster
	settings rc.Settings
}

// NewPipelineValidator creates a PipelineValidator.
func NewPipelineValidator(p *pipeline.Pipeline, set *rules.RuleSet, cm *codemaster.CodeMaster, settings rc.Settings) *PipelineValidator {
	return &PipelineValidator{pipeline: p, rules: set, codes: cm, settings: settings}
}

// Validate implements Validator.
func (v *PipelineValidator) Validate(ctx context.Context, data []byte) (*rc.Result, error) {
	b, err := bundle.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing bundle: %w", err)
	}
	return v.pipeline.Run(ctx, b, v.rules, v.codes, v.settings)
}
