// Package structural defines the structural validation collaborator of the
// pipeline and ships two implementations: Basic, which checks the Bundle
// envelope, and Elements, which checks resources against StructureDefinition
// snapshots.
package structural

import (
	"context"
	"errors"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/pkg/bundle"
)

// Validator validates the structure of a bundle. A returned error means the
// validator could not run; it is not a finding.
type Validator interface {
	Validate(ctx context.Context, b *bundle.Bundle) ([]rc.Finding, error)
}

// Func adapts a function to Validator.
type Func func(ctx context.Context, b *bundle.Bundle) ([]rc.Finding, error)

// Validate implements Validator.
func (f Func) Validate(ctx context.Context, b *bundle.Bundle) ([]rc.Finding, error) {
	return f(ctx, b)
}

// Chain runs validators in order and concatenates their findings. Every
// validator runs; their errors are joined.
type Chain []Validator

// Validate implements Validator.
func (c Chain) Validate(ctx context.Context, b *bundle.Bundle) ([]rc.Finding, error) {
	var (
		out  []rc.Finding
		errs []error
	)
	for _, v := range c {
		if v == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fs, err := v.Validate(ctx, b)
		if err != nil {
			errs = append(errs, err)
		}
		out = append(out, fs...)
	}
	return out, errors.Join(errs...)
}

func issue(sev rc.Severity, code rc.Code, resourceType, path, msg string) *rc.FindingBuilder {
	return rc.NewFinding(rc.SourceStructural, sev, code).Message(msg).At(resourceType, path)
}
