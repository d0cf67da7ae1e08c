// Package rulecheck validates FHIR bundles against project business rules
// and infers candidate rules from sample bundles.
//
// The root package holds the shared vocabulary: findings, severities,
// unified errors, results, settings and metrics. Components live under pkg/.
//
// # Quick Start
//
//	import (
//	    rc "github.com/gofhir/rulecheck"
//	    "github.com/gofhir/rulecheck/pkg/bundle"
//	    "github.com/gofhir/rulecheck/pkg/pipeline"
//	    "github.com/gofhir/rulecheck/pkg/rules"
//	)
//
//	b, err := bundle.Parse(data)
//	set, err := rules.Load(ruleYAML)
//	p := pipeline.New(pipeline.Config{})
//	result, err := p.Run(ctx, b, set, codes, rc.NewSettings(
//	    rc.WithReferencePolicy(rc.AllowExternal),
//	))
//	for _, e := range result.Errors {
//	    fmt.Println(e.Severity, e.Path, e.Message)
//	}
//
// # Phases
//
// A run executes three independent phases and merges their findings:
//
//   - Structural: delegated to a structural.Validator collaborator
//   - Rules: business rules from a rules.RuleSet, checked against a CodeMaster
//   - References: in-bundle and external reference resolution under a policy
//
// Raw findings are deduplicated and ordered by pkg/unify, so two runs on
// identical input always produce identical results.
//
// # Suggestions
//
// pkg/suggest profiles sample bundles and emits scored rule candidates that
// can be exported as rule drafts.
package rulecheck
