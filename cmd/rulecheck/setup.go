package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gofhir/rulecheck/internal/config"
	"github.com/gofhir/rulecheck/pkg/codemaster"
	"github.com/gofhir/rulecheck/pkg/engine"
	"github.com/gofhir/rulecheck/pkg/logger"
	"github.com/gofhir/rulecheck/pkg/model"
	"github.com/gofhir/rulecheck/pkg/path"
	"github.com/gofhir/rulecheck/pkg/pipeline"
	"github.com/gofhir/rulecheck/pkg/reference"
	"github.com/gofhir/rulecheck/pkg/rules"
	"github.com/gofhir/rulecheck/pkg/structural"
)

// navigator builds a path navigator that recognizes the choice elements of
// the configured StructureDefinitions before the built-in table.
func navigator(cfg *config.Config) (*path.Navigator, error) {
	if len(cfg.StructureDefinitions) == 0 {
		return path.New(nil, cfg.MaxDepth), nil
	}
	sds, err := model.LoadStructureDefinitions(cfg.StructureDefinitions...)
	if err != nil {
		return nil, err
	}
	return path.New(model.Chain{sds, model.Default()}, cfg.MaxDepth), nil
}

func structuralValidator(cfg *config.Config) (structural.Validator, error) {
	if len(cfg.StructureDefinitions) == 0 {
		return structural.NewBasic(), nil
	}
	elements, err := structural.LoadElements(cfg.StructureDefinitions...)
	if err != nil {
		return nil, err
	}
	return structural.Chain{structural.NewBasic(), elements}, nil
}

func newPipeline(cfg *config.Config, log *logger.Logger) (*pipeline.Pipeline, error) {
	nav, err := navigator(cfg)
	if err != nil {
		return nil, err
	}
	sv, err := structuralValidator(cfg)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Config{
		Engine: engine.New(engine.WithNavigator(nav), engine.WithWorkers(cfg.Workers), engine.WithLogger(log)),
		References: reference.New(reference.Config{
			Navigator:         nav,
			Logger:            log,
			LookupTimeout:     cfg.LookupTimeout,
			Workers:           cfg.Workers,
			ReportUnreachable: cfg.ReportUnreachable,
		}),
		Structural: sv,
		Logger:     log,
	}), nil
}

func loadRules(cfg *config.Config) (*rules.RuleSet, error) {
	if cfg.RulesFile == "" {
		return rules.NewRuleSet()
	}
	return rules.LoadFile(cfg.RulesFile)
}

// loadCodeMaster merges the configured code master files with the rows of
// the configured PostgreSQL table.
func loadCodeMaster(ctx context.Context, cfg *config.Config, log *logger.Logger) (*codemaster.CodeMaster, error) {
	files, err := codemaster.LoadFiles(cfg.CodeMaster.Files...)
	if err != nil {
		return nil, err
	}
	if cfg.CodeMaster.DSN == "" {
		return files, nil
	}

	pool, err := pgxpool.New(ctx, cfg.CodeMaster.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to code master database: %w", err)
	}
	defer pool.Close()

	db, err := codemaster.LoadPostgres(ctx, codemaster.FromPool(pool), cfg.CodeMaster.Table)
	if err != nil {
		return nil, err
	}
	log.Info("loaded %d codes from %s", db.Len(), cfg.CodeMaster.Table)
	return codemaster.Merge(files, db), nil
}
