package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gofhir/rulecheck/internal/config"
	"github.com/gofhir/rulecheck/internal/report"
	"github.com/gofhir/rulecheck/pkg/worker"
)

func newValidateCmd(g *globalFlags) *cobra.Command {
	var (
		rulesFile         string
		codeFiles         []string
		dsn               string
		table             string
		sds               []string
		policy            string
		workers           int
		concurrency       int
		timeout           string
		strict            bool
		reportUnreachable bool
	)

	cmd := &cobra.Command{
		Use:   "validate <bundle.json>... | -",
		Short: "Validate bundles",
		Long:  "Validate bundles against structural checks, the rule set, the code master and the reference policy. Exits non-zero when any bundle fails.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o := map[string]any{}
			override(cmd, o, "rules", "rules", rulesFile)
			override(cmd, o, "codemaster", "codemaster.files", codeFiles)
			override(cmd, o, "codemaster-dsn", "codemaster.dsn", dsn)
			override(cmd, o, "codemaster-table", "codemaster.table", table)
			override(cmd, o, "sd", "structure_definitions", sds)
			override(cmd, o, "policy", "reference_policy", policy)
			override(cmd, o, "workers", "workers", workers)
			override(cmd, o, "concurrency", "concurrency", concurrency)
			override(cmd, o, "timeout", "run_timeout", timeout)
			override(cmd, o, "strict", "strict_mode", strict)
			override(cmd, o, "report-unreachable", "report_unreachable", reportUnreachable)

			cfg, log, err := g.load(cmd, o)
			if err != nil {
				return err
			}
			settings, err := cfg.Settings()
			if err != nil {
				return err
			}

			set, err := loadRules(cfg)
			if err != nil {
				return fmt.Errorf("loading rules: %w", err)
			}
			cm, err := loadCodeMaster(cmd.Context(), cfg, log)
			if err != nil {
				return fmt.Errorf("loading code master: %w", err)
			}
			p, err := newPipeline(cfg, log)
			if err != nil {
				return err
			}
			jobs, err := readJobs(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			log.Info("validating %d bundles with %d rules (%s)", len(jobs), set.Len(), settings.ReferencePolicy)

			v := worker.NewPipelineValidator(p, set, cm, settings)
			br := worker.NewBatch(v, cfg.Concurrency).Validate(cmd.Context(), jobs)

			if cfg.Output == config.OutputJSON {
				if err := report.JSON(cmd.OutOrStdout(), report.FromBatch(br)); err != nil {
					return err
				}
			} else {
				fmt.Fprint(cmd.OutOrStdout(), report.RenderBatch(br))
			}

			if br.Passed() < br.TotalJobs {
				return errValidationFailed
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&rulesFile, "rules", "r", "", "Rule set file (YAML or JSON)")
	f.StringSliceVar(&codeFiles, "codemaster", nil, "Code master files (YAML, FHIR CodeSystem/ValueSet/Bundle)")
	f.StringVar(&dsn, "codemaster-dsn", "", "PostgreSQL DSN of the code master table")
	f.StringVar(&table, "codemaster-table", "", "Code master table with system and code columns")
	f.StringSliceVar(&sds, "sd", nil, "StructureDefinition files for choice elements and element checks")
	f.StringVar(&policy, "policy", "", "Reference policy: in-bundle-only, allow-external, require-resolution")
	f.IntVar(&workers, "workers", 0, "Parallel rule workers per bundle")
	f.IntVar(&concurrency, "concurrency", 0, "Bundles validated in parallel")
	f.StringVar(&timeout, "timeout", "", "Timeout per bundle, e.g. 30s")
	f.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	f.BoolVar(&reportUnreachable, "report-unreachable", false, "Report unreachable document and message entries")
	return cmd
}
