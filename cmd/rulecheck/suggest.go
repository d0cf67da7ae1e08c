package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gofhir/rulecheck/internal/config"
	"github.com/gofhir/rulecheck/internal/report"
	"github.com/gofhir/rulecheck/pkg/bundle"
	"github.com/gofhir/rulecheck/pkg/suggest"
)

func newSuggestCmd(g *globalFlags) *cobra.Command {
	var (
		minLevel    string
		outFile     string
		sds         []string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "suggest <bundle.json>... | -",
		Short: "Suggest rules from sample bundles",
		Long:  "Profile sample bundles and print scored rule candidates. With --out, the candidates at or above --min-level are written as a rule file.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o := map[string]any{}
			override(cmd, o, "min-level", "suggest.min_level", minLevel)
			override(cmd, o, "sd", "structure_definitions", sds)
			override(cmd, o, "concurrency", "concurrency", concurrency)

			cfg, log, err := g.load(cmd, o)
			if err != nil {
				return err
			}
			level, err := cfg.MinLevel()
			if err != nil {
				return err
			}
			nav, err := navigator(cfg)
			if err != nil {
				return err
			}

			jobs, err := readJobs(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			samples := make([]*bundle.Bundle, 0, len(jobs))
			for _, j := range jobs {
				b, err := bundle.Parse(j.Data)
				if err != nil {
					return fmt.Errorf("%s: %w", j.Name, err)
				}
				if err := b.Check(); err != nil {
					log.Warn("%s: %v", j.Name, err)
				}
				samples = append(samples, b)
			}

			eng, err := suggest.NewEngine(
				suggest.WithNavigator(nav),
				suggest.WithThresholds(cfg.Suggest.Thresholds),
				suggest.WithWorkers(cfg.Concurrency),
				suggest.WithLogger(log),
			)
			if err != nil {
				return err
			}
			out, err := eng.Profile(cmd.Context(), samples)
			if err != nil {
				return err
			}

			if outFile != "" {
				data, err := suggest.Export(out, level)
				if err != nil {
					return fmt.Errorf("exporting rules: %w", err)
				}
				if err := os.WriteFile(outFile, data, 0o644); err != nil {
					return err
				}
				log.Info("wrote rule drafts at %s level and above to %s", level, outFile)
			}

			if cfg.Output == config.OutputJSON {
				return report.JSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprint(cmd.OutOrStdout(), report.RenderSuggestions(out))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&minLevel, "min-level", "", "Lowest confidence level exported: Low, Medium, High")
	f.StringVar(&outFile, "out", "", "Write rule drafts to this file")
	f.StringSliceVar(&sds, "sd", nil, "StructureDefinition files for choice elements")
	f.IntVar(&concurrency, "concurrency", 0, "Bundles profiled in parallel")
	return cmd
}
