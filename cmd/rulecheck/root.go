package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gofhir/rulecheck/internal/config"
	"github.com/gofhir/rulecheck/pkg/logger"
	"github.com/gofhir/rulecheck/pkg/worker"
)

// errValidationFailed signals a non-zero exit after the report was printed.
var errValidationFailed = errors.New("validation failed")

type globalFlags struct {
	configFile string
	logLevel   string
	output     string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "rulecheck",
		Short:         "Validate FHIR bundles against business rules",
		Long:          "rulecheck validates FHIR bundles against structural checks, project business rules and reference policies, and infers candidate rules from sample bundles.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.configFile, "config", "", "Configuration file (default: ./rulecheck.yaml if present)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error, none")
	cmd.PersistentFlags().StringVarP(&g.output, "output", "o", "", "Output format: text or json")

	cmd.AddCommand(newValidateCmd(g))
	cmd.AddCommand(newSuggestCmd(g))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// override records flag in o under key when the user set it.
func override(cmd *cobra.Command, o map[string]any, flag, key string, value any) {
	if cmd.Flags().Changed(flag) {
		o[key] = value
	}
}

// load reads the configuration with the command's flag overrides applied
// and installs the console logger.
func (g *globalFlags) load(cmd *cobra.Command, o map[string]any) (*config.Config, *logger.Logger, error) {
	override(cmd, o, "log-level", "log_level", g.logLevel)
	override(cmd, o, "output", "output", g.output)

	cfg, err := config.Load(g.configFile, o)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.NewConsole(cmd.ErrOrStderr(), cfg.Level())
	logger.SetDefault(log)
	if cfg.File != "" {
		log.Debug("using config %s", cfg.File)
	}
	return cfg, log, nil
}

// readJobs turns file arguments into jobs; "-" reads stdin.
func readJobs(stdin io.Reader, args []string) ([]worker.Job, error) {
	jobs := make([]worker.Job, 0, len(args))
	for _, name := range args {
		var (
			data []byte
			err  error
		)
		if name == "-" {
			data, err = io.ReadAll(stdin)
			name = ""
		} else {
			data, err = os.ReadFile(name)
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		jobs = append(jobs, worker.NewJob(name, data))
	}
	return jobs, nil
}
