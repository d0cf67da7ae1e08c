package main

import (
	"fmt"

	"github.com/spf13/cobra"

	rc "github.com/gofhir/rulecheck"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show rulecheck version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "rulecheck %s (FHIR %s)\n", rc.Version, rc.R4)
			return nil
		},
	}
}
