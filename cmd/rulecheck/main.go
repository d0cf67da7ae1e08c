// Command rulecheck validates FHIR bundles against business rules and
// suggests rules from sample bundles.
//
// Usage:
//
//	rulecheck validate --rules rules.yaml --codemaster loinc.yaml bundle.json...
//	rulecheck suggest --out suggested.yaml samples/*.json
//	rulecheck version
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errValidationFailed) {
			fmt.Fprintln(os.Stderr, "rulecheck:", err)
		}
		os.Exit(1)
	}
}
