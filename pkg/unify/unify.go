// Package unify turns the raw findings of all validation phases into the
// canonical, deduplicated and deterministically ordered error list.
package unify

import (
	"fmt"
	"sort"

	rc "github.com/gofhir/rulecheck"
)

// Options control unification.
type Options struct {
	// StrictMode promotes warnings to errors.
	StrictMode bool
}

// FromSettings returns the unification options of s.
func FromSettings(s rc.Settings) Options {
	return Options{StrictMode: s.StrictMode}
}

type dedupKey struct {
	resourceType, path, ruleID, message string
}

// Build normalizes, deduplicates and orders findings. Findings equal in
// resource type, path, rule id and message merge into one UnifiedError that
// keeps the highest severity and counts its occurrences. The output does
// not depend on the order of findings.
func Build(findings []rc.Finding, opts Options) *rc.Result {
	groups := make(map[dedupKey]*rc.UnifiedError, len(findings))
	entries := make(map[dedupKey]map[int]struct{})

	for _, f := range findings {
		f.Severity = rc.NormalizeSeverity(string(f.Severity))
		if opts.StrictMode && f.Severity == rc.SeverityWarning {
			f.Severity = rc.SeverityError
		}
		k := dedupKey{f.ResourceType, f.Path, f.RuleID, f.Message}

		u, ok := groups[k]
		if !ok {
			u = &rc.UnifiedError{}
			groups[k] = u
			entries[k] = make(map[int]struct{})
		}
		if !ok || prefer(f, u) {
			occ := u.Occurrences
			*u = rc.UnifiedError{
				Source:       f.Source,
				Category:     Categorize(f),
				Severity:     f.Severity,
				Code:         f.Code,
				ResourceType: f.ResourceType,
				Path:         f.Path,
				RuleID:       f.RuleID,
				Message:      f.Message,
				Evidence:     f.Evidence,
				Occurrences:  occ,
			}
		}
		u.Occurrences++
		if f.EntryIndex >= 0 {
			entries[k][f.EntryIndex] = struct{}{}
		}
	}

	out := make([]rc.UnifiedError, 0, len(groups))
	for k, u := range groups {
		for i := range entries[k] {
			u.Entries = append(u.Entries, i)
		}
		sort.Ints(u.Entries)
		u.Key = key(u)
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return less(&out[i], &out[j]) })

	res := &rc.Result{Errors: out}
	for i := range out {
		switch out[i].Severity {
		case rc.SeverityError:
			res.Counts.Error++
		case rc.SeverityWarning:
			res.Counts.Warning++
		default:
			res.Counts.Info++
		}
	}
	res.Passed = res.Counts.Error == 0
	return res
}

// prefer reports whether f should represent its group instead of the
// current representative u. Higher severity wins; ties fall back to source,
// code and evidence so the choice is independent of input order.
func prefer(f rc.Finding, u *rc.UnifiedError) bool {
	if a, b := f.Severity.Rank(), u.Severity.Rank(); a != b {
		return a < b
	}
	if f.Source != u.Source {
		return f.Source < u.Source
	}
	if f.Code != u.Code {
		return f.Code < u.Code
	}
	return f.Evidence < u.Evidence
}

func less(a, b *rc.UnifiedError) bool {
	switch {
	case a.ResourceType != b.ResourceType:
		return a.ResourceType < b.ResourceType
	case a.Path != b.Path:
		return a.Path < b.Path
	case a.Severity.Rank() != b.Severity.Rank():
		return a.Severity.Rank() < b.Severity.Rank()
	case a.RuleID != b.RuleID:
		return a.RuleID < b.RuleID
	case a.Message != b.Message:
		return a.Message < b.Message
	}
	return a.Source < b.Source
}

func key(u *rc.UnifiedError) string {
	return fmt.Sprintf("%s|%s|%d|%s|%s", u.ResourceType, u.Path, u.Severity.Rank(), u.RuleID, u.Message)
}

// Categorize derives the stable category of a finding.
func Categorize(f rc.Finding) rc.Category {
	switch {
	case f.Code == rc.CodeException || f.Code == rc.CodeProcessing:
		return rc.CategoryEvaluation
	case f.Source == rc.SourceReference:
		return rc.CategoryReference
	case f.Code == rc.CodeCodeInvalid && f.Source == rc.SourceRule:
		return rc.CategoryTerminology
	case f.Source == rc.SourceStructural:
		return rc.CategoryStructure
	}
	return rc.CategoryBusinessRule
}
