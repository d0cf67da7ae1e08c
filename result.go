package rulecheck

// UnifiedError is the canonical form of a Finding after deduplication and
// ordering.
type UnifiedError struct {
	Source       Source   `json:"source"`
	Category     Category `json:"category"`
	Severity     Severity `json:"severity"`
	Code         Code     `json:"code,omitempty"`
	ResourceType string   `json:"resourceType,omitempty"`
	Path         string   `json:"path,omitempty"`
	RuleID       string   `json:"ruleId,omitempty"`
	Message      string   `json:"message"`
	Evidence     string   `json:"evidence,omitempty"`

	// Occurrences counts the raw findings merged into this error.
	Occurrences int `json:"occurrences"`

	// Entries lists the distinct bundle entry indexes, ascending.
	Entries []int `json:"entries,omitempty"`

	// Key is the ordering key; equal inputs always yield equal keys.
	Key string `json:"key"`
}

// IsError returns true if this is an error.
func (e UnifiedError) IsError() bool {
	return e.Severity == SeverityError
}

// Counts holds the number of unified errors per severity.
type Counts struct {
	Error   int `json:"error"`
	Warning int `json:"warning"`
	Info    int `json:"information"`
}

// Total returns the number of unified errors.
func (c Counts) Total() int {
	return c.Error + c.Warning + c.Info
}

// Result contains the outcome of validating a bundle.
type Result struct {
	// Errors is the deduplicated, deterministically ordered error list.
	Errors []UnifiedError `json:"errors"`

	// Passed is true if no error-severity entries exist (warnings allowed).
	Passed bool `json:"passed"`

	Counts Counts `json:"counts"`
}

// HasErrors returns true if there are any error-severity entries.
func (r *Result) HasErrors() bool {
	return r.Counts.Error > 0
}

// Filter returns the entries matching the given severity.
func (r *Result) Filter(severity Severity) []UnifiedError {
	var out []UnifiedError
	for _, e := range r.Errors {
		if e.Severity == severity {
			out = append(out, e)
		}
	}
	return out
}

// ByRule returns the entries produced by the given rule id.
func (r *Result) ByRule(ruleID string) []UnifiedError {
	var out []UnifiedError
	for _, e := range r.Errors {
		if e.RuleID == ruleID {
			out = append(out, e)
		}
	}
	return out
}
