package rulecheck

import (
	"strings"
)

// Severity is the canonical severity of a finding.
// It maps to OperationOutcome.issue.severity in FHIR, minus fatal, which
// callers report as an error return rather than a finding.
type Severity string

const (
	// SeverityError marks a finding that makes the bundle fail validation.
	SeverityError Severity = "error"
	// SeverityWarning marks a potential problem that does not block.
	SeverityWarning Severity = "warning"
	// SeverityInfo marks informational feedback.
	SeverityInfo Severity = "information"
)

// NormalizeSeverity maps the severity vocabularies used by rule files,
// structural validators and terminology services onto the canonical set.
// Unrecognized values map to SeverityInfo.
func NormalizeSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "err", "fatal", "critical", "high", "blocking":
		return SeverityError
	case "warning", "warn", "medium", "moderate":
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// ParseSeverity is the strict form of NormalizeSeverity used when loading
// configuration: it reports false for tokens outside the known vocabularies.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "err", "fatal", "critical", "high", "blocking",
		"warning", "warn", "medium", "moderate",
		"information", "info", "informational", "hint", "note", "low":
		return NormalizeSeverity(s), true
	}
	return "", false
}

// Rank orders severities: lower ranks sort first.
func (s Severity) Rank() int {
	switch NormalizeSeverity(string(s)) {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// Source identifies which phase produced a finding.
type Source string

const (
	SourceStructural Source = "structural"
	SourceRule       Source = "rule"
	SourceReference  Source = "reference"
)

// Category is the stable classification attached during unification.
type Category string

const (
	CategoryStructure    Category = "structure"
	CategoryBusinessRule Category = "business-rule"
	CategoryTerminology  Category = "terminology"
	CategoryReference    Category = "reference"
	CategoryEvaluation   Category = "evaluation"
)

// Code represents the type of a finding.
// Maps to OperationOutcome.issue.code in FHIR.
type Code string

const (
	CodeInvalid      Code = "invalid"
	CodeStructure    Code = "structure"
	CodeRequired     Code = "required"
	CodeValue        Code = "value"
	CodeInvariant    Code = "invariant"
	CodeProcessing   Code = "processing"
	CodeNotFound     Code = "not-found"
	CodeCodeInvalid  Code = "code-invalid"
	CodeBusinessRule Code = "business-rule"
	CodeException    Code = "exception"
	CodeTimeout      Code = "timeout"
	CodeIncomplete   Code = "incomplete"
)

// Finding is a raw, pre-unification validation finding.
type Finding struct {
	Source       Source   `json:"source"`
	ResourceType string   `json:"resourceType,omitempty"`
	Path         string   `json:"path,omitempty"`
	RuleID       string   `json:"ruleId,omitempty"`
	Severity     Severity `json:"severity"`
	Code         Code     `json:"code,omitempty"`
	Message      string   `json:"message"`
	Evidence     string   `json:"evidence,omitempty"`

	// EntryIndex is the bundle entry the finding belongs to, -1 for the
	// bundle itself.
	EntryIndex int `json:"entryIndex"`
}

// IsError returns true if this is an error finding.
func (f Finding) IsError() bool {
	return NormalizeSeverity(string(f.Severity)) == SeverityError
}

// String returns a human-readable representation of the finding.
func (f Finding) String() string {
	path := ""
	if f.Path != "" {
		path = " at " + f.Path
	}
	return string(f.Severity) + ": " + f.Message + path
}

// FindingBuilder provides a fluent API for building findings.
type FindingBuilder struct {
	finding Finding
}

// NewFinding creates a new FindingBuilder.
func NewFinding(source Source, severity Severity, code Code) *FindingBuilder {
	return &FindingBuilder{
		finding: Finding{
			Source:     source,
			Severity:   severity,
			Code:       code,
			EntryIndex: -1,
		},
	}
}

// Message sets the message.
func (b *FindingBuilder) Message(msg string) *FindingBuilder {
	b.finding.Message = msg
	return b
}

// At sets the resource type and path.
func (b *FindingBuilder) At(resourceType, path string) *FindingBuilder {
	b.finding.ResourceType = resourceType
	b.finding.Path = path
	return b
}

// Entry sets the bundle entry index.
func (b *FindingBuilder) Entry(index int) *FindingBuilder {
	b.finding.EntryIndex = index
	return b
}

// Rule sets the originating rule id.
func (b *FindingBuilder) Rule(id string) *FindingBuilder {
	b.finding.RuleID = id
	return b
}

// Evidence sets the offending value as shown to users.
func (b *FindingBuilder) Evidence(evidence string) *FindingBuilder {
	b.finding.Evidence = evidence
	return b
}

// Build returns the constructed finding.
func (b *FindingBuilder) Build() Finding {
	return b.finding
}
