package rulecheck

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ReferencePolicy decides how references that leave the bundle are treated.
type ReferencePolicy int

const (
	// InBundleOnly reports every external reference as an error.
	InBundleOnly ReferencePolicy = iota
	// AllowExternal reports external references as non-blocking warnings.
	AllowExternal
	// RequireResolution asks an external lookup to confirm each external
	// reference; failures and timeouts are errors.
	RequireResolution
)

// String returns the configuration token for the policy.
func (p ReferencePolicy) String() string {
	switch p {
	case InBundleOnly:
		return "in-bundle-only"
	case AllowExternal:
		return "allow-external"
	case RequireResolution:
		return "require-resolution"
	default:
		return fmt.Sprintf("ReferencePolicy(%d)", int(p))
	}
}

// ParseReferencePolicy parses a configuration token. Separators and case
// are ignored, so "InBundleOnly", "in_bundle_only" and "in-bundle-only"
// are equivalent.
func ParseReferencePolicy(s string) (ReferencePolicy, error) {
	token := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(s))
	switch token {
	case "inbundleonly", "":
		return InBundleOnly, nil
	case "allowexternal":
		return AllowExternal, nil
	case "requireresolution":
		return RequireResolution, nil
	}
	return InBundleOnly, fmt.Errorf("unknown reference policy %q", s)
}

// Option configures Settings.
type Option func(*Settings)

// Settings holds the per-run configuration of the validation pipeline.
type Settings struct {
	// ReferencePolicy decides the outcome of external references.
	ReferencePolicy ReferencePolicy

	// Workers bounds parallel rule evaluation within one run.
	Workers int

	// RunTimeout bounds a whole run. Use 0 for no timeout.
	RunTimeout time.Duration

	// LookupTimeout bounds each external reference lookup.
	LookupTimeout time.Duration

	// MaxDepth caps path traversal depth.
	MaxDepth int

	// ReportUnreachable reports document/message bundle entries that are
	// not reachable from the first entry.
	ReportUnreachable bool

	// StrictMode treats warnings as errors.
	StrictMode bool
}

// DefaultSettings returns the default configuration.
func DefaultSettings() Settings {
	return Settings{
		ReferencePolicy: InBundleOnly,
		Workers:         runtime.NumCPU(),
		RunTimeout:      0, // no timeout
		LookupTimeout:   5 * time.Second,
		MaxDepth:        64,
	}
}

// NewSettings returns DefaultSettings with opts applied.
func NewSettings(opts ...Option) Settings {
	s := DefaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithReferencePolicy sets the reference resolution policy.
func WithReferencePolicy(p ReferencePolicy) Option {
	return func(s *Settings) {
		s.ReferencePolicy = p
	}
}

// WithWorkers sets the number of parallel rule workers.
// Defaults to runtime.NumCPU().
func WithWorkers(count int) Option {
	return func(s *Settings) {
		if count > 0 {
			s.Workers = count
		}
	}
}

// WithRunTimeout bounds a whole run. Use 0 for no timeout.
func WithRunTimeout(timeout time.Duration) Option {
	return func(s *Settings) {
		s.RunTimeout = timeout
	}
}

// WithLookupTimeout bounds each external reference lookup.
func WithLookupTimeout(timeout time.Duration) Option {
	return func(s *Settings) {
		if timeout > 0 {
			s.LookupTimeout = timeout
		}
	}
}

// WithMaxDepth caps path traversal depth.
func WithMaxDepth(depth int) Option {
	return func(s *Settings) {
		if depth > 0 {
			s.MaxDepth = depth
		}
	}
}

// WithReportUnreachable enables reachability checks for document and
// message bundles.
func WithReportUnreachable(enable bool) Option {
	return func(s *Settings) {
		s.ReportUnreachable = enable
	}
}

// WithStrictMode treats warnings as errors.
func WithStrictMode(enable bool) Option {
	return func(s *Settings) {
		s.StrictMode = enable
	}
}

// StrictOptions returns options for strict validation.
func StrictOptions() []Option {
	return []Option{
		WithReferencePolicy(InBundleOnly),
		WithReportUnreachable(true),
		WithStrictMode(true),
	}
}
