package rulecheck

// Version is the module release, overridden at link time by release builds.
var Version = "0.1.0-dev"

// FHIRVersion represents a FHIR specification version.
type FHIRVersion string

// Supported FHIR versions.
const (
	// R4 is FHIR Release 4 (4.0.1)
	R4 FHIRVersion = "R4"
	// R4B is FHIR Release 4B (4.3.0)
	R4B FHIRVersion = "R4B"
)

// String returns the version string.
func (v FHIRVersion) String() string {
	return string(v)
}

// IsValid returns true if this is a supported FHIR version.
// Bundles and rule files are R4-shaped; R4B shares the same resource layout
// for everything the rule engine inspects.
func (v FHIRVersion) IsValid() bool {
	switch v {
	case R4, R4B:
		return true
	default:
		return false
	}
}
