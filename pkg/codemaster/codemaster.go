// Package codemaster provides the read-only (system, code) lookup used by
// CodeSystem rules.
package codemaster

import (
	"sort"
	"strings"
)

// Status is the outcome of a lookup.
type Status int

const (
	// Valid means the system is known and contains the code.
	Valid Status = iota
	// UnknownSystem means the system is not configured at all.
	UnknownSystem
	// UnknownCode means the system is known but lacks the code.
	UnknownCode
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case UnknownSystem:
		return "unknown-system"
	case UnknownCode:
		return "unknown-code"
	default:
		return "unknown"
	}
}

// CodeMaster maps code system URLs to their permitted codes. It is
// immutable and safe for concurrent use. A nil *CodeMaster knows no systems.
type CodeMaster struct {
	systems map[string]map[string]struct{}
}

// Lookup classifies (system, code).
func (c *CodeMaster) Lookup(system, code string) Status {
	if c == nil {
		return UnknownSystem
	}
	codes, ok := c.systems[system]
	if !ok {
		return UnknownSystem
	}
	if _, ok := codes[code]; !ok {
		return UnknownCode
	}
	return Valid
}

// IsValid reports whether system is known and contains code.
func (c *CodeMaster) IsValid(system, code string) bool {
	return c.Lookup(system, code) == Valid
}

// HasSystem reports whether system is configured.
func (c *CodeMaster) HasSystem(system string) bool {
	if c == nil {
		return false
	}
	_, ok := c.systems[system]
	return ok
}

// Systems returns the configured system URLs, sorted.
func (c *CodeMaster) Systems() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.systems))
	for s := range c.systems {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Codes returns the codes of system, sorted.
func (c *CodeMaster) Codes(system string) []string {
	if c == nil {
		return nil
	}
	codes := c.systems[system]
	out := make([]string, 0, len(codes))
	for code := range codes {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Len returns the total number of (system, code) pairs.
func (c *CodeMaster) Len() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, codes := range c.systems {
		n += len(codes)
	}
	return n
}

// Builder accumulates codes before freezing them into a CodeMaster.
// A Builder is not safe for concurrent use.
type Builder struct {
	systems map[string]map[string]struct{}
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{systems: make(map[string]map[string]struct{})}
}

// AddSystem registers system even if it ends up with no codes, so lookups
// report UnknownCode rather than UnknownSystem.
func (b *Builder) AddSystem(system string) *Builder {
	system = strings.TrimSpace(system)
	if system == "" {
		return b
	}
	if b.systems[system] == nil {
		b.systems[system] = make(map[string]struct{})
	}
	return b
}

// Add registers codes under system. Blank values are ignored.
func (b *Builder) Add(system string, codes ...string) *Builder {
	b.AddSystem(system)
	set := b.systems[strings.TrimSpace(system)]
	if set == nil {
		return b
	}
	for _, code := range codes {
		if code = strings.TrimSpace(code); code != "" {
			set[code] = struct{}{}
		}
	}
	return b
}

// AddMaster copies every pair of c into the builder.
func (b *Builder) AddMaster(c *CodeMaster) *Builder {
	if c == nil {
		return b
	}
	for system, codes := range c.systems {
		b.AddSystem(system)
		for code := range codes {
			b.systems[system][code] = struct{}{}
		}
	}
	return b
}

// Build returns an immutable CodeMaster. The builder may keep being used;
// later additions do not affect masters already built.
func (b *Builder) Build() *CodeMaster {
	systems := make(map[string]map[string]struct{}, len(b.systems))
	for system, codes := range b.systems {
		set := make(map[string]struct{}, len(codes))
		for code := range codes {
			set[code] = struct{}{}
		}
		systems[system] = set
	}
	return &CodeMaster{systems: systems}
}

// FromMap builds a CodeMaster from system -> codes.
func FromMap(m map[string][]string) *CodeMaster {
	b := NewBuilder()
	for system, codes := range m {
		b.Add(system, codes...)
	}
	return b.Build()
}

// Merge combines masters into one. Systems present in several masters get
// the union of their codes.
func Merge(masters ...*CodeMaster) *CodeMaster {
	b := NewBuilder()
	for _, m := range masters {
		b.AddMaster(m)
	}
	return b.Build()
}
