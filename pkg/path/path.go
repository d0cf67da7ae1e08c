// Package path parses dotted element paths and resolves them against
// resource trees.
//
// Grammar:
//
//	path    = [ResourceType "."] segment *("." segment)
//	segment = name ["[x]"] ["[*]" | "[" index "]"]
//
// A leading segment starting with an upper-case letter is the resource type.
// Arrays are expanded implicitly wherever they occur, so "[*]" is accepted
// but never required. "[x]" marks a choice element explicitly; plain
// segments that the model resolver reports as choice elements are matched
// the same way.
package path

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one step of a path.
type Segment struct {
	Name string

	// Choice marks an explicit "[x]" choice element.
	Choice bool

	// Wildcard marks an explicit "[*]".
	Wildcard bool

	// Index selects one array element; -1 means every element.
	Index int
}

// String renders the segment in path syntax.
func (s Segment) String() string {
	var sb strings.Builder
	sb.WriteString(s.Name)
	if s.Choice {
		sb.WriteString("[x]")
	}
	switch {
	case s.Wildcard:
		sb.WriteString("[*]")
	case s.Index >= 0:
		sb.WriteByte('[')
		sb.WriteString(strconv.Itoa(s.Index))
		sb.WriteByte(']')
	}
	return sb.String()
}

// Path is a parsed element path.
type Path struct {
	// ResourceType is empty for relative paths.
	ResourceType string
	Segments     []Segment
}

// Parse parses a path expression.
func Parse(expr string) (Path, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Path{}, fmt.Errorf("empty path")
	}

	parts := strings.Split(expr, ".")
	var p Path
	if isResourceType(parts[0]) {
		p.ResourceType = parts[0]
		parts = parts[1:]
	}
	for i, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return Path{}, fmt.Errorf("path %q segment %d: %w", expr, i+1, err)
		}
		p.Segments = append(p.Segments, seg)
	}
	return p, nil
}

// MustParse is like Parse but panics on error. Use for constants.
func MustParse(expr string) Path {
	p, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func isResourceType(s string) bool {
	if s == "" || s[0] < 'A' || s[0] > 'Z' {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isNameByte(s[i]) {
			return false
		}
	}
	return true
}

func isNameByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func parseSegment(s string) (Segment, error) {
	seg := Segment{Index: -1}
	if s == "" {
		return seg, fmt.Errorf("empty segment")
	}

	i := 0
	for i < len(s) && isNameByte(s[i]) {
		i++
	}
	if i == 0 {
		return seg, fmt.Errorf("invalid element name %q", s)
	}
	if c := s[0]; c >= '0' && c <= '9' {
		return seg, fmt.Errorf("element name %q starts with a digit", s)
	}
	seg.Name = s[:i]
	rest := s[i:]

	if strings.HasPrefix(rest, "[x]") {
		seg.Choice = true
		rest = rest[3:]
	}
	if rest == "" {
		return seg, nil
	}
	if rest[0] != '[' || rest[len(rest)-1] != ']' {
		return seg, fmt.Errorf("unexpected %q after %q", rest, seg.Name)
	}
	inner := rest[1 : len(rest)-1]
	if inner == "*" {
		seg.Wildcard = true
		return seg, nil
	}
	n, err := strconv.Atoi(inner)
	if err != nil || n < 0 || strings.ContainsAny(inner, "+-") {
		return seg, fmt.Errorf("invalid index %q", inner)
	}
	seg.Index = n
	return seg, nil
}

// String renders the path in canonical syntax.
func (p Path) String() string {
	var sb strings.Builder
	sb.WriteString(p.ResourceType)
	for _, s := range p.Segments {
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(s.String())
	}
	return sb.String()
}

// Logical renders the path without indexes, wildcards or choice markers,
// e.g. "Observation.component.value".
func (p Path) Logical() string {
	var sb strings.Builder
	sb.WriteString(p.ResourceType)
	for _, s := range p.Segments {
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(s.Name)
	}
	return sb.String()
}

// IsRoot reports whether the path addresses the resource itself.
func (p Path) IsRoot() bool {
	return len(p.Segments) == 0
}

// WithResourceType returns p rooted at resourceType.
func (p Path) WithResourceType(resourceType string) Path {
	p.ResourceType = resourceType
	return p
}

// Join appends the segments of rel to p.
func (p Path) Join(rel Path) Path {
	segs := make([]Segment, 0, len(p.Segments)+len(rel.Segments))
	segs = append(segs, p.Segments...)
	segs = append(segs, rel.Segments...)
	return Path{ResourceType: p.ResourceType, Segments: segs}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func joinIndex(prefix string, i int) string {
	return prefix + "[" + strconv.Itoa(i) + "]"
}
