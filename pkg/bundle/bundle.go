// Package bundle holds the parsed, read-only form of a FHIR Bundle.
package bundle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrNotBundle is reported when the root is not a Bundle resource.
var ErrNotBundle = errors.New("not a Bundle resource")

// Resource is one resourceType-tagged tree inside a bundle.
// Components must treat it as read-only.
type Resource map[string]any

// Type returns the resourceType, or "" if absent.
func (r Resource) Type() string {
	s, _ := r["resourceType"].(string)
	return s
}

// ID returns the logical id, or "" if absent.
func (r Resource) ID() string {
	s, _ := r["id"].(string)
	return s
}

// Entry is one bundle entry.
type Entry struct {
	// Index is the position in Bundle.entry.
	Index    int
	FullURL  string
	Resource Resource
}

// Bundle is an immutable parsed bundle. Entries are indexed once at
// construction; nothing mutates the tree afterwards.
type Bundle struct {
	root     map[string]any
	entries  []Entry
	problems []Problem
}

// Parse decodes a JSON bundle. Numbers are kept as json.Number so decimals
// round-trip without loss. Parse fails only on malformed JSON or a non-object
// root; shape problems are reported by Check.
func Parse(data []byte) (*Bundle, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("parsing bundle: %w", err)
	}
	if dec.More() {
		return nil, errors.New("parsing bundle: trailing data after JSON document")
	}
	m, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parsing bundle: root is %s, want object", kindOf(root))
	}
	return FromMap(m), nil
}

// FromMap wraps an already decoded bundle tree. The caller must not modify
// m afterwards.
func FromMap(m map[string]any) *Bundle {
	b := &Bundle{root: m}
	b.index()
	return b
}

func (b *Bundle) index() {
	if rt, _ := b.root["resourceType"].(string); rt != "Bundle" {
		b.problems = append(b.problems, Problem{Index: -1, Reason: fmt.Sprintf("resourceType is %q, want \"Bundle\"", rt)})
	}
	raw, present := b.root["entry"]
	if !present {
		return
	}
	list, ok := raw.([]any)
	if !ok {
		b.problems = append(b.problems, Problem{Index: -1, Reason: "entry is " + kindOf(raw) + ", want array"})
		return
	}
	for i, e := range list {
		em, ok := e.(map[string]any)
		if !ok {
			b.problems = append(b.problems, Problem{Index: i, Reason: "entry is " + kindOf(e) + ", want object"})
			continue
		}
		fullURL, _ := em["fullUrl"].(string)
		rm, ok := em["resource"].(map[string]any)
		if !ok {
			b.problems = append(b.problems, Problem{Index: i, Reason: "entry has no resource object"})
			continue
		}
		res := Resource(rm)
		if res.Type() == "" {
			b.problems = append(b.problems, Problem{Index: i, Reason: "resource has no resourceType"})
			continue
		}
		b.entries = append(b.entries, Entry{Index: i, FullURL: fullURL, Resource: res})
	}
}

// Type returns Bundle.type (document, message, transaction, ...).
func (b *Bundle) Type() string {
	s, _ := b.root["type"].(string)
	return s
}

// ID returns Bundle.id.
func (b *Bundle) ID() string {
	s, _ := b.root["id"].(string)
	return s
}

// Root returns the raw bundle tree. It must not be modified.
func (b *Bundle) Root() map[string]any {
	return b.root
}

// Entries returns the well-formed entries in bundle order.
func (b *Bundle) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of well-formed entries.
func (b *Bundle) Len() int {
	return len(b.entries)
}

// ResourceTypes returns the distinct resource types present, sorted.
func (b *Bundle) ResourceTypes() []string {
	seen := make(map[string]struct{})
	for _, e := range b.entries {
		seen[e.Resource.Type()] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Check reports precondition failures: a root that is not a Bundle,
// entries that are not objects, lack a resource, or whose resource lacks a
// resourceType. It returns nil for a well-formed bundle.
func (b *Bundle) Check() error {
	if len(b.problems) == 0 {
		return nil
	}
	items := make([]Problem, len(b.problems))
	copy(items, b.problems)
	return &PreconditionError{Items: items}
}

// Problem describes one offending part of a malformed bundle.
type Problem struct {
	// Index is the entry index, or -1 for the bundle itself.
	Index  int
	Reason string
}

// PreconditionError lists every precondition failure of a bundle.
type PreconditionError struct {
	Items []Problem
}

func (e *PreconditionError) Error() string {
	var sb strings.Builder
	sb.WriteString("malformed bundle: ")
	for i, p := range e.Items {
		if i > 0 {
			sb.WriteString("; ")
		}
		if p.Index < 0 {
			sb.WriteString("Bundle")
		} else {
			sb.WriteString("entry[")
			sb.WriteString(strconv.Itoa(p.Index))
			sb.WriteString("]")
		}
		sb.WriteString(": ")
		sb.WriteString(p.Reason)
	}
	return sb.String()
}

// Is reports ErrNotBundle when the root itself is the problem.
func (e *PreconditionError) Is(target error) bool {
	if target != ErrNotBundle {
		return false
	}
	for _, p := range e.Items {
		if p.Index < 0 && strings.HasPrefix(p.Reason, "resourceType") {
			return true
		}
	}
	return false
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64, int, int64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
