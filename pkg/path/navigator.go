package path

import (
	"errors"
	"sort"

	"github.com/gofhir/rulecheck/pkg/model"
)

// DefaultMaxDepth caps traversal depth when none is configured.
const DefaultMaxDepth = 64

// ErrMaxDepth is reported when traversal stopped at the depth cap.
var ErrMaxDepth = errors.New("maximum path depth exceeded")

// Match is one resolved value.
type Match struct {
	Value any

	// Path is the concrete path, e.g. "Patient.name[1].given[0]".
	Path string

	// Key is the concrete key the value was found under, e.g. "valueQuantity".
	// It is empty for the resource root.
	Key string

	// Logical is the schema path without indexes or type suffixes, e.g.
	// "Observation.value". It drives choice lookups below this match.
	Logical string
}

// Navigator resolves paths against resource trees. It holds no per-call
// state and is safe for concurrent use.
type Navigator struct {
	resolver model.Resolver
	maxDepth int
}

// New creates a Navigator. A nil resolver means model.Default(); maxDepth
// <= 0 means DefaultMaxDepth.
func New(resolver model.Resolver, maxDepth int) *Navigator {
	if resolver == nil {
		resolver = model.Default()
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Navigator{resolver: resolver, maxDepth: maxDepth}
}

// MaxDepth returns the depth cap.
func (n *Navigator) MaxDepth() int {
	return n.maxDepth
}

// WithMaxDepth returns a Navigator sharing n's resolver with another depth
// cap. A depth <= 0 or equal to the current cap returns n.
func (n *Navigator) WithMaxDepth(depth int) *Navigator {
	if depth <= 0 || depth == n.maxDepth {
		return n
	}
	return &Navigator{resolver: n.resolver, maxDepth: depth}
}

// Resolver returns the model resolver.
func (n *Navigator) Resolver() model.Resolver {
	return n.resolver
}

// Resolve returns every value at p, in document order. Absent data yields
// an empty result, never an error.
func (n *Navigator) Resolve(resource map[string]any, p Path) []Match {
	m, _ := n.ResolveChecked(resource, p)
	return m
}

// ResolveChecked is like Resolve but reports ErrMaxDepth if the depth cap
// truncated any branch. The matches found before truncation are returned.
func (n *Navigator) ResolveChecked(resource map[string]any, p Path) ([]Match, error) {
	rt, _ := resource["resourceType"].(string)
	if p.ResourceType != "" && rt != "" && p.ResourceType != rt {
		return nil, nil
	}
	if rt == "" {
		rt = p.ResourceType
	}
	st := &resolveState{resourceType: rt}
	n.resolve(st, resource, p.Segments, rt, rt, "", 0)
	return st.result()
}

// ResolveFrom resolves the relative path rel starting at an already
// located match.
func (n *Navigator) ResolveFrom(base Match, resourceType string, rel Path) []Match {
	st := &resolveState{resourceType: resourceType}
	n.resolve(st, base.Value, rel.Segments, base.Path, base.Logical, base.Key, depthOf(base.Path))
	m, _ := st.result()
	return m
}

type resolveState struct {
	resourceType string
	matches      []Match
	truncated    bool
}

func (st *resolveState) result() ([]Match, error) {
	if st.truncated {
		return st.matches, ErrMaxDepth
	}
	return st.matches, nil
}

func (n *Navigator) resolve(st *resolveState, value any, segs []Segment, concrete, logical, key string, depth int) {
	if depth > n.maxDepth {
		st.truncated = true
		return
	}
	if value == nil {
		return
	}

	if arr, ok := value.([]any); ok {
		for i, el := range arr {
			n.resolve(st, el, segs, joinIndex(concrete, i), logical, key, depth+1)
		}
		return
	}

	if len(segs) == 0 {
		st.matches = append(st.matches, Match{Value: value, Path: concrete, Key: key, Logical: logical})
		return
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return
	}

	seg := segs[0]
	childLogical := joinKey(logical, seg.Name)
	for _, k := range n.keysFor(st.resourceType, obj, seg, childLogical) {
		child := obj[k]
		childConcrete := joinKey(concrete, k)
		if seg.Index >= 0 {
			arr, isArr := child.([]any)
			switch {
			case isArr && seg.Index < len(arr):
				n.resolve(st, arr[seg.Index], segs[1:], joinIndex(childConcrete, seg.Index), childLogical, k, depth+2)
			case !isArr && seg.Index == 0:
				n.resolve(st, child, segs[1:], childConcrete, childLogical, k, depth+1)
			}
			continue
		}
		n.resolve(st, child, segs[1:], childConcrete, childLogical, k, depth+1)
	}
}

// keysFor returns the concrete keys of obj that satisfy seg, sorted.
func (n *Navigator) keysFor(resourceType string, obj map[string]any, seg Segment, logical string) []string {
	if !seg.Choice {
		if _, ok := obj[seg.Name]; ok {
			return []string{seg.Name}
		}
	}
	suffixes := n.resolver.ChoiceFieldSuffixes(resourceType, logical)
	if suffixes == nil {
		if !seg.Choice {
			return nil
		}
		suffixes = model.TypeSuffixes
	}
	var keys []string
	for _, s := range suffixes {
		k := seg.Name + s
		if _, ok := obj[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// depthOf approximates the depth of a concrete path by counting separators.
func depthOf(concrete string) int {
	d := 0
	for i := 0; i < len(concrete); i++ {
		if concrete[i] == '.' || concrete[i] == '[' {
			d++
		}
	}
	return d
}
