package path

import (
	"sort"

	"github.com/gofhir/rulecheck/pkg/model"
)

// Node is one element visited by Walk.
type Node struct {
	// Path is the concrete path, e.g. "Observation.component[1].valueQuantity".
	Path string

	// LogicalPath drops indexes and names choice elements by their base,
	// e.g. "Observation.component.value[x]".
	LogicalPath string

	// Key is the concrete key under the parent object.
	Key string

	Value any

	// Parent is the object holding Key.
	Parent map[string]any

	// InArray is true for the elements of an array value. The array itself
	// is visited first as a node with InArray false.
	InArray bool

	// Index is the array position when InArray is set, otherwise -1.
	Index int

	// Choice is true when Key is a type-suffixed variant of a choice
	// element; ChoiceType holds the suffix, e.g. "Quantity".
	Choice     bool
	ChoiceType string

	Depth int
}

// Walk visits every element of resource in pre-order. Object keys are
// visited in sorted order, so the visit order depends only on content.
// Returning false from fn skips the node's children. The resourceType key
// is not visited.
//
// Walk returns ErrMaxDepth if the depth cap cut off any subtree.
func (n *Navigator) Walk(resource map[string]any, fn func(Node) bool) error {
	rt, _ := resource["resourceType"].(string)
	w := walker{nav: n, resourceType: rt, fn: fn}
	w.object(resource, rt, rt, rt, 1)
	if w.truncated {
		return ErrMaxDepth
	}
	return nil
}

type walker struct {
	nav          *Navigator
	resourceType string
	fn           func(Node) bool
	truncated    bool
}

// object visits the keys of obj. schema is the logical path without choice
// markers, used for resolver lookups.
func (w *walker) object(obj map[string]any, concrete, logical, schema string, depth int) {
	if depth > w.nav.maxDepth {
		w.truncated = true
		return
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		if k == "resourceType" && depth == 1 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		node := Node{
			Path:        joinKey(concrete, k),
			LogicalPath: joinKey(logical, k),
			Key:         k,
			Value:       obj[k],
			Parent:      obj,
			Index:       -1,
			Depth:       depth,
		}
		childSchema := joinKey(schema, k)
		if base, suffix, ok := model.SplitChoiceKey(k); ok {
			if _, plain := obj[base]; !plain {
				baseSchema := joinKey(schema, base)
				if model.Contains(w.nav.resolver.ChoiceFieldSuffixes(w.resourceType, baseSchema), suffix) {
					node.Choice = true
					node.ChoiceType = suffix
					node.LogicalPath = joinKey(logical, base+"[x]")
					childSchema = baseSchema
				}
			}
		}
		if !w.fn(node) {
			continue
		}
		w.value(node, childSchema)
	}
}

func (w *walker) value(parent Node, schema string) {
	switch v := parent.Value.(type) {
	case map[string]any:
		w.object(v, parent.Path, parent.LogicalPath, schema, parent.Depth+1)
	case []any:
		if parent.Depth+1 > w.nav.maxDepth {
			w.truncated = true
			return
		}
		for i, el := range v {
			node := parent
			node.Path = joinIndex(parent.Path, i)
			node.Value = el
			node.InArray = true
			node.Index = i
			node.Depth = parent.Depth + 1
			if !w.fn(node) {
				continue
			}
			if obj, ok := el.(map[string]any); ok {
				w.object(obj, node.Path, node.LogicalPath, schema, node.Depth+1)
			}
		}
	}
}
