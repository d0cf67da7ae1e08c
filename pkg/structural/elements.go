package structural

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/gofhir/fhir/r4"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/pkg/bundle"
	"github.com/gofhir/rulecheck/pkg/model"
)

// elementIndex holds the snapshot elements of one StructureDefinition.
type elementIndex struct {
	kind string

	// byPath maps element paths to their definition. Slices are skipped.
	byPath map[string]*r4.ElementDefinition

	// choices maps a choice element path without "[x]" to its definition,
	// e.g. "Observation.value".
	choices map[string]*r4.ElementDefinition

	// children lists the direct child paths of each element, sorted.
	children map[string][]string
}

func newElementIndex(sd *r4.StructureDefinition) *elementIndex {
	idx := &elementIndex{
		byPath:   make(map[string]*r4.ElementDefinition),
		choices:  make(map[string]*r4.ElementDefinition),
		children: make(map[string][]string),
	}
	if sd.Kind != nil {
		idx.kind = string(*sd.Kind)
	}
	for i := range sd.Snapshot.Element {
		ed := &sd.Snapshot.Element[i]
		if ed.Path == nil || ed.SliceName != nil {
			continue
		}
		p := *ed.Path
		if _, dup := idx.byPath[p]; dup {
			continue
		}
		idx.byPath[p] = ed
		if base, ok := strings.CutSuffix(p, "[x]"); ok {
			idx.choices[base] = ed
		}
		if dot := strings.LastIndexByte(p, '.'); dot > 0 {
			idx.children[p[:dot]] = append(idx.children[p[:dot]], p)
		}
	}
	for k := range idx.children {
		sort.Strings(idx.children[k])
	}
	return idx
}

// resolve finds the definition of key under parent, and the type its
// value should be read as.
func (idx *elementIndex) resolve(parent, key string) (*r4.ElementDefinition, string) {
	if ed := idx.byPath[parent+"."+key]; ed != nil {
		if len(ed.Type) == 1 && ed.Type[0].Code != nil {
			return ed, *ed.Type[0].Code
		}
		return ed, ""
	}
	base, suffix, ok := model.SplitChoiceKey(key)
	if !ok {
		return nil, ""
	}
	ed := idx.choices[parent+"."+base]
	if ed == nil {
		return nil, ""
	}
	for j := range ed.Type {
		if c := ed.Type[j].Code; c != nil && strings.EqualFold(*c, suffix) {
			return ed, *c
		}
	}
	return nil, ""
}

// Elements checks resources against StructureDefinition snapshots: it
// reports elements the definition does not declare and required elements
// that are absent. Resources and datatypes without a loaded definition are
// not checked.
type Elements struct {
	types map[string]*elementIndex
}

// NewElements indexes the given definitions by type. Definitions without a
// snapshot or type are skipped; a later definition of the same type
// replaces an earlier one.
func NewElements(sds ...*r4.StructureDefinition) *Elements {
	e := &Elements{types: make(map[string]*elementIndex)}
	for _, sd := range sds {
		if sd == nil || sd.Snapshot == nil || sd.Type == nil || *sd.Type == "" {
			continue
		}
		e.types[*sd.Type] = newElementIndex(sd)
	}
	return e
}

// LoadElements reads StructureDefinition files, or Bundles of them.
func LoadElements(paths ...string) (*Elements, error) {
	var sds []*r4.StructureDefinition
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		parsed, err := model.ParseStructureDefinitions(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", p, err)
		}
		sds = append(sds, parsed...)
	}
	return NewElements(sds...), nil
}

// Types returns the indexed type names, sorted.
func (e *Elements) Types() []string {
	out := make([]string, 0, len(e.types))
	for t := range e.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Validate implements Validator.
func (e *Elements) Validate(ctx context.Context, b *bundle.Bundle) ([]rc.Finding, error) {
	var out []rc.Finding
	for _, ent := range b.Entries() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ent.Resource == nil {
			continue
		}
		rt := ent.Resource.Type()
		idx := e.types[rt]
		if idx == nil {
			continue
		}
		w := &elementWalk{types: e.types, entry: ent.Index, resourceType: rt}
		w.object(ent.Resource, rt, rt, idx)
		out = append(out, w.findings...)
	}
	return out, nil
}

type elementWalk struct {
	types        map[string]*elementIndex
	entry        int
	resourceType string
	findings     []rc.Finding
}

func (w *elementWalk) report(sev rc.Severity, code rc.Code, at, msg, evidence string) {
	w.findings = append(w.findings, issue(sev, code, w.resourceType, at, msg).Entry(w.entry).Evidence(evidence).Build())
}

// object checks the keys of one object against the children of sdPath.
// Keys are visited in sorted order so findings are stable.
func (w *elementWalk) object(data map[string]any, sdPath, at string, idx *elementIndex) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if key == "resourceType" {
			continue
		}
		if base, ok := strings.CutPrefix(key, "_"); ok {
			if ed, _ := idx.resolve(sdPath, base); ed == nil {
				w.report(rc.SeverityError, rc.CodeStructure, at+"."+key, fmt.Sprintf("unknown element %q", key), key)
			}
			continue
		}
		ed, typ := idx.resolve(sdPath, key)
		if ed == nil {
			w.report(rc.SeverityError, rc.CodeStructure, at+"."+key, fmt.Sprintf("unknown element %q", key), key)
			continue
		}
		w.value(data[key], strings.TrimSuffix(*ed.Path, "[x]"), typ, at+"."+key, idx)
	}
	w.required(data, sdPath, at, idx)
}

func (w *elementWalk) value(v any, sdPath, typ, at string, idx *elementIndex) {
	switch val := v.(type) {
	case []any:
		for i, item := range val {
			w.value(item, sdPath, typ, fmt.Sprintf("%s[%d]", at, i), idx)
		}
	case map[string]any:
		switch {
		case typ == "BackboneElement" || typ == "Element":
			w.object(val, sdPath, at, idx)
		case typ == "Resource" || strings.HasSuffix(sdPath, ".contained"):
			rt, _ := val["resourceType"].(string)
			if own := w.types[rt]; own != nil {
				w.object(val, rt, at, own)
			}
		case typ != "":
			if dt := w.types[typ]; dt != nil && dt.kind != "primitive-type" {
				w.object(val, typ, at, dt)
			}
		}
	}
}

// required reports children of sdPath with a minimum cardinality that data
// does not carry.
func (w *elementWalk) required(data map[string]any, sdPath, at string, idx *elementIndex) {
	for _, child := range idx.children[sdPath] {
		ed := idx.byPath[child]
		if ed.Min == nil || *ed.Min == 0 {
			continue
		}
		name := child[strings.LastIndexByte(child, '.')+1:]
		if present(data, name) {
			continue
		}
		name = strings.TrimSuffix(name, "[x]")
		w.report(rc.SeverityError, rc.CodeRequired, at+"."+name,
			fmt.Sprintf("element %s is required (min %d)", name, *ed.Min), "")
	}
}

func present(data map[string]any, name string) bool {
	if base, ok := strings.CutSuffix(name, "[x]"); ok {
		for k := range data {
			if b, _, ok := model.SplitChoiceKey(k); ok && b == base {
				return true
			}
		}
		return false
	}
	switch v := data[name].(type) {
	case nil:
		_, shadow := data["_"+name]
		return shadow
	case []any:
		return len(v) > 0
	}
	return true
}
