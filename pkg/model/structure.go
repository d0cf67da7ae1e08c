package model

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/gofhir/fhir/r4"
)

// StructureDefinitions resolves choice elements from R4 StructureDefinition
// snapshots. Only the element types each definition allows are returned.
type StructureDefinitions struct {
	choices map[string][]string
}

// NewStructureDefinitions indexes the "[x]" elements of the given snapshots.
// Definitions without a snapshot are skipped.
func NewStructureDefinitions(sds ...*r4.StructureDefinition) *StructureDefinitions {
	s := &StructureDefinitions{choices: make(map[string][]string)}
	for _, sd := range sds {
		s.add(sd)
	}
	return s
}

func (s *StructureDefinitions) add(sd *r4.StructureDefinition) {
	if sd == nil || sd.Snapshot == nil {
		return
	}
	for i := range sd.Snapshot.Element {
		ed := &sd.Snapshot.Element[i]
		if ed.Path == nil || !strings.HasSuffix(*ed.Path, "[x]") {
			continue
		}
		logical := strings.TrimSuffix(*ed.Path, "[x]")
		var suffixes []string
		for j := range ed.Type {
			if ed.Type[j].Code == nil {
				continue
			}
			if suf := TypeCodeToSuffix(*ed.Type[j].Code); suf != "" && !Contains(suffixes, suf) {
				suffixes = append(suffixes, suf)
			}
		}
		if len(suffixes) == 0 {
			suffixes = TypeSuffixes
		}
		sort.Strings(suffixes)
		s.choices[logical] = suffixes
	}
}

// ChoiceFieldSuffixes implements Resolver.
func (s *StructureDefinitions) ChoiceFieldSuffixes(_, path string) []string {
	return s.choices[path]
}

// Len returns the number of indexed choice elements.
func (s *StructureDefinitions) Len() int {
	return len(s.choices)
}

// LoadStructureDefinitions reads StructureDefinition JSON files, or Bundles
// of them, and indexes their choice elements.
func LoadStructureDefinitions(paths ...string) (*StructureDefinitions, error) {
	var sds []*r4.StructureDefinition
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		parsed, err := ParseStructureDefinitions(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", p, err)
		}
		sds = append(sds, parsed...)
	}
	return NewStructureDefinitions(sds...), nil
}

// ParseStructureDefinitions decodes a StructureDefinition or a Bundle whose
// entries contain StructureDefinitions. Other entries are ignored.
func ParseStructureDefinitions(data []byte) ([]*r4.StructureDefinition, error) {
	var head struct {
		ResourceType string `json:"resourceType"`
		Entry        []struct {
			Resource json.RawMessage `json:"resource"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	switch head.ResourceType {
	case "StructureDefinition":
		var sd r4.StructureDefinition
		if err := json.Unmarshal(data, &sd); err != nil {
			return nil, fmt.Errorf("failed to parse StructureDefinition: %w", err)
		}
		return []*r4.StructureDefinition{&sd}, nil

	case "Bundle":
		var out []*r4.StructureDefinition
		for i, e := range head.Entry {
			var rt struct {
				ResourceType string `json:"resourceType"`
			}
			if err := json.Unmarshal(e.Resource, &rt); err != nil || rt.ResourceType != "StructureDefinition" {
				continue
			}
			var sd r4.StructureDefinition
			if err := json.Unmarshal(e.Resource, &sd); err != nil {
				return nil, fmt.Errorf("entry[%d]: failed to parse StructureDefinition: %w", i, err)
			}
			out = append(out, &sd)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported resourceType: %s", head.ResourceType)
	}
}
