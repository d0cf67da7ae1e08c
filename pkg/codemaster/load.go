package codemaster

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofhir/fhir/r4"
	"gopkg.in/yaml.v3"
)

// LoadYAML parses a mapping of system URL to code list:
//
//	http://loinc.org:
//	  - 8867-4
//	  - 8480-6
func LoadYAML(data []byte) (*CodeMaster, error) {
	var m map[string][]string
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing code master YAML: %w", err)
	}
	return FromMap(m), nil
}

// LoadFHIR parses an R4 CodeSystem, a ValueSet, or a Bundle of them.
// CodeSystems contribute their concept hierarchy; ValueSets contribute their
// expansion, or the explicitly listed concepts of compose.include when no
// expansion is present.
func LoadFHIR(data []byte) (*CodeMaster, error) {
	b := NewBuilder()
	if err := addFHIR(b, data); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

func addFHIR(b *Builder, data []byte) error {
	var head struct {
		ResourceType string `json:"resourceType"`
		Entry        []struct {
			Resource json.RawMessage `json:"resource"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("parsing FHIR terminology: %w", err)
	}

	switch head.ResourceType {
	case "CodeSystem":
		var cs r4.CodeSystem
		if err := json.Unmarshal(data, &cs); err != nil {
			return fmt.Errorf("failed to parse CodeSystem: %w", err)
		}
		return addCodeSystem(b, &cs)

	case "ValueSet":
		var vs r4.ValueSet
		if err := json.Unmarshal(data, &vs); err != nil {
			return fmt.Errorf("failed to parse ValueSet: %w", err)
		}
		addValueSet(b, &vs)
		return nil

	case "Bundle":
		for i, e := range head.Entry {
			if len(e.Resource) == 0 {
				continue
			}
			var rt struct {
				ResourceType string `json:"resourceType"`
			}
			if err := json.Unmarshal(e.Resource, &rt); err != nil {
				return fmt.Errorf("entry[%d]: %w", i, err)
			}
			if rt.ResourceType != "CodeSystem" && rt.ResourceType != "ValueSet" {
				continue
			}
			if err := addFHIR(b, e.Resource); err != nil {
				return fmt.Errorf("entry[%d]: %w", i, err)
			}
		}
		return nil

	default:
		return fmt.Errorf("unsupported resourceType: %s", head.ResourceType)
	}
}

func addCodeSystem(b *Builder, cs *r4.CodeSystem) error {
	if cs.Url == nil || *cs.Url == "" {
		return fmt.Errorf("codesystem has no URL")
	}
	b.AddSystem(*cs.Url)
	addConcepts(b, *cs.Url, cs.Concept)
	return nil
}

func addConcepts(b *Builder, system string, concepts []r4.CodeSystemConcept) {
	for i := range concepts {
		if c := concepts[i].Code; c != nil {
			b.Add(system, *c)
		}
		addConcepts(b, system, concepts[i].Concept)
	}
}

func addValueSet(b *Builder, vs *r4.ValueSet) {
	if vs.Expansion != nil {
		for i := range vs.Expansion.Contains {
			addContains(b, &vs.Expansion.Contains[i])
		}
		return
	}
	if vs.Compose == nil {
		return
	}
	for i := range vs.Compose.Include {
		inc := &vs.Compose.Include[i]
		if inc.System == nil {
			continue
		}
		b.AddSystem(*inc.System)
		for j := range inc.Concept {
			if c := inc.Concept[j].Code; c != nil {
				b.Add(*inc.System, *c)
			}
		}
	}
}

func addContains(b *Builder, c *r4.ValueSetExpansionContains) {
	if c.System != nil && c.Code != nil {
		b.Add(*c.System, *c.Code)
	}
	for i := range c.Contains {
		addContains(b, &c.Contains[i])
	}
}

// LoadFiles loads and merges code master files. ".yaml" and ".yml" files
// are read with LoadYAML, everything else with LoadFHIR.
func LoadFiles(paths ...string) (*CodeMaster, error) {
	b := NewBuilder()
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".yaml", ".yml":
			m, err := LoadYAML(data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", p, err)
			}
			b.AddMaster(m)
		default:
			if err := addFHIR(b, data); err != nil {
				return nil, fmt.Errorf("%s: %w", p, err)
			}
		}
	}
	return b.Build(), nil
}
