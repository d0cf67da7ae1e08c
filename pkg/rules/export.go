package rules

import (
	"gopkg.in/yaml.v3"
)

type fileRule struct {
	ID           string `yaml:"id"`
	Type         Type   `yaml:"type"`
	ResourceType string `yaml:"resourceType"`
	TargetPath   string `yaml:"targetPath,omitempty"`
	Severity     string `yaml:"severity"`
	Message      string `yaml:"message,omitempty"`
	Params       Params `yaml:"params,omitempty"`
}

// Marshal renders rules in the file format accepted by Load.
func Marshal(rules []Rule) ([]byte, error) {
	doc := struct {
		Rules []fileRule `yaml:"rules"`
	}{Rules: make([]fileRule, 0, len(rules))}

	for _, r := range rules {
		fr := fileRule{
			ID:           r.ID,
			Type:         r.Type,
			ResourceType: r.ResourceType,
			Severity:     string(r.Severity),
			Message:      r.Message,
		}
		if !r.TargetPath.IsRoot() {
			fr.TargetPath = r.TargetPath.String()
		}
		if _, empty := r.Params.(*RequiredParams); !empty {
			fr.Params = r.Params
		}
		doc.Rules = append(doc.Rules, fr)
	}
	return yaml.Marshal(doc)
}
