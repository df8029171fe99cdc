package agent

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// Prompts holds the externalized prompt texts.
type Prompts struct {
	SystemPrompt string `yaml:"system_prompt"`
	// MappingPrompt is a format string taking the two table descriptions.
	MappingPrompt string `yaml:"semantic_mapping_prompt"`
}

// LoadPrompts reads prompts from path, or the embedded defaults when path
// is empty.
func LoadPrompts(path string) (*Prompts, error) {
	raw := defaultPromptsYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading prompts file: %w", err)
		}
		raw = b
	}

	var p Prompts
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parsing prompts: %w", err)
	}
	if p.SystemPrompt == "" {
		return nil, fmt.Errorf("prompts: system_prompt is empty")
	}
	if p.MappingPrompt == "" {
		return nil, fmt.Errorf("prompts: semantic_mapping_prompt is empty")
	}
	return &p, nil
}
