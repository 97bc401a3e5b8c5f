package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a workflow definition.
type File struct {
	AgentID        string  `yaml:"agent_id"`
	CompanyProfile string  `yaml:"company_profile"`
	Stages         []Stage `yaml:"stages"`
}

// Load reads a workflow definition from path. Environment variables in
// the file are expanded. The result is structurally sound (unique ids)
// but not validated; call [Workflow.Validate] for the authoring checks.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	w, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

// Parse decodes a YAML workflow definition.
func Parse(data []byte) (*Workflow, error) {
	var f File
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	return New(f.AgentID, f.CompanyProfile, f.Stages)
}
