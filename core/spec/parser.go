package spec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"foqus-orchestrator/core/models"

	"gopkg.in/yaml.v3"
)

// BatchSpec represents a YAML batch of job definitions
type BatchSpec struct {
	Defaults BatchDefaults          `yaml:"defaults"`
	Jobs     []models.JobDefinition `yaml:"jobs"`
}

// BatchDefaults are applied to every job of the batch that does not set them
type BatchDefaults struct {
	Simulation string                 `yaml:"simulation"`
	Initialize bool                   `yaml:"initialize"`
	Reset      bool                   `yaml:"reset"`
	Input      map[string]interface{} `yaml:"input,omitempty"`
}

// ParseDefinitions parses a batch of job definitions. JSON bodies hold one
// definition or an array of them; anything else is read as a YAML batch.
func ParseDefinitions(data []byte) ([]models.JobDefinition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty job definition batch")
	}

	switch trimmed[0] {
	case '[':
		var defs []models.JobDefinition
		if err := json.Unmarshal(trimmed, &defs); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		return validate(defs)
	case '{':
		var def models.JobDefinition
		if err := json.Unmarshal(trimmed, &def); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		return validate([]models.JobDefinition{def})
	}

	var batch BatchSpec
	if err := yaml.Unmarshal(trimmed, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	defs := make([]models.JobDefinition, len(batch.Jobs))
	for i, def := range batch.Jobs {
		defs[i] = applyDefaults(def, batch.Defaults)
	}
	return validate(defs)
}

// applyDefaults fills the unset fields of def from the batch defaults
func applyDefaults(def models.JobDefinition, defaults BatchDefaults) models.JobDefinition {
	if def.Simulation == "" {
		def.Simulation = defaults.Simulation
	}
	if defaults.Initialize {
		def.Initialize = true
	}
	if defaults.Reset {
		def.Reset = true
	}
	if len(defaults.Input) > 0 {
		merged := make(map[string]interface{}, len(defaults.Input)+len(def.Input))
		for k, v := range defaults.Input {
			merged[k] = v
		}
		for k, v := range def.Input {
			merged[k] = v
		}
		def.Input = merged
	}
	return def
}

func validate(defs []models.JobDefinition) ([]models.JobDefinition, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("job definition batch holds no jobs")
	}
	for i, def := range defs {
		if def.Simulation == "" {
			return nil, fmt.Errorf("job %d: simulation is required", i)
		}
	}
	return defs, nil
}
