package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AgentProfile names a reusable agent role: what it is for and how much of
// the parent budget it gets.
type AgentProfile struct {
	Name    string `yaml:"name"`
	Purpose string `yaml:"purpose"`

	// BudgetMultiplier scales the decayed child budget, (0,1]. The runner
	// applies it at spawn time via SpawnOptions.BudgetMultiplier.
	BudgetMultiplier float64 `yaml:"budget_multiplier"`
}

// profilesFile is the on-disk shape of the profiles document.
type profilesFile struct {
	Profiles []AgentProfile `yaml:"profiles"`
}

// LoadProfiles reads agent profiles from a YAML file. A missing file is not
// an error; it returns an empty set.
func LoadProfiles(path string) (map[string]AgentProfile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]AgentProfile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles %s: %w", path, err)
	}

	var doc profilesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse profiles %s: %w", path, err)
	}

	out := make(map[string]AgentProfile, len(doc.Profiles))
	for _, p := range doc.Profiles {
		if p.Name == "" {
			continue
		}
		if p.BudgetMultiplier <= 0 || p.BudgetMultiplier > 1 {
			p.BudgetMultiplier = 1
		}
		out[p.Name] = p
	}
	return out, nil
}
