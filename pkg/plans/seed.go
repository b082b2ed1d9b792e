package plans

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile is the on-disk catalog definition
//
//	plans:
//	  - id: basic
//	    name: Basic
//	    price: 2900
//	    max_students: 4
//	    features: [workouts, progress]
//	    active: true
type SeedFile struct {
	Plans []Plan `yaml:"plans"`
}

// LoadSeedFile reads and validates a YAML catalog definition
func LoadSeedFile(path string) ([]Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes a YAML catalog definition
func ParseSeed(data []byte) ([]Plan, error) {
	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	seen := make(map[string]bool, len(file.Plans))
	for i, p := range file.Plans {
		if p.ID == "" {
			return nil, fmt.Errorf("plan %d: id is required", i)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("plan %s: name is required", p.ID)
		}
		if p.Price < 0 {
			return nil, fmt.Errorf("plan %s: price must not be negative", p.ID)
		}
		if p.MaxStudents != nil && *p.MaxStudents < 0 {
			return nil, fmt.Errorf("plan %s: max_students must not be negative", p.ID)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("plan %s: duplicate id", p.ID)
		}
		seen[p.ID] = true
	}

	return file.Plans, nil
}
