package roles

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type rolesFile struct {
	Roles []Spec `yaml:"roles"`
}

// LoadFromFile reads a role override file from disk.
func LoadFromFile(path string) ([]Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roles %s: %w", path, err)
	}
	defer f.Close()
	specs, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("decode roles %s: %w", path, err)
	}
	return specs, nil
}

// Load parses role overrides from the provided reader and fills omitted
// fields from the built-in defaults.
func Load(r io.Reader) ([]Spec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f rolesFile
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	if err := Validate(f.Roles); err != nil {
		return nil, err
	}

	defaults := Builtin()
	for i := range f.Roles {
		if f.Roles[i].DisplayName == "" {
			f.Roles[i].DisplayName = defaults[i].DisplayName
		}
		if f.Roles[i].Tag == "" {
			f.Roles[i].Tag = defaults[i].Tag
		}
		if f.Roles[i].Guidelines == "" {
			f.Roles[i].Guidelines = defaults[i].Guidelines
		}
	}
	return f.Roles, nil
}
