package registry

import (
	"fmt"
	"slices"
)

// Param is one declared parameter of a template or fragment. Types follow
// the JSON value model; Format optionally names a sub-rule applied to the
// value on top of the type check.
type Param struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	Required    bool   `yaml:"required" json:"required"`
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Format      string `yaml:"format,omitempty" json:"format,omitempty"`
}

// FragmentDef declares one fragment type admitted by a template.
type FragmentDef struct {
	ID          string  `yaml:"id" json:"id"`
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Parameters  []Param `yaml:"parameters" json:"parameters"`
}

// schemaFile is the on-disk schema.yaml shape shared by all asset kinds.
// Template assets use global_parameters and fragments, standalone fragments
// use parameters, styles use default.
type schemaFile struct {
	ID               string        `yaml:"id"`
	Group            string        `yaml:"group"`
	Name             string        `yaml:"name"`
	Description      string        `yaml:"description"`
	GlobalParameters []Param       `yaml:"global_parameters"`
	Fragments        []FragmentDef `yaml:"fragments"`
	Parameters       []Param       `yaml:"parameters"`
	Default          bool          `yaml:"default"`
}

var paramTypes = []string{"string", "integer", "number", "boolean", "array", "object"}

var paramFormats = []string{"currency_code", "percentage", "color", "url", "date", "data_uri", "table"}

func checkParams(owner string, params []Param) error {
	seen := map[string]bool{}
	for _, p := range params {
		if p.Name == "" {
			return fmt.Errorf("%s: parameter with empty name", owner)
		}
		if seen[p.Name] {
			return fmt.Errorf("%s: duplicate parameter %q", owner, p.Name)
		}
		seen[p.Name] = true
		if !slices.Contains(paramTypes, p.Type) {
			return fmt.Errorf("%s: parameter %q has unknown type %q", owner, p.Name, p.Type)
		}
		if p.Format != "" && !slices.Contains(paramFormats, p.Format) {
			return fmt.Errorf("%s: parameter %q has unknown format %q", owner, p.Name, p.Format)
		}
	}
	return nil
}
