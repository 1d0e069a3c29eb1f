package models

import "gopkg.in/yaml.v3"

// PackageKindECU tags a package as an execution container unit.
const PackageKindECU = "ecu"

// PackageManifest is the discoverable description of a built package.
type PackageManifest struct {
	Name        string              `yaml:"name"`
	Version     string              `yaml:"version"`
	Description string              `yaml:"description,omitempty"`
	Kind        string              `yaml:"kind"`
	Functions   map[string]Function `yaml:"functions"`
}

// Function is the callable signature derived from an action.
type Function struct {
	Arguments  []Argument `yaml:"arguments"`
	Pattern    *yaml.Node `yaml:"pattern,omitempty"`
	ReturnType string     `yaml:"returnType"`
}
