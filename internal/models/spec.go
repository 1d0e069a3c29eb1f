package models

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefaultBaseImage is used when a specification does not name a base image.
const DefaultBaseImage = "ubuntu:20.04"

// ContainerSpec is the declarative description of an execution container unit.
type ContainerSpec struct {
	Name         string                `yaml:"name"`
	Version      string                `yaml:"version"`
	Kind         string                `yaml:"kind,omitempty"`
	Description  string                `yaml:"description,omitempty"`
	Base         *string               `yaml:"base,omitempty"`
	Contributors []string              `yaml:"contributors,omitempty"`
	Environment  Environment           `yaml:"environment,omitempty"`
	Dependencies []string              `yaml:"dependencies,omitempty"`
	Files        []string              `yaml:"files,omitempty"`
	Initialize   []string              `yaml:"initialize,omitempty"`
	Install      []string              `yaml:"install,omitempty"`
	Entrypoint   *Entrypoint           `yaml:"entrypoint,omitempty"`
	Types        map[string]*yaml.Node `yaml:"types,omitempty"`
	Actions      map[string]Action     `yaml:"actions"`
}

// BaseImage returns the declared base image or DefaultBaseImage.
func (s ContainerSpec) BaseImage() string {
	if s.Base != nil && *s.Base != "" {
		return *s.Base
	}
	return DefaultBaseImage
}

// ImageTag returns the "<name>:<version>" reference the image is tagged with.
func (s ContainerSpec) ImageTag() string {
	return s.Name + ":" + s.Version
}

// Entrypoint tells the init launcher how to start the unit inside the container.
type Entrypoint struct {
	Kind    string  `yaml:"kind"`
	Exec    string  `yaml:"exec"`
	Content string  `yaml:"content,omitempty"`
	Delay   *uint64 `yaml:"delay,omitempty"`
}

// Action is a callable operation exposed by the unit.
type Action struct {
	Description string          `yaml:"description,omitempty"`
	Command     *ActionCommand  `yaml:"command,omitempty"`
	Endpoint    *ActionEndpoint `yaml:"endpoint,omitempty"`
	Pattern     *yaml.Node      `yaml:"pattern,omitempty"`
	Notation    *yaml.Node      `yaml:"notation,omitempty"`
	Input       []Argument      `yaml:"input"`
	Output      []Argument      `yaml:"output"`
}

// CallPattern returns the calling convention of the action. The legacy
// "notation" key is honoured when "pattern" is absent.
func (a Action) CallPattern() *yaml.Node {
	if a.Pattern != nil {
		return a.Pattern
	}
	return a.Notation
}

type ActionCommand struct {
	Args    []string `yaml:"args"`
	Capture string   `yaml:"capture,omitempty"`
}

type ActionEndpoint struct {
	Method string `yaml:"method,omitempty"`
	Path   string `yaml:"path"`
}

// Argument is a named, typed parameter. Type is an opaque token.
type Argument struct {
	Name     string     `yaml:"name,omitempty"`
	Type     string     `yaml:"type"`
	Optional bool       `yaml:"optional,omitempty"`
	Secret   bool       `yaml:"secret,omitempty"`
	Default  *yaml.Node `yaml:"default,omitempty"`
}

// EnvVar is a single environment assignment.
type EnvVar struct {
	Key   string
	Value string
}

// Environment holds environment assignments in declaration order, so that
// documents rendered from it are reproducible.
type Environment []EnvVar

func (e *Environment) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*e = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: environment must be a mapping", node.Line)
	}

	env := make(Environment, 0, len(node.Content)/2)
	seen := make(map[string]struct{}, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var key, value string
		if err := node.Content[i].Decode(&key); err != nil {
			return fmt.Errorf("line %d: environment key: %w", node.Content[i].Line, err)
		}
		if err := node.Content[i+1].Decode(&value); err != nil {
			return fmt.Errorf("line %d: environment value for %q: %w", node.Content[i+1].Line, key, err)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("line %d: duplicate environment variable %q", node.Content[i].Line, key)
		}
		seen[key] = struct{}{}
		env = append(env, EnvVar{Key: key, Value: value})
	}

	*e = env
	return nil
}

func (e Environment) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, v := range e {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.Key},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.Value},
		)
	}
	return node, nil
}
