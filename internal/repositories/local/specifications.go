package local

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cochaviz/ecu/internal/build"
	"github.com/cochaviz/ecu/internal/models"
)

var _ build.SpecificationLoader = (*SpecificationLoader)(nil)

// SpecificationLoader reads container specifications from YAML documents on disk.
// It performs structural decoding only.
type SpecificationLoader struct{}

// Load reads and decodes the specification at path.
func (l *SpecificationLoader) Load(path string) (models.ContainerSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.ContainerSpec{}, &build.SpecLoadError{Path: path, Err: err}
	}

	spec, err := l.LoadBytes(data)
	if err != nil {
		var loadErr *build.SpecLoadError
		if errors.As(err, &loadErr) {
			loadErr.Path = path
		}
		return models.ContainerSpec{}, err
	}
	return spec, nil
}

// LoadBytes decodes a specification document held in memory.
func (l *SpecificationLoader) LoadBytes(data []byte) (models.ContainerSpec, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return models.ContainerSpec{}, &build.SpecLoadError{Err: errors.New("document is empty")}
	}

	var spec models.ContainerSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return models.ContainerSpec{}, &build.SpecLoadError{Err: fmt.Errorf("parse document: %w", err)}
	}
	return spec, nil
}
