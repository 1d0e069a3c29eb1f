package build

import "github.com/cochaviz/ecu/internal/models"

// SpecificationLoader reads container specifications from storage.
type SpecificationLoader interface {
	Load(path string) (models.ContainerSpec, error)
}
