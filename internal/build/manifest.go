package build

import (
	"maps"
	"slices"

	"github.com/cochaviz/ecu/internal/models"
)

// SynthesizeManifest derives the package manifest from the actions of spec.
//
// Every action becomes a function of the same name. Its return type is the type
// of the first declared output, so an action without outputs is rejected.
// Actions are visited in sorted order so the first reported error is stable.
func SynthesizeManifest(spec models.ContainerSpec) (models.PackageManifest, error) {
	functions := make(map[string]models.Function, len(spec.Actions))

	for _, name := range slices.Sorted(maps.Keys(spec.Actions)) {
		action := spec.Actions[name]
		if len(action.Output) == 0 {
			return models.PackageManifest{}, &SpecValidationError{
				Action: name,
				Reason: "must declare at least one output",
			}
		}

		functions[name] = models.Function{
			Arguments:  slices.Clone(action.Input),
			Pattern:    action.CallPattern(),
			ReturnType: action.Output[0].Type,
		}
	}

	return models.PackageManifest{
		Name:        spec.Name,
		Version:     spec.Version,
		Description: spec.Description,
		Kind:        models.PackageKindECU,
		Functions:   functions,
	}, nil
}
