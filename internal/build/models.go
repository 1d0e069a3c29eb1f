package build

import (
	"time"

	"github.com/cochaviz/ecu/internal/models"
)

// BuildStatus captures overall lifecycle states for a package build run.
type BuildStatus string

// Supported build statuses.
const (
	BuildStatusPending   BuildStatus = "pending"
	BuildStatusStaging   BuildStatus = "staging"
	BuildStatusBuilding  BuildStatus = "building"
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
)

// BuildRequest asks for one specification to be built into a package.
type BuildRequest struct {
	// ContextDir is the build context root; declared files are resolved against it.
	ContextDir string
	// File is the specification document, relative to ContextDir unless absolute.
	File string
	// InitPath optionally replaces the released init launcher with a local binary.
	InitPath    string
	RequestedAt time.Time
}

// BuildContext provides the shared context passed across pipeline stages.
type BuildContext struct {
	Spec       models.ContainerSpec
	Manifest   models.PackageManifest
	ContextDir string
	InitPath   string
}

// HasCustomInit reports whether a local init binary replaces the released one.
func (c BuildContext) HasCustomInit() bool {
	return c.InitPath != ""
}

// BuildOutput captures the result from the build driver. Metadata is
// backend-specific and only logged.
type BuildOutput struct {
	Tag          string
	ImageArchive string
	Digest       string
	Metadata     map[string]any
}

// BuildResult is returned by BuildService.Run after every stage succeeded.
type BuildResult struct {
	Manifest   models.PackageManifest
	PackageDir string
	Output     BuildOutput
	Status     BuildStatus
	Warnings   []error
}
