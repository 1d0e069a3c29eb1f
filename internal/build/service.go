package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"time"
)

// DefaultSpecificationFile is the document name looked up in the build context.
const DefaultSpecificationFile = "container.yml"

type BuildService struct {
	Logger              *slog.Logger
	SpecificationLoader SpecificationLoader
	EnvironmentPreparer BuildEnvironmentPreparer
	BuildDriver         BuildDriver
}

// Run loads the specification named by request, stages the package and builds
// its image. Stages run strictly in order; cancellation of ctx is observed
// between stages only.
func (s *BuildService) Run(ctx context.Context, request *BuildRequest) (_ *BuildResult, err error) {
	if s.SpecificationLoader == nil {
		return nil, errors.New("specification loader is not configured")
	}
	if s.EnvironmentPreparer == nil {
		return nil, errors.New("build environment preparer is not configured")
	}
	if s.BuildDriver == nil {
		return nil, errors.New("build driver is not configured")
	}
	if request.RequestedAt.IsZero() {
		request.RequestedAt = time.Now()
	}

	contextDir, err := canonicalDir(request.ContextDir)
	if err != nil {
		return nil, err
	}
	logger := s.logger().With("context", contextDir)
	logger.Debug("using build context")

	status := BuildStatusPending
	advance := func(next BuildStatus) {
		logger.Debug("build status changed", "from", status, "to", next)
		status = next
	}
	defer func() {
		if err != nil {
			advance(BuildStatusFailed)
		}
	}()

	specPath := SpecificationPath(contextDir, request.File)
	spec, err := s.SpecificationLoader.Load(specPath)
	if err != nil {
		return nil, err
	}

	logger = logger.With("package", spec.Name, "version", spec.Version)

	manifest, err := SynthesizeManifest(spec)
	if err != nil {
		return nil, err
	}
	logger.Debug("derived package manifest", "functions", len(manifest.Functions))

	buildContext := BuildContext{
		Spec:       spec,
		Manifest:   manifest,
		ContextDir: contextDir,
		InitPath:   request.InitPath,
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	advance(BuildStatusStaging)
	env, err := s.EnvironmentPreparer.Prepare(ctx, buildContext)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := env.Cleanup(buildContext); err != nil {
			logger.Warn("build environment cleanup failed", "error", err)
		}
	}()

	warnings := env.Warnings()
	for _, warning := range warnings {
		logger.Warn("package staged with warnings", "error", warning)
	}
	logger.Info("package directory prepared", "package_dir", env.Dir())

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	advance(BuildStatusBuilding)
	output, err := s.BuildDriver.Build(ctx, buildContext, env)
	if err != nil {
		return nil, err
	}
	advance(BuildStatusSucceeded)
	logger.Info("package image built",
		"tag", output.Tag,
		"image", output.ImageArchive,
		"digest", output.Digest,
		metadataGroup(output.Metadata),
		"elapsed", time.Since(request.RequestedAt).Round(time.Millisecond),
	)

	return &BuildResult{
		Manifest:   manifest,
		PackageDir: env.Dir(),
		Output:     output,
		Status:     status,
		Warnings:   warnings,
	}, nil
}

// metadataGroup renders backend metadata in key order.
func metadataGroup(metadata map[string]any) slog.Attr {
	args := make([]any, 0, len(metadata))
	for _, key := range slices.Sorted(maps.Keys(metadata)) {
		args = append(args, slog.Any(key, metadata[key]))
	}
	return slog.Group("metadata", args...)
}

func (s *BuildService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func canonicalDir(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve build context %s: %w", dir, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve build context %s: %w", dir, err)
	}
	return resolved, nil
}

// SpecificationPath resolves file against contextDir, defaulting to
// DefaultSpecificationFile. Absolute paths are returned unchanged.
func SpecificationPath(contextDir, file string) string {
	if file == "" {
		file = DefaultSpecificationFile
	}
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(contextDir, file)
}
