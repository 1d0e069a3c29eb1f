package simple

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/cochaviz/ecu/internal/build"
	"github.com/cochaviz/ecu/internal/build/adapters/docker"
	"github.com/cochaviz/ecu/internal/logging"
	"github.com/cochaviz/ecu/internal/process"
	"github.com/cochaviz/ecu/internal/repositories/local"
	"github.com/cochaviz/ecu/internal/services"
	"github.com/cochaviz/ecu/internal/setup"
)

// BuildOptions selects the specification to build and how.
type BuildOptions struct {
	ContextDir string
	File       string
	// InitPath replaces the released init launcher with a local binary.
	InitPath string
	Config   setup.Config
}

// BuildPackage runs the whole pipeline for one specification: load, derive the
// manifest, stage the package directory and build the image.
func BuildPackage(ctx context.Context, opts BuildOptions, logger *slog.Logger) (*build.BuildResult, error) {
	logger = logging.Ensure(logger).With("component", "config.simple")

	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	var initURL string
	if opts.InitPath == "" {
		url, err := opts.Config.InitURL()
		if err != nil {
			return nil, err
		}
		initURL = url
	}

	runner := &process.ExecRunner{Logger: logger.With("component", "process")}

	buildService := build.BuildService{
		Logger:              logger.With("service", "build"),
		SpecificationLoader: &local.SpecificationLoader{},
		EnvironmentPreparer: &docker.StagingPreparer{
			Store:    &local.PackageStore{BaseDir: opts.Config.StoreDir},
			Archiver: newArchiver(opts.Config, runner),
			InitURL:  initURL,
			Logger:   logger.With("preparer", "staging"),
		},
		BuildDriver: &docker.BuildxBuilder{
			Runner: runner,
			Binary: opts.Config.Backend.Binary,
			Logger: logger.With("driver", "buildx"),
		},
	}

	return buildService.Run(ctx, &build.BuildRequest{
		ContextDir: opts.ContextDir,
		File:       opts.File,
		InitPath:   opts.InitPath,
	})
}

// Generated holds the documents a build would stage, rendered without
// touching the package store.
type Generated struct {
	Dockerfile string
	Manifest   []byte
}

// Generate renders the Dockerfile and package manifest of a specification.
func Generate(opts BuildOptions) (Generated, error) {
	loader := &local.SpecificationLoader{}
	contextDir := opts.ContextDir
	if contextDir == "" {
		contextDir = "."
	}

	spec, err := loader.Load(build.SpecificationPath(contextDir, opts.File))
	if err != nil {
		return Generated{}, err
	}
	manifest, err := build.SynthesizeManifest(spec)
	if err != nil {
		return Generated{}, err
	}

	dockerOpts := docker.DockerfileOptions{CustomInit: opts.InitPath != ""}
	if !dockerOpts.CustomInit {
		if dockerOpts.InitURL, err = opts.Config.InitURL(); err != nil {
			return Generated{}, err
		}
	}
	dockerfile := docker.SynthesizeDockerfile(spec, dockerOpts)
	if _, err := docker.ParseDockerfile(dockerfile); err != nil {
		return Generated{}, &build.SpecValidationError{Reason: fmt.Sprintf("generated Dockerfile is invalid: %v", err)}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(manifest); err != nil {
		return Generated{}, fmt.Errorf("render manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return Generated{}, fmt.Errorf("render manifest: %w", err)
	}

	return Generated{Dockerfile: dockerfile, Manifest: buf.Bytes()}, nil
}

// List summarises the packages in the store; an empty name lists all of them.
func List(storeDir, name string, logger *slog.Logger) ([]services.PackageSummary, error) {
	service := &services.PackageService{
		Store:  &local.PackageStore{BaseDir: storeDir},
		Logger: logging.Ensure(logger).With("service", "packages"),
	}
	return service.List(name)
}

// Remove deletes one staged package version.
func Remove(storeDir, name, version string, logger *slog.Logger) error {
	service := &services.PackageService{
		Store:  &local.PackageStore{BaseDir: storeDir},
		Logger: logging.Ensure(logger).With("service", "packages"),
	}
	return service.Remove(name, version)
}

func newArchiver(cfg setup.Config, runner process.Runner) docker.Archiver {
	if cfg.Archiver == setup.ArchiverBuiltin {
		return docker.TarballArchiver{}
	}
	return &docker.TarCommandArchiver{Runner: runner, Binary: cfg.Backend.TarBinary}
}
