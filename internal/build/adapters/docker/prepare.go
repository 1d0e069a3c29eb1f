package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/google/uuid"
	"github.com/otiai10/copy"
	"gopkg.in/yaml.v3"

	"github.com/cochaviz/ecu/internal/build"
	"github.com/cochaviz/ecu/internal/models"
	"github.com/cochaviz/ecu/internal/repositories/local"
)

// Ensure StagingPreparer satisfies the build environment preparer interface.
var _ build.BuildEnvironmentPreparer = (*StagingPreparer)(nil)

// StagingPreparer stages package directories in a PackageStore.
//
// A package is assembled in a private directory next to its address and
// renamed into place only once every step succeeded, while an advisory lock
// on the address is held. Concurrent builds of the same name and version
// therefore run one after the other and never observe each other's files.
type StagingPreparer struct {
	Store    *local.PackageStore
	Archiver Archiver
	// InitURL is the released init launcher added when no custom init is given.
	InitURL string
	Logger  *slog.Logger

	removeAll func(path string) error
	copyTree  func(src, dst string) error
}

// StageRequest holds everything written into a package directory.
type StageRequest struct {
	Spec       models.ContainerSpec
	Dockerfile string
	Manifest   models.PackageManifest
	InitPath   string
	ContextDir string
}

var _ build.BuildEnvironment = (*StagedPackage)(nil)

// StagedPackage is a published package directory.
type StagedPackage struct {
	dir      string
	warnings []error
	unlock   func() error
}

func (s *StagedPackage) Dir() string { return s.dir }

// Warnings returns non-fatal staging failures, such as a working directory
// that could not be removed after archiving.
func (s *StagedPackage) Warnings() []error { return s.warnings }

// Cleanup releases the package lock. The staged files are kept.
func (s *StagedPackage) Cleanup(build.BuildContext) error {
	if s.unlock == nil {
		return nil
	}
	unlock := s.unlock
	s.unlock = nil
	return unlock()
}

// Prepare renders the Dockerfile for the build context, takes the package
// lock and stages the package. The lock is held until Cleanup.
func (p *StagingPreparer) Prepare(ctx context.Context, bctx build.BuildContext) (build.BuildEnvironment, error) {
	if p.Store == nil {
		return nil, errors.New("package store is not configured")
	}
	if !bctx.HasCustomInit() && p.InitURL == "" {
		return nil, errors.New("init launcher URL is not configured; provide a custom init binary or a release version")
	}

	dockerfile := SynthesizeDockerfile(bctx.Spec, DockerfileOptions{
		CustomInit: bctx.HasCustomInit(),
		InitURL:    p.InitURL,
	})
	if _, err := ParseDockerfile(dockerfile); err != nil {
		return nil, &build.SpecValidationError{Reason: fmt.Sprintf("generated Dockerfile is invalid: %v", err)}
	}

	if _, err := p.Store.Address(bctx.Spec.Name, bctx.Spec.Version); err != nil {
		return nil, &build.SpecValidationError{Reason: err.Error()}
	}
	if _, err := imageReference(bctx.Spec); err != nil {
		return nil, err
	}

	unlock, err := p.Store.Lock(bctx.Spec.Name, bctx.Spec.Version)
	if err != nil {
		return nil, err
	}

	staged, err := p.Stage(ctx, StageRequest{
		Spec:       bctx.Spec,
		Dockerfile: dockerfile,
		Manifest:   bctx.Manifest,
		InitPath:   bctx.InitPath,
		ContextDir: bctx.ContextDir,
	})
	if err != nil {
		if unlockErr := unlock(); unlockErr != nil {
			p.logger().Warn("failed to release package lock", "error", unlockErr)
		}
		return nil, err
	}

	staged.unlock = unlock
	return staged, nil
}

// Stage writes the package directory for req and returns it once published.
func (p *StagingPreparer) Stage(ctx context.Context, req StageRequest) (*StagedPackage, error) {
	dir, err := p.Store.Address(req.Spec.Name, req.Spec.Version)
	if err != nil {
		return nil, &build.SpecValidationError{Reason: err.Error()}
	}
	logger := p.logger().With("package", req.Spec.Name, "version", req.Spec.Version)

	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, &build.StagingError{Kind: build.StagingWriteFailed, Path: parent, Err: err}
	}

	work := filepath.Join(parent, "."+req.Spec.Version+"-"+uuid.NewString())
	if err := os.Mkdir(work, 0o755); err != nil {
		return nil, &build.StagingError{Kind: build.StagingWriteFailed, Path: work, Err: err}
	}
	published := false
	defer func() {
		if !published {
			if err := os.RemoveAll(work); err != nil {
				logger.Warn("failed to remove unpublished package directory", "dir", work, "error", err)
			}
		}
	}()
	logger.Debug("staging package", "staging_dir", work)

	if err := writeMetadata(work, req); err != nil {
		return nil, err
	}

	if req.InitPath != "" {
		if err := copyInit(req.InitPath, filepath.Join(work, local.InitFileName)); err != nil {
			return nil, &build.StagingError{Kind: build.StagingInitCopyFailed, Path: req.InitPath, Err: err}
		}
		logger.Debug("copied custom init binary", "init", req.InitPath)
	}

	wd := filepath.Join(work, local.WorkingDirName)
	if err := os.Mkdir(wd, 0o755); err != nil {
		return nil, &build.StagingError{Kind: build.StagingWriteFailed, Path: local.WorkingDirName, Err: err}
	}
	for _, file := range req.Spec.Files {
		if err := p.stageContextFile(req.ContextDir, wd, file); err != nil {
			return nil, err
		}
		logger.Debug("copied file to working directory", "file", file)
	}

	if err := p.archiver().Archive(ctx, work); err != nil {
		return nil, &build.StagingError{Kind: build.StagingArchiveFailed, Path: local.WorkingArchiveName, Err: err}
	}

	var warnings []error
	if err := p.remove(wd); err != nil {
		warning := &build.StagingError{Kind: build.StagingCleanupFailed, Path: local.WorkingDirName, Err: err}
		logger.Warn("failed to clean up working directory", "error", err)
		warnings = append(warnings, warning)
	}

	previous, err := publish(work, dir)
	if err != nil {
		return nil, &build.StagingError{Kind: build.StagingWriteFailed, Path: dir, Err: err}
	}
	published = true

	if previous != "" {
		if err := p.remove(previous); err != nil {
			logger.Warn("failed to remove previous package directory", "dir", previous, "error", err)
			warnings = append(warnings, &build.StagingError{Kind: build.StagingCleanupFailed, Path: previous, Err: err})
		}
	}

	logger.Debug("published package directory", "package_dir", dir)
	return &StagedPackage{dir: dir, warnings: warnings}, nil
}

func (p *StagingPreparer) archiver() Archiver {
	if p.Archiver != nil {
		return p.Archiver
	}
	return &TarCommandArchiver{}
}

func (p *StagingPreparer) remove(path string) error {
	if p.removeAll != nil {
		return p.removeAll(path)
	}
	return os.RemoveAll(path)
}

func (p *StagingPreparer) copy(src, dst string) error {
	if p.copyTree != nil {
		return p.copyTree(src, dst)
	}
	return copy.Copy(src, dst)
}

func (p *StagingPreparer) logger() *slog.Logger {
	if p != nil && p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func writeMetadata(dir string, req StageRequest) error {
	spec, err := encodeYAML(req.Spec)
	if err != nil {
		return &build.StagingError{Kind: build.StagingWriteFailed, Path: local.SpecificationFileName, Err: err}
	}
	manifest, err := encodeYAML(req.Manifest)
	if err != nil {
		return &build.StagingError{Kind: build.StagingWriteFailed, Path: local.ManifestFileName, Err: err}
	}

	files := []struct {
		name string
		data []byte
	}{
		{local.SpecificationFileName, spec},
		{local.DockerfileName, []byte(req.Dockerfile)},
		{local.ManifestFileName, manifest},
	}
	for _, file := range files {
		if err := os.WriteFile(filepath.Join(dir, file.name), file.data, 0o644); err != nil {
			return &build.StagingError{Kind: build.StagingWriteFailed, Path: file.name, Err: err}
		}
	}
	return nil
}

func encodeYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// copyInit copies the file src resolves to, so that a symlinked launcher is
// staged with its content rather than as a link.
func copyInit(src, dst string) error {
	abs, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", resolved)
	}
	return copy.Copy(resolved, dst)
}

// stageContextFile copies a declared file, or directory, from the build context
// into the working directory, mirroring its relative path. Both ends are
// resolved with securejoin so that neither ".." nor symlinks reach outside
// the context or the working directory. Only a source that cannot be found is
// reported as a missing context file.
func (p *StagingPreparer) stageContextFile(contextDir, wd, file string) error {
	missing := func(err error) error {
		return &build.StagingError{Kind: build.StagingContextFileMissing, Path: file, Err: err}
	}
	if clean := filepath.Clean(file); clean == "." || clean == string(filepath.Separator) {
		return missing(fmt.Errorf("%q does not name a file", file))
	}

	src, err := securejoin.SecureJoin(contextDir, file)
	if err != nil {
		return missing(err)
	}
	if _, err := os.Stat(src); err != nil {
		return missing(err)
	}

	dst, err := securejoin.SecureJoin(wd, file)
	if err != nil {
		return &build.StagingError{Kind: build.StagingWriteFailed, Path: file, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &build.StagingError{Kind: build.StagingWriteFailed, Path: file, Err: err}
	}
	if err := p.copy(src, dst); err != nil {
		return &build.StagingError{Kind: build.StagingWriteFailed, Path: file, Err: err}
	}
	return nil
}

// publish renames work to dir. An existing dir is first moved aside; its new
// location is returned so the caller can remove it.
func publish(work, dir string) (string, error) {
	var previous string
	if _, err := os.Lstat(dir); err == nil {
		previous = work + ".previous"
		if err := os.Rename(dir, previous); err != nil {
			return "", err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	if err := os.Rename(work, dir); err != nil {
		if previous != "" {
			_ = os.Rename(previous, dir)
		}
		return "", err
	}
	return previous, nil
}
