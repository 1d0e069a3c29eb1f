package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/tarball"

	"github.com/cochaviz/ecu/internal/build"
	"github.com/cochaviz/ecu/internal/models"
	"github.com/cochaviz/ecu/internal/process"
	"github.com/cochaviz/ecu/internal/repositories/local"
)

// Ensure BuildxBuilder satisfies the build driver interface.
var _ build.BuildDriver = (*BuildxBuilder)(nil)

const (
	capabilityMissingMessage = "Failed to build ECU image. Is BuildKit enabled? See https://docs.docker.com/buildx/working-with-buildx/ to enable it"
	buildFailedMessage       = "Failed to build ECU image. See Docker output above for more information"
)

// BuildxBuilder builds staged packages with `docker buildx`, exporting the
// image to image.tar in the package directory.
type BuildxBuilder struct {
	Runner process.Runner
	// Binary defaults to "docker".
	Binary string
	// Stdout and Stderr receive the backend's output; they default to the
	// process's own streams.
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func (b *BuildxBuilder) logger() *slog.Logger {
	if b != nil && b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// Build probes for buildx and runs the image build in env.Dir().
func (b *BuildxBuilder) Build(ctx context.Context, bctx build.BuildContext, env build.BuildEnvironment) (build.BuildOutput, error) {
	tag, err := imageReference(bctx.Spec)
	if err != nil {
		return build.BuildOutput{}, err
	}

	dir := env.Dir()
	logger := b.logger().With("tag", bctx.Spec.ImageTag(), "package_dir", dir)

	if err := b.probe(ctx); err != nil {
		return build.BuildOutput{}, err
	}

	cmd := process.Command{
		Name: b.binary(),
		Args: []string{
			"buildx", "build",
			"--output", "type=docker,dest=" + local.ImageArchiveName,
			"--tag", bctx.Spec.ImageTag(),
			".",
		},
		Dir:    dir,
		Stdout: b.stdout(),
		Stderr: b.stderr(),
	}
	logger.Info("running image build", "command", cmd.String())

	code, err := b.runner().Run(ctx, cmd)
	if err != nil {
		return build.BuildOutput{}, &build.BackendError{Kind: build.BackendBuildFailed, Message: buildFailedMessage, Err: err}
	}
	if code != 0 {
		return build.BuildOutput{}, &build.BackendError{
			Kind:    build.BackendBuildFailed,
			Message: buildFailedMessage,
			Err:     fmt.Errorf("%s exited with status %d", cmd.Name, code),
		}
	}

	archive := filepath.Join(dir, local.ImageArchiveName)
	output := build.BuildOutput{
		Tag:          bctx.Spec.ImageTag(),
		ImageArchive: archive,
		Metadata: map[string]any{
			"backend":   "buildx",
			"reference": tag.Name(),
		},
	}

	digest, err := imageDigest(archive)
	if err != nil {
		logger.Warn("could not inspect exported image", "image", archive, "error", err)
		return output, nil
	}
	output.Digest = digest
	return output, nil
}

// probe fails with BackendCapabilityMissing when `docker buildx` is unusable.
func (b *BuildxBuilder) probe(ctx context.Context) error {
	cmd := process.Command{
		Name:   b.binary(),
		Args:   []string{"buildx", "version"},
		Stdout: io.Discard,
		Stderr: io.Discard,
	}
	code, err := b.runner().Run(ctx, cmd)
	if err != nil {
		return &build.BackendError{Kind: build.BackendCapabilityMissing, Message: capabilityMissingMessage, Err: err}
	}
	if code != 0 {
		return &build.BackendError{
			Kind:    build.BackendCapabilityMissing,
			Message: capabilityMissingMessage,
			Err:     fmt.Errorf("%s exited with status %d", cmd.String(), code),
		}
	}
	b.logger().Debug("buildx available", "command", cmd.String())
	return nil
}

// imageReference parses the image tag of spec, which must be a valid
// repository:tag reference.
func imageReference(spec models.ContainerSpec) (name.Tag, error) {
	tag, err := name.NewTag(spec.ImageTag(), name.WeakValidation)
	if err != nil {
		return name.Tag{}, &build.SpecValidationError{Reason: fmt.Sprintf("%q is not a valid image tag: %v", spec.ImageTag(), err)}
	}
	return tag, nil
}

func imageDigest(path string) (string, error) {
	img, err := tarball.ImageFromPath(path, nil)
	if err != nil {
		return "", err
	}
	digest, err := img.Digest()
	if err != nil {
		return "", err
	}
	return digest.String(), nil
}

func (b *BuildxBuilder) binary() string {
	if b.Binary != "" {
		return b.Binary
	}
	return "docker"
}

func (b *BuildxBuilder) runner() process.Runner {
	if b.Runner != nil {
		return b.Runner
	}
	return &process.ExecRunner{Logger: b.Logger}
}

func (b *BuildxBuilder) stdout() io.Writer {
	if b.Stdout != nil {
		return b.Stdout
	}
	return os.Stdout
}

func (b *BuildxBuilder) stderr() io.Writer {
	if b.Stderr != nil {
		return b.Stderr
	}
	return os.Stderr
}
