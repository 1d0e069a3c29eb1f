package docker

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/tarball"

	"github.com/cochaviz/ecu/internal/build"
	"github.com/cochaviz/ecu/internal/process"
)

func newTestBuilder(runner *fakeRunner) *BuildxBuilder {
	return &BuildxBuilder{Runner: runner, Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
}

func isProbe(cmd process.Command) bool {
	return len(cmd.Args) > 1 && cmd.Args[1] == "version"
}

func TestBuildxBuilderInvokesBackend(t *testing.T) {
	t.Parallel()

	env := &StagedPackage{dir: t.TempDir()}
	runner := &fakeRunner{}
	builder := newTestBuilder(runner)

	output, err := builder.Build(context.Background(), build.BuildContext{Spec: testSpec()}, env)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	calls := runner.commands()
	if len(calls) != 2 {
		t.Fatalf("expected probe and build, got %d commands", len(calls))
	}
	if diff := cmp.Diff([]string{"buildx", "version"}, calls[0].Args); diff != "" {
		t.Fatalf("unexpected probe args (-want +got):\n%s", diff)
	}

	wantArgs := []string{"buildx", "build", "--output", "type=docker,dest=image.tar", "--tag", "align:1.0.0", "."}
	if diff := cmp.Diff(wantArgs, calls[1].Args); diff != "" {
		t.Fatalf("unexpected build args (-want +got):\n%s", diff)
	}
	if calls[1].Name != "docker" {
		t.Fatalf("unexpected binary: got %q want %q", calls[1].Name, "docker")
	}
	if calls[1].Dir != env.Dir() {
		t.Fatalf("unexpected working dir: got %q want %q", calls[1].Dir, env.Dir())
	}

	if output.Tag != "align:1.0.0" {
		t.Fatalf("unexpected tag: got %q", output.Tag)
	}
	if output.ImageArchive != filepath.Join(env.Dir(), "image.tar") {
		t.Fatalf("unexpected image archive: got %q", output.ImageArchive)
	}
	if output.Digest != "" {
		t.Fatalf("expected no digest without an exported image, got %q", output.Digest)
	}
}

func TestBuildxBuilderReportsImageDigest(t *testing.T) {
	t.Parallel()

	img, err := random.Image(256, 1)
	if err != nil {
		t.Fatalf("random.Image() error = %v", err)
	}
	tag, err := name.NewTag("align:1.0.0")
	if err != nil {
		t.Fatalf("NewTag() error = %v", err)
	}

	runner := &fakeRunner{fn: func(cmd process.Command) (int, error) {
		if isProbe(cmd) {
			return 0, nil
		}
		return 0, tarball.WriteToFile(filepath.Join(cmd.Dir, "image.tar"), tag, img)
	}}
	env := &StagedPackage{dir: t.TempDir()}

	output, err := newTestBuilder(runner).Build(context.Background(), build.BuildContext{Spec: testSpec()}, env)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.HasPrefix(output.Digest, "sha256:") {
		t.Fatalf("expected a sha256 digest, got %q", output.Digest)
	}
}

func TestBuildxBuilderCapabilityMissing(t *testing.T) {
	t.Parallel()

	tests := map[string]func(process.Command) (int, error){
		"non-zero probe": func(process.Command) (int, error) { return 1, nil },
		"probe not started": func(process.Command) (int, error) {
			return -1, errors.New("executable file not found in $PATH")
		},
	}

	for label, fn := range tests {
		t.Run(label, func(t *testing.T) {
			t.Parallel()

			runner := &fakeRunner{fn: fn}
			_, err := newTestBuilder(runner).Build(context.Background(), build.BuildContext{Spec: testSpec()}, &StagedPackage{dir: t.TempDir()})

			var backendErr *build.BackendError
			if !errors.As(err, &backendErr) {
				t.Fatalf("expected BackendError, got %T: %v", err, err)
			}
			if backendErr.Kind != build.BackendCapabilityMissing {
				t.Fatalf("unexpected kind: got %s want %s", backendErr.Kind, build.BackendCapabilityMissing)
			}
			if len(runner.commands()) != 1 {
				t.Fatalf("expected no build after a failed probe, got %d commands", len(runner.commands()))
			}
		})
	}
}

func TestBuildxBuilderBuildFailed(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{fn: func(cmd process.Command) (int, error) {
		if isProbe(cmd) {
			return 0, nil
		}
		return 1, nil
	}}

	_, err := newTestBuilder(runner).Build(context.Background(), build.BuildContext{Spec: testSpec()}, &StagedPackage{dir: t.TempDir()})

	var backendErr *build.BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("expected BackendError, got %T: %v", err, err)
	}
	if backendErr.Kind != build.BackendBuildFailed {
		t.Fatalf("unexpected kind: got %s want %s", backendErr.Kind, build.BackendBuildFailed)
	}
}

func TestBuildxBuilderRejectsInvalidTag(t *testing.T) {
	t.Parallel()

	spec := testSpec()
	spec.Name = "Not A Name"
	runner := &fakeRunner{}

	_, err := newTestBuilder(runner).Build(context.Background(), build.BuildContext{Spec: spec}, &StagedPackage{dir: t.TempDir()})

	var validationErr *build.SpecValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected SpecValidationError, got %T: %v", err, err)
	}
	if len(runner.commands()) != 0 {
		t.Fatalf("expected backend not to run, got %d commands", len(runner.commands()))
	}
}
