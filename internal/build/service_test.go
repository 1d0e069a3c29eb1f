package build

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cochaviz/ecu/internal/logging"
	"github.com/cochaviz/ecu/internal/models"
)

type stubLoader struct {
	spec  models.ContainerSpec
	err   error
	paths []string
}

func (l *stubLoader) Load(path string) (models.ContainerSpec, error) {
	l.paths = append(l.paths, path)
	return l.spec, l.err
}

type stubEnvironment struct {
	dir        string
	warnings   []error
	cleanupErr error
	cleanups   int
}

func (e *stubEnvironment) Dir() string       { return e.dir }
func (e *stubEnvironment) Warnings() []error { return e.warnings }
func (e *stubEnvironment) Cleanup(BuildContext) error {
	e.cleanups++
	return e.cleanupErr
}

type stubPreparer struct {
	env      *stubEnvironment
	err      error
	contexts []BuildContext
}

func (p *stubPreparer) Prepare(_ context.Context, bctx BuildContext) (BuildEnvironment, error) {
	p.contexts = append(p.contexts, bctx)
	if p.err != nil {
		return nil, p.err
	}
	return p.env, nil
}

type stubDriver struct {
	output BuildOutput
	err    error
	calls  int
}

func (d *stubDriver) Build(_ context.Context, bctx BuildContext, env BuildEnvironment) (BuildOutput, error) {
	d.calls++
	if d.err != nil {
		return BuildOutput{}, d.err
	}
	return d.output, nil
}

func validSpec() models.ContainerSpec {
	return models.ContainerSpec{
		Name:    "align",
		Version: "1.0.0",
		Actions: map[string]models.Action{
			"align": {Output: []models.Argument{{Name: "result", Type: "string"}}},
		},
	}
}

func newService(loader *stubLoader, preparer *stubPreparer, driver *stubDriver) *BuildService {
	return &BuildService{
		SpecificationLoader: loader,
		EnvironmentPreparer: preparer,
		BuildDriver:         driver,
	}
}

func canonicalTempDir(t *testing.T) string {
	t.Helper()

	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("resolve temp dir: %v", err)
	}
	return dir
}

func TestBuildServiceRunsStagesInOrder(t *testing.T) {
	t.Parallel()

	contextDir := canonicalTempDir(t)
	warning := &StagingError{Kind: StagingCleanupFailed, Path: "wd", Err: errors.New("busy")}
	loader := &stubLoader{spec: validSpec()}
	env := &stubEnvironment{dir: "/store/align/1.0.0", warnings: []error{warning}}
	preparer := &stubPreparer{env: env}
	driver := &stubDriver{output: BuildOutput{Tag: "align:1.0.0"}}

	result, err := newService(loader, preparer, driver).Run(context.Background(), &BuildRequest{
		ContextDir: contextDir,
		InitPath:   "/opt/brane-init",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(loader.paths) != 1 || loader.paths[0] != filepath.Join(contextDir, "container.yml") {
		t.Fatalf("unexpected specification path: %v", loader.paths)
	}
	if len(preparer.contexts) != 1 {
		t.Fatalf("expected one Prepare call, got %d", len(preparer.contexts))
	}
	bctx := preparer.contexts[0]
	if bctx.ContextDir != contextDir || bctx.InitPath != "/opt/brane-init" || !bctx.HasCustomInit() {
		t.Fatalf("unexpected build context: %+v", bctx)
	}
	if _, ok := bctx.Manifest.Functions["align"]; !ok {
		t.Fatalf("expected manifest to be derived before staging")
	}
	if driver.calls != 1 {
		t.Fatalf("expected one Build call, got %d", driver.calls)
	}
	if env.cleanups != 1 {
		t.Fatalf("expected environment cleanup, got %d calls", env.cleanups)
	}

	if result.PackageDir != env.dir || result.Output.Tag != "align:1.0.0" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Warnings) != 1 || !errors.Is(result.Warnings[0], warning) {
		t.Fatalf("expected cleanup warning in result, got %v", result.Warnings)
	}
}

func TestBuildServiceReportsStatusAndMetadata(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	driver := &stubDriver{output: BuildOutput{
		Tag:      "align:1.0.0",
		Digest:   "sha256:abc",
		Metadata: map[string]any{"reference": "index.docker.io/library/align:1.0.0", "backend": "buildx"},
	}}
	service := newService(&stubLoader{spec: validSpec()}, &stubPreparer{env: &stubEnvironment{}}, driver)
	service.Logger = logging.New(logging.FormatText, &buf, slog.LevelDebug)

	result, err := service.Run(context.Background(), &BuildRequest{ContextDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != BuildStatusSucceeded {
		t.Fatalf("unexpected status: got %q want %q", result.Status, BuildStatusSucceeded)
	}

	logs := buf.String()
	for _, want := range []string{
		"from=pending to=staging",
		"from=staging to=building",
		"from=building to=succeeded",
		"digest=sha256:abc",
		"metadata.backend=buildx",
		"metadata.reference=index.docker.io/library/align:1.0.0",
	} {
		if !strings.Contains(logs, want) {
			t.Fatalf("expected %q in logs:\n%s", want, logs)
		}
	}
	if strings.Index(logs, "metadata.backend") > strings.Index(logs, "metadata.reference") {
		t.Fatalf("expected metadata in key order:\n%s", logs)
	}
}

func TestBuildServiceReportsFailedStatus(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	driver := &stubDriver{err: &BackendError{Kind: BackendBuildFailed}}
	service := newService(&stubLoader{spec: validSpec()}, &stubPreparer{env: &stubEnvironment{}}, driver)
	service.Logger = logging.New(logging.FormatText, &buf, slog.LevelDebug)

	if _, err := service.Run(context.Background(), &BuildRequest{ContextDir: t.TempDir()}); err == nil {
		t.Fatalf("expected backend error")
	}
	if !strings.Contains(buf.String(), "from=building to=failed") {
		t.Fatalf("expected failed status transition in logs:\n%s", buf.String())
	}
}

func TestBuildServiceResolvesSpecificationFile(t *testing.T) {
	t.Parallel()

	contextDir := canonicalTempDir(t)
	absolute := filepath.Join(canonicalTempDir(t), "other.yml")

	tests := map[string]struct {
		file string
		want string
	}{
		"relative": {file: "specs/align.yml", want: filepath.Join(contextDir, "specs", "align.yml")},
		"absolute": {file: absolute, want: absolute},
	}

	for label, tc := range tests {
		t.Run(label, func(t *testing.T) {
			t.Parallel()

			loader := &stubLoader{spec: validSpec()}
			service := newService(loader, &stubPreparer{env: &stubEnvironment{}}, &stubDriver{})
			if _, err := service.Run(context.Background(), &BuildRequest{ContextDir: contextDir, File: tc.file}); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if loader.paths[0] != tc.want {
				t.Fatalf("unexpected path: got %q want %q", loader.paths[0], tc.want)
			}
		})
	}
}

func TestBuildServiceStopsOnValidationError(t *testing.T) {
	t.Parallel()

	spec := validSpec()
	spec.Actions["empty"] = models.Action{}
	preparer := &stubPreparer{env: &stubEnvironment{}}

	_, err := newService(&stubLoader{spec: spec}, preparer, &stubDriver{}).Run(context.Background(), &BuildRequest{ContextDir: t.TempDir()})

	var validationErr *SpecValidationError
	if !errors.As(err, &validationErr) || validationErr.Action != "empty" {
		t.Fatalf("expected validation error for action empty, got %v", err)
	}
	if len(preparer.contexts) != 0 {
		t.Fatalf("expected no staging after a validation error")
	}
}

func TestBuildServicePropagatesLoadError(t *testing.T) {
	t.Parallel()

	loadErr := &SpecLoadError{Path: "container.yml", Err: errors.New("document is empty")}
	preparer := &stubPreparer{env: &stubEnvironment{}}

	_, err := newService(&stubLoader{err: loadErr}, preparer, &stubDriver{}).Run(context.Background(), &BuildRequest{ContextDir: t.TempDir()})

	if !errors.Is(err, loadErr) {
		t.Fatalf("expected load error, got %v", err)
	}
	if len(preparer.contexts) != 0 {
		t.Fatalf("expected no staging after a load error")
	}
}

func TestBuildServiceStopsOnStagingError(t *testing.T) {
	t.Parallel()

	stagingErr := &StagingError{Kind: StagingContextFileMissing, Path: "missing.txt"}
	driver := &stubDriver{}

	_, err := newService(&stubLoader{spec: validSpec()}, &stubPreparer{err: stagingErr}, driver).Run(context.Background(), &BuildRequest{ContextDir: t.TempDir()})

	if !errors.Is(err, stagingErr) {
		t.Fatalf("expected staging error, got %v", err)
	}
	if driver.calls != 0 {
		t.Fatalf("expected backend not to run after a staging error")
	}
}

func TestBuildServiceCleansUpAfterBackendError(t *testing.T) {
	t.Parallel()

	backendErr := &BackendError{Kind: BackendBuildFailed}
	env := &stubEnvironment{cleanupErr: errors.New("unlock failed")}

	_, err := newService(&stubLoader{spec: validSpec()}, &stubPreparer{env: env}, &stubDriver{err: backendErr}).Run(context.Background(), &BuildRequest{ContextDir: t.TempDir()})

	if !errors.Is(err, backendErr) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if env.cleanups != 1 {
		t.Fatalf("expected cleanup after backend failure, got %d calls", env.cleanups)
	}
}

func TestBuildServiceHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	preparer := &stubPreparer{env: &stubEnvironment{}}

	_, err := newService(&stubLoader{spec: validSpec()}, preparer, &stubDriver{}).Run(ctx, &BuildRequest{ContextDir: t.TempDir()})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(preparer.contexts) != 0 {
		t.Fatalf("expected no staging after cancellation")
	}
}

func TestBuildServiceRejectsMissingContext(t *testing.T) {
	t.Parallel()

	loader := &stubLoader{spec: validSpec()}
	_, err := newService(loader, &stubPreparer{env: &stubEnvironment{}}, &stubDriver{}).Run(context.Background(), &BuildRequest{
		ContextDir: filepath.Join(t.TempDir(), "absent"),
	})
	if err == nil {
		t.Fatalf("expected error for missing build context")
	}
	if len(loader.paths) != 0 {
		t.Fatalf("expected specification not to be loaded")
	}
}

func TestBuildServiceRequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := (&BuildService{}).Run(context.Background(), &BuildRequest{}); err == nil {
		t.Fatalf("expected error without collaborators")
	}
}
