package build

import "context"

// BuildEnvironmentPreparer stages a package directory the build driver can consume.
type BuildEnvironmentPreparer interface {
	Prepare(ctx context.Context, buildContext BuildContext) (BuildEnvironment, error)
}

// BuildEnvironment is a staged package directory. Cleanup releases whatever the
// preparer holds for the duration of the build; the staged files are kept.
type BuildEnvironment interface {
	Dir() string
	Warnings() []error
	Cleanup(buildContext BuildContext) error
}

// BuildDriver drives the image build backend against a staged environment.
type BuildDriver interface {
	Build(ctx context.Context, buildContext BuildContext, environment BuildEnvironment) (BuildOutput, error)
}
