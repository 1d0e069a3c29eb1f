package docker

import (
	"fmt"
	"strings"

	"github.com/moby/buildkit/frontend/dockerfile/command"
	"github.com/moby/buildkit/frontend/dockerfile/parser"

	"github.com/cochaviz/ecu/internal/models"
)

const (
	dockerfileHeader = "# Generated by ecu"
	alpineFamily     = "alpine"
	alpineInstall    = "RUN apk add --no-cache "
	debianInstall    = "RUN apt-get update && apt-get install -y "
)

// DockerfileOptions controls how the init launcher enters the image.
type DockerfileOptions struct {
	// CustomInit copies a local "init" from the build context instead of
	// downloading the released launcher.
	CustomInit bool
	// InitURL is the released launcher, used when CustomInit is false.
	InitURL string
}

// SynthesizeDockerfile renders the image build recipe for spec.
//
// The output depends only on its arguments: environment variables keep their
// declaration order and dependencies their list order, so identical
// specifications always produce identical text.
func SynthesizeDockerfile(spec models.ContainerSpec, opts DockerfileOptions) string {
	var b strings.Builder
	base := spec.BaseImage()

	fmt.Fprintln(&b, dockerfileHeader)
	fmt.Fprintf(&b, "FROM %s\n", base)

	for _, env := range spec.Environment {
		fmt.Fprintf(&b, "ENV %s=%s\n", env.Key, env.Value)
	}

	if strings.HasPrefix(base, alpineFamily) {
		b.WriteString(alpineInstall)
	} else {
		b.WriteString(debianInstall)
	}
	for _, dependency := range spec.Dependencies {
		b.WriteString(dependency)
		b.WriteByte(' ')
	}
	b.WriteByte('\n')

	if opts.CustomInit {
		fmt.Fprintln(&b, "ADD init init")
	} else {
		fmt.Fprintf(&b, "ADD %s init\n", opts.InitURL)
		fmt.Fprintln(&b, "RUN chmod +x init")
	}

	fmt.Fprintln(&b, "COPY container.yml /container.yml")
	fmt.Fprintln(&b, "ADD wd.tar.gz /opt")
	fmt.Fprintln(&b, "WORKDIR /opt/wd")

	for _, line := range spec.Install {
		fmt.Fprintf(&b, "RUN %s\n", line)
	}

	fmt.Fprintln(&b, "WORKDIR /")
	fmt.Fprintln(&b, `ENTRYPOINT ["./init"]`)

	return b.String()
}

// Directive is one parsed Dockerfile instruction.
type Directive struct {
	Command string
	Args    []string
	Flags   []string
	JSON    bool
	Line    int
}

// ParseDockerfile parses text with the BuildKit Dockerfile parser and rejects
// instructions BuildKit does not know.
func ParseDockerfile(text string) ([]Directive, error) {
	result, err := parser.Parse(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("parse dockerfile: %w", err)
	}
	if result == nil || result.AST == nil || len(result.AST.Children) == 0 {
		return nil, fmt.Errorf("parse dockerfile: no instructions")
	}

	directives := make([]Directive, 0, len(result.AST.Children))
	for _, child := range result.AST.Children {
		if _, ok := command.Commands[child.Value]; !ok {
			return nil, fmt.Errorf("line %d: unknown instruction %q", child.StartLine, child.Value)
		}

		directive := Directive{
			Command: strings.ToUpper(child.Value),
			Flags:   append([]string(nil), child.Flags...),
			JSON:    child.Attributes["json"],
			Line:    child.StartLine,
		}
		for node := child.Next; node != nil; node = node.Next {
			directive.Args = append(directive.Args, node.Value)
		}
		directives = append(directives, directive)
	}
	return directives, nil
}
