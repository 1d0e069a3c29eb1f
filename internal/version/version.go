// Package version reports build information injected at link time:
//
//	go build -ldflags "-X github.com/cochaviz/ecu/internal/version.version=1.2.3 \
//	  -X github.com/cochaviz/ecu/internal/version.gitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
	"strings"
)

const undefined = "(undefined)"

var (
	version   = "" // release number, e.g. "0.4.1"
	gitCommit = "" // short commit hash
)

// Version returns the release number without a "v" prefix, or "(undefined)".
func Version() string {
	v := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(version)), "v")
	if v == "" {
		return undefined
	}
	return v
}

// Release returns the release number and whether one was injected.
func Release() (string, bool) {
	v := Version()
	return v, v != undefined
}

// GitCommit returns the commit hash, or "(undefined)".
func GitCommit() string {
	if c := strings.TrimSpace(gitCommit); c != "" {
		return c
	}
	return undefined
}

// String formats "<version> <commit> [<os>/<arch>]".
func String() string {
	return fmt.Sprintf("%s %s [%s/%s]", Version(), GitCommit(), runtime.GOOS, runtime.GOARCH)
}
