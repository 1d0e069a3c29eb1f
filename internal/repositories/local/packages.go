package local

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blang/semver"
	"gopkg.in/yaml.v3"

	"github.com/cochaviz/ecu/internal/models"
)

// File names inside a package directory.
const (
	SpecificationFileName = "container.yml"
	DockerfileName        = "Dockerfile"
	ManifestFileName      = "package.yml"
	InitFileName          = "init"
	WorkingDirName        = "wd"
	WorkingArchiveName    = "wd.tar.gz"
	ImageArchiveName      = "image.tar"
)

// PackageStore addresses package directories below BaseDir as <name>/<version>.
type PackageStore struct {
	BaseDir string
}

// Address returns the package directory for name and version.
func (s *PackageStore) Address(name, version string) (string, error) {
	if s.BaseDir == "" {
		return "", errors.New("package store directory is not configured")
	}
	if err := validateSegment("package name", name); err != nil {
		return "", err
	}
	if err := validateSegment("package version", version); err != nil {
		return "", err
	}
	return filepath.Join(s.BaseDir, name, version), nil
}

// Get reads the manifest of a staged package.
func (s *PackageStore) Get(name, version string) (models.PackageManifest, error) {
	dir, err := s.Address(name, version)
	if err != nil {
		return models.PackageManifest{}, err
	}

	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.PackageManifest{}, fmt.Errorf("package %s version %s not found", name, version)
		}
		return models.PackageManifest{}, err
	}

	var manifest models.PackageManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return models.PackageManifest{}, fmt.Errorf("parse manifest of %s:%s: %w", name, version, err)
	}
	return manifest, nil
}

// ListVersions returns the manifest of every staged version of name.
// Private staging directories and lock files are skipped.
func (s *PackageStore) ListVersions(name string) ([]models.PackageManifest, error) {
	if err := validateSegment("package name", name); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(s.BaseDir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var manifests []models.PackageManifest
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		manifest, err := s.Get(name, entry.Name())
		if err != nil {
			continue
		}
		manifests = append(manifests, manifest)
	}

	sort.SliceStable(manifests, func(i, j int) bool { return versionLess(manifests[i].Version, manifests[j].Version) })
	return manifests, nil
}

// versionLess orders semantic versions numerically and anything else lexically.
func versionLess(a, b string) bool {
	va, errA := semver.ParseTolerant(a)
	vb, errB := semver.ParseTolerant(b)
	if errA == nil && errB == nil {
		return va.LT(vb)
	}
	return a < b
}

// ListAll returns every staged version of every package, ordered by name.
func (s *PackageStore) ListAll() ([]models.PackageManifest, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var manifests []models.PackageManifest
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		versions, err := s.ListVersions(entry.Name())
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, versions...)
	}
	return manifests, nil
}

// Delete removes a staged package version and its lock file. Callers hold the
// package lock.
func (s *PackageStore) Delete(name, version string) error {
	dir, err := s.Address(name, version)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	lock, err := s.lockPath(name, version)
	if err != nil {
		return err
	}
	if err := os.Remove(lock); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// validateSegment rejects values that would not address exactly one directory level.
func validateSegment(label, value string) error {
	switch {
	case value == "":
		return fmt.Errorf("%s is required", label)
	case value == "." || value == "..":
		return fmt.Errorf("%s %q is not a valid directory name", label, value)
	case strings.HasPrefix(value, "."):
		return fmt.Errorf("%s %q must not start with a dot", label, value)
	case strings.ContainsAny(value, `/\`):
		return fmt.Errorf("%s %q must not contain path separators", label, value)
	}
	return nil
}
