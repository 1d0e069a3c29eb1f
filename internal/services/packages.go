package services

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/cochaviz/ecu/internal/models"
	"github.com/cochaviz/ecu/internal/repositories/local"
)

// PackageSummary describes one staged package version.
type PackageSummary struct {
	Name        string
	Version     string
	Description string
	Functions   []string
	Dir         string
	// Built reports whether the backend exported an image for this version.
	Built bool
}

// PackageService answers questions about the local package store.
type PackageService struct {
	Store  *local.PackageStore
	Logger *slog.Logger
}

// List summarises staged packages. An empty name lists every package.
func (s *PackageService) List(name string) ([]PackageSummary, error) {
	if s.Store == nil {
		return nil, errors.New("package store is not configured")
	}

	var (
		manifests []models.PackageManifest
		err       error
	)
	if name == "" {
		manifests, err = s.Store.ListAll()
	} else {
		manifests, err = s.Store.ListVersions(name)
	}
	if err != nil {
		return nil, err
	}

	summaries := make([]PackageSummary, 0, len(manifests))
	for _, manifest := range manifests {
		dir, err := s.Store.Address(manifest.Name, manifest.Version)
		if err != nil {
			s.logger().Warn("skipping package with invalid address", "package", manifest.Name, "version", manifest.Version, "error", err)
			continue
		}
		summaries = append(summaries, PackageSummary{
			Name:        manifest.Name,
			Version:     manifest.Version,
			Description: manifest.Description,
			Functions:   slices.Sorted(maps.Keys(manifest.Functions)),
			Dir:         dir,
			Built:       exists(filepath.Join(dir, local.ImageArchiveName)),
		})
	}
	return summaries, nil
}

// Remove deletes a staged package version while holding its lock, so a
// concurrent build of the same version is never cut short.
func (s *PackageService) Remove(name, version string) error {
	if s.Store == nil {
		return errors.New("package store is not configured")
	}
	if _, err := s.Store.Get(name, version); err != nil {
		return err
	}

	unlock, err := s.Store.Lock(name, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := unlock(); err != nil {
			s.logger().Warn("failed to release package lock", "package", name, "version", version, "error", err)
		}
	}()

	if err := s.Store.Delete(name, version); err != nil {
		return fmt.Errorf("remove package %s:%s: %w", name, version, err)
	}
	s.logger().Info("removed package", "package", name, "version", version)
	return nil
}

func (s *PackageService) logger() *slog.Logger {
	if s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
