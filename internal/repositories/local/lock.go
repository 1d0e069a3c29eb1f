package local

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Lock takes an exclusive advisory lock on the package address of name and
// version, blocking until it is available. The returned function releases it.
//
// The lock file lives next to the package directory so that publishing the
// directory by rename does not drop the lock. Delete removes the lock file, so
// a lock taken on a file that was unlinked while waiting is retried.
func (s *PackageStore) Lock(name, version string) (func() error, error) {
	path, err := s.lockPath(name, version)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create package directory: %w", err)
	}

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open package lock: %w", err)
		}
		if err := lockFile(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("lock package %s:%s: %w", name, version, err)
		}

		current, err := sameFile(f, path)
		if err != nil {
			return nil, fmt.Errorf("lock package %s:%s: %w", name, version, errors.Join(err, unlockFile(f), f.Close()))
		}
		if !current {
			if err := errors.Join(unlockFile(f), f.Close()); err != nil {
				return nil, fmt.Errorf("lock package %s:%s: %w", name, version, err)
			}
			continue
		}

		return func() error {
			return errors.Join(unlockFile(f), f.Close())
		}, nil
	}
}

func (s *PackageStore) lockPath(name, version string) (string, error) {
	dir, err := s.Address(name, version)
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(dir), "."+version+".lock"), nil
}

// sameFile reports whether f is still the file found at path.
func sameFile(f *os.File, path string) (bool, error) {
	held, err := f.Stat()
	if err != nil {
		return false, err
	}
	found, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return os.SameFile(held, found), nil
}
