package docker

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cochaviz/ecu/internal/process"
	"github.com/cochaviz/ecu/internal/repositories/local"
)

// Archiver packs <dir>/wd into <dir>/wd.tar.gz, with entries rooted at "wd/".
type Archiver interface {
	Archive(ctx context.Context, dir string) error
}

// TarCommandArchiver shells out to tar(1).
type TarCommandArchiver struct {
	Runner process.Runner
	Binary string // defaults to "tar"
}

var _ Archiver = (*TarCommandArchiver)(nil)

func (a *TarCommandArchiver) Archive(ctx context.Context, dir string) error {
	binary := a.Binary
	if binary == "" {
		binary = "tar"
	}
	runner := a.Runner
	if runner == nil {
		runner = &process.ExecRunner{}
	}

	var stderr bytes.Buffer
	code, err := runner.Run(ctx, process.Command{
		Name:   binary,
		Args:   []string{"-zcf", local.WorkingArchiveName, local.WorkingDirName},
		Dir:    dir,
		Stderr: &stderr,
	})
	if err != nil {
		return err
	}
	if code != 0 {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s exited with status %d: %s", binary, code, msg)
		}
		return fmt.Errorf("%s exited with status %d", binary, code)
	}
	return nil
}

// TarballArchiver writes the archive in-process. Entries are written in
// lexical order with ownership and timestamps cleared, so the same working
// directory always yields the same bytes.
type TarballArchiver struct{}

var _ Archiver = TarballArchiver{}

var epoch = time.Unix(0, 0).UTC()

func (TarballArchiver) Archive(ctx context.Context, dir string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := filepath.Join(dir, local.WorkingArchiveName)
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(target)
		}
	}()

	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	walkErr := filepath.WalkDir(filepath.Join(dir, local.WorkingDirName), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		return writeArchiveEntry(tw, path, filepath.ToSlash(rel), d)
	})

	return errors.Join(walkErr, tw.Close(), gw.Close(), out.Close())
}

func writeArchiveEntry(tw *tar.Writer, hostPath, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	mode := info.Mode()
	if mode&(os.ModeSocket|os.ModeNamedPipe|os.ModeDevice) != 0 {
		return nil
	}

	var link string
	if mode&os.ModeSymlink != 0 {
		if link, err = os.Readlink(hostPath); err != nil {
			return err
		}
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	header.Name = name
	if info.IsDir() {
		header.Name += "/"
	}
	header.ModTime = epoch
	header.AccessTime = time.Time{}
	header.ChangeTime = time.Time{}
	header.Uid, header.Gid = 0, 0
	header.Uname, header.Gname = "", ""

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if !mode.IsRegular() {
		return nil
	}

	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}
