package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/tphakala/biosig-go/internal/errors"
)

const copyBufferSize = 256 * 1024

// LocalTarget copies segments into a directory, typically a mounted share
type LocalTarget struct {
	dir string
}

// NewLocalTarget returns a target writing below dir, created if missing
func NewLocalTarget(dir string) (*LocalTarget, error) {
	if dir == "" {
		return nil, errors.Newf("archive directory is required for the local target").
			Component(componentArchive).
			Category(errors.CategoryConfiguration).
			Build()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.New(err).
			Component(componentArchive).
			Category(errors.CategoryConfiguration).
			Context("directory", dir).
			Build()
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.New(err).
			Component(componentArchive).
			Category(errors.CategoryFileIO).
			Context("directory", abs).
			Build()
	}
	return &LocalTarget{dir: abs}, nil
}

// Name returns the target type
func (t *LocalTarget) Name() string { return TargetLocal }

// Dir returns the archive directory
func (t *LocalTarget) Dir() string { return t.dir }

// Store copies localPath to dir/name through a temporary file so readers
// never see a partial segment.
func (t *LocalTarget) Store(ctx context.Context, localPath, name string) error {
	if name != filepath.Base(name) || name == "." || name == ".." {
		return errors.Newf("invalid archive name %q", name).
			Component(componentArchive).
			Category(errors.CategoryValidation).
			Build()
	}
	src, err := os.Open(localPath) //nolint:gosec // G304: segment path produced by the recorder
	if err != nil {
		return errors.New(err).
			Component(componentArchive).
			Category(errors.CategoryFileIO).
			Context("path", localPath).
			Build()
	}
	defer func() { _ = src.Close() }()

	if err := ctx.Err(); err != nil {
		return err
	}
	return atomicWriteFile(filepath.Join(t.dir, name), func(dst *os.File) error {
		_, err := io.CopyBuffer(dst, src, make([]byte, copyBufferSize))
		return err
	})
}

// Close is a no-op
func (t *LocalTarget) Close() error { return nil }

// atomicWriteFile writes to a temporary file in the target directory and
// renames it into place.
func atomicWriteFile(targetPath string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(targetPath), ".archive-*.tmp")
	if err != nil {
		return errors.New(err).
			Component(componentArchive).
			Category(errors.CategoryFileIO).
			Context("operation", "create_temp").
			Build()
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := write(tmp); err != nil {
		return errors.New(err).
			Component(componentArchive).
			Category(errors.CategoryFileIO).
			Context("operation", "copy").
			Build()
	}
	if err := tmp.Sync(); err != nil {
		return errors.New(err).
			Component(componentArchive).
			Category(errors.CategoryFileIO).
			Context("operation", "sync").
			Build()
	}
	if err := tmp.Close(); err != nil {
		return errors.New(err).
			Component(componentArchive).
			Category(errors.CategoryFileIO).
			Context("operation", "close").
			Build()
	}
	if err := os.Rename(tmpPath, targetPath); err != nil {
		return errors.New(err).
			Component(componentArchive).
			Category(errors.CategoryFileIO).
			Context("operation", "rename").
			Build()
	}
	success = true
	return nil
}
