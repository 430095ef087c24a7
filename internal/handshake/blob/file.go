package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const fileScheme = "file://"

// FileBackend stores objects as files below a base directory.
type FileBackend struct {
	baseDir string
	log     *slog.Logger
}

// NewFileBackend creates the base directory if needed.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("blob: file backend needs a directory")
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FileBackend{baseDir: abs, log: log}, nil
}

// Put writes to a temporary file and renames it into place, so a reader
// never observes a partial object.
func (b *FileBackend) Put(ctx context.Context, key string, r io.ReadSeeker, size int64, sha256 string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(b.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if n != size {
		return "", fmt.Errorf("blob: wrote %d bytes, expected %d", n, size)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}

	b.log.Debug("stored blob", slog.String("path", dst), slog.Int64("size", size), slog.String("sha256", sha256))
	return fileScheme + key, nil
}

func (b *FileBackend) path(ref string) (string, error) {
	if !strings.HasPrefix(ref, fileScheme) {
		return "", fmt.Errorf("blob: %q is not a file reference", ref)
	}
	key, err := cleanKey(strings.TrimPrefix(ref, fileScheme))
	if err != nil {
		return "", err
	}
	return filepath.Join(b.baseDir, filepath.FromSlash(key)), nil
}

func (b *FileBackend) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	p, err := b.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

func (b *FileBackend) Delete(ctx context.Context, ref string) error {
	p, err := b.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Available checks the base directory is still a writable directory.
func (b *FileBackend) Available(ctx context.Context) bool {
	info, err := os.Stat(b.baseDir)
	return err == nil && info.IsDir()
}

func (b *FileBackend) Name() string { return fileScheme + b.baseDir }
