package sinks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/infracollect/workerpack/internal/engine"
)

// FilesystemSink copies archives into a directory.
type FilesystemSink struct {
	fs afero.Fs
}

func NewFilesystemSink(fs afero.Fs) engine.Sink {
	return &FilesystemSink{fs: fs}
}

// NewFilesystemSinkFromPath roots the sink at path, creating it if needed.
func NewFilesystemSinkFromPath(base afero.Fs, path string) (engine.Sink, error) {
	cleanPath := filepath.Clean(path)

	if err := base.MkdirAll(cleanPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", cleanPath, err)
	}

	return NewFilesystemSink(afero.NewBasePathFs(base, cleanPath)), nil
}

func (s *FilesystemSink) Name() string {
	return fmt.Sprintf("filesystem(%s)", s.fs.Name())
}

func (s *FilesystemSink) Kind() string {
	return "filesystem"
}

// Write copies data to path through a temporary sibling, so an interrupted
// publish never leaves a truncated archive under the final name.
func (s *FilesystemSink) Write(ctx context.Context, path string, data io.Reader) (err error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	f, err := afero.TempFile(s.fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	tmpPath := f.Name()
	closed := false
	defer func() {
		if err == nil {
			return
		}
		if !closed {
			err = errors.Join(err, f.Close())
		}
		_ = s.fs.Remove(tmpPath)
	}()

	if _, err = io.Copy(f, engine.NewSourceReader(ctx, data, path)); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	closed = true
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err = s.fs.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("failed to chmod file: %w", err)
	}
	if err = s.fs.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

func (s *FilesystemSink) Close(ctx context.Context) error {
	return nil
}
