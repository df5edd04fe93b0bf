package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// Archiver streams files into an archive format.
type Archiver interface {
	// AddFile adds one entry named entry.RelativePath. data is nil for symlink entries.
	AddFile(ctx context.Context, entry FileEntry, data io.Reader) error

	// Close writes the archive trailer and flushes. It does not close the
	// underlying writer.
	Close() error

	// Extension returns the file extension for this archive type (e.g., ".zip").
	Extension() string
}

// ArchiverFactory creates an Archiver writing to w.
type ArchiverFactory func(w io.Writer) (Archiver, error)

// WriteEntries feeds entries, in the given order, into archiver and finalizes
// it. File content is streamed from fs. The first failure aborts the run and
// the archive is left unfinalized.
func WriteEntries(ctx context.Context, fs afero.Fs, archiver Archiver, entries []FileEntry) error {
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before adding %s: %w", entry.RelativePath, err)
		}

		if err := writeEntry(ctx, fs, archiver, entry); err != nil {
			return err
		}
	}

	if err := archiver.Close(); err != nil {
		return WrapFS("finalize archive", "", err)
	}

	return nil
}

func writeEntry(ctx context.Context, fs afero.Fs, archiver Archiver, entry FileEntry) (err error) {
	if entry.IsSymlink() {
		return archiver.AddFile(ctx, entry, nil)
	}

	f, err := fs.Open(entry.AbsolutePath)
	if err != nil {
		return WrapFS("open", entry.AbsolutePath, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			err = errors.Join(err, WrapFS("close", entry.AbsolutePath, closeErr))
		}
	}()

	src := NewSourceReader(ctx, f, entry.AbsolutePath)
	if err := archiver.AddFile(ctx, entry, src); err != nil {
		if src.Err() != nil {
			return src.Err()
		}
		return err
	}

	return nil
}

// SourceReader reads file content for an archive entry, stops on context
// cancellation and remembers the first read failure so it can be told apart
// from a failure on the archive side.
type SourceReader struct {
	ctx  context.Context
	r    io.Reader
	path string
	err  error
}

// NewSourceReader wraps r, the content of the file at path.
func NewSourceReader(ctx context.Context, r io.Reader, path string) *SourceReader {
	return &SourceReader{ctx: ctx, r: r, path: path}
}

func (s *SourceReader) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}

	if err := s.ctx.Err(); err != nil {
		s.err = fmt.Errorf("context cancelled while reading %s: %w", s.path, err)
		return 0, s.err
	}

	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = WrapFS("read", s.path, err)
		return n, s.err
	}

	return n, err
}

// Err returns the read failure, if any.
func (s *SourceReader) Err() error {
	return s.err
}
