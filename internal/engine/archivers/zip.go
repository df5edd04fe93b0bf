package archivers

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/infracollect/workerpack/internal/engine"
	"github.com/klauspost/compress/flate"
)

// ZipArchiver writes deterministic zip archives: every entry is deflated at
// the same level and carries FixedModTime and canonical permissions.
type ZipArchiver struct {
	zipWriter *zip.Writer
	opts      engine.ArchiveOptions
	closed    bool
}

// NewZipArchiver creates a zip archiver streaming into w.
func NewZipArchiver(w io.Writer, opts engine.ArchiveOptions) (engine.Archiver, error) {
	// Reject bad levels now rather than on the first entry.
	if _, err := flate.NewWriter(io.Discard, opts.Level); err != nil {
		return nil, engine.NewError(engine.KindCompression, "create deflate writer", "", err)
	}

	zipWriter := zip.NewWriter(w)
	zipWriter.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, opts.Level)
	})

	return &ZipArchiver{
		zipWriter: zipWriter,
		opts:      opts,
	}, nil
}

// AddFile adds a file to the zip archive.
func (a *ZipArchiver) AddFile(ctx context.Context, entry engine.FileEntry, data io.Reader) error {
	if a.closed {
		return fmt.Errorf("archiver is closed")
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	header := &zip.FileHeader{
		Name:     entry.RelativePath,
		Method:   zip.Deflate,
		Modified: FixedModTime,
	}
	header.SetMode(entryMode(entry, a.opts))

	w, err := a.zipWriter.CreateHeader(header)
	if err != nil {
		return engine.NewError(engine.KindCompression, "create zip entry", entry.RelativePath, err)
	}

	if entry.IsSymlink() {
		data = strings.NewReader(entry.LinkTarget)
	}

	if _, err := io.Copy(w, data); err != nil {
		return engine.NewError(engine.KindIO, "write zip entry", entry.RelativePath, err)
	}

	return nil
}

// Close writes the central directory.
func (a *ZipArchiver) Close() error {
	if a.closed {
		return fmt.Errorf("archiver already closed")
	}
	a.closed = true

	if err := a.zipWriter.Close(); err != nil {
		return engine.NewError(engine.KindIO, "write zip central directory", "", err)
	}

	return nil
}

// Extension returns the file extension for this archive type.
func (a *ZipArchiver) Extension() string {
	return ".zip"
}
