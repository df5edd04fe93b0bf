package archivers

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/infracollect/workerpack/internal/engine"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// CompressionType defines supported compression algorithms.
type CompressionType string

const (
	CompressionGzip CompressionType = "gzip"
	CompressionZstd CompressionType = "zstd"
)

// TarArchiver streams tar archives through a compressor. Headers carry
// FixedModTime, zero owner ids and canonical permissions.
type TarArchiver struct {
	compressor  io.WriteCloser
	tarWriter   *tar.Writer
	compression CompressionType
	opts        engine.ArchiveOptions
	closed      bool
}

// NewTarGzipArchiver creates a gzip-compressed tar archiver streaming into w.
func NewTarGzipArchiver(w io.Writer, opts engine.ArchiveOptions) (engine.Archiver, error) {
	archiver, err := newTarArchiver(w, CompressionGzip, opts)
	if err != nil {
		return nil, err
	}
	return archiver, nil
}

// NewTarZstdArchiver creates a zstd-compressed tar archiver streaming into w.
func NewTarZstdArchiver(w io.Writer, opts engine.ArchiveOptions) (engine.Archiver, error) {
	archiver, err := newTarArchiver(w, CompressionZstd, opts)
	if err != nil {
		return nil, err
	}
	return archiver, nil
}

func newTarArchiver(w io.Writer, ct CompressionType, opts engine.ArchiveOptions) (*TarArchiver, error) {
	var compressor io.WriteCloser
	var err error

	switch ct {
	case CompressionGzip:
		compressor, err = gzip.NewWriterLevel(w, opts.Level)
		if err != nil {
			return nil, engine.NewError(engine.KindCompression, "create gzip writer", "", err)
		}
	case CompressionZstd:
		// A single encoder goroutine keeps block boundaries stable between runs.
		compressor, err = zstd.NewWriter(w,
			zstd.WithEncoderLevel(zstdLevel(opts.Level)),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			return nil, engine.NewError(engine.KindCompression, "create zstd writer", "", err)
		}
	default:
		return nil, engine.NewError(engine.KindCompression, "create tar archiver", "", fmt.Errorf("unsupported compression type: %s", ct))
	}

	return &TarArchiver{
		compressor:  compressor,
		tarWriter:   tar.NewWriter(compressor),
		compression: ct,
		opts:        opts,
	}, nil
}

// zstdLevel maps a zlib-style level onto the zstd encoder speeds. Zero and
// negative values select the encoder default.
func zstdLevel(level int) zstd.EncoderLevel {
	if level <= 0 {
		return zstd.SpeedDefault
	}
	return zstd.EncoderLevelFromZstd(level)
}

// AddFile adds a file to the tar archive.
func (a *TarArchiver) AddFile(ctx context.Context, entry engine.FileEntry, data io.Reader) error {
	if a.closed {
		return fmt.Errorf("archiver is closed")
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	mode := entryMode(entry, a.opts)
	header := &tar.Header{
		Name:    entry.RelativePath,
		Mode:    int64(mode.Perm()),
		ModTime: FixedModTime,
	}

	if entry.IsSymlink() {
		header.Typeflag = tar.TypeSymlink
		header.Linkname = entry.LinkTarget
	} else {
		header.Typeflag = tar.TypeReg
		header.Size = entry.Size
	}

	if err := a.tarWriter.WriteHeader(header); err != nil {
		return engine.NewError(engine.KindCompression, "write tar header", entry.RelativePath, err)
	}

	if entry.IsSymlink() {
		return nil
	}

	written, err := io.Copy(a.tarWriter, data)
	if err != nil {
		if errors.Is(err, tar.ErrWriteTooLong) {
			return engine.NewError(engine.KindCompression, "write tar content", entry.RelativePath,
				fmt.Errorf("file grew beyond %d bytes during packaging: %w", entry.Size, err))
		}
		return engine.NewError(engine.KindIO, "write tar content", entry.RelativePath, err)
	}

	if written != entry.Size {
		return engine.NewError(engine.KindCompression, "write tar content", entry.RelativePath,
			fmt.Errorf("file shrank from %d to %d bytes during packaging", entry.Size, written))
	}

	return nil
}

// Close writes the tar trailer and flushes the compressor.
func (a *TarArchiver) Close() error {
	if a.closed {
		return fmt.Errorf("archiver already closed")
	}
	a.closed = true

	// Close tar writer first
	if err := a.tarWriter.Close(); err != nil {
		return engine.NewError(engine.KindIO, "close tar writer", "", err)
	}

	if err := a.compressor.Close(); err != nil {
		return engine.NewError(engine.KindIO, "close compressor", "", err)
	}

	return nil
}

// Extension returns the file extension for this archive type.
func (a *TarArchiver) Extension() string {
	switch a.compression {
	case CompressionGzip:
		return ".tar.gz"
	case CompressionZstd:
		return ".tar.zst"
	default:
		return ".tar"
	}
}
