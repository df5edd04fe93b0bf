// Package packer turns a source directory into a single archive inside a
// working directory.
//
// The archive is built in a temporary file next to its final location and
// renamed into place only once it is complete, so readers of the working
// directory never observe a partial archive.
package packer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/infracollect/workerpack/internal/engine"
	"github.com/infracollect/workerpack/internal/engine/archivers"
	"github.com/infracollect/workerpack/internal/engine/discovery"
)

const (
	// DefaultName is used when the source directory has no usable base name.
	DefaultName = "package"

	archiveMode fs.FileMode = 0o644
)

// Config is fixed for the lifetime of a Packer.
type Config struct {
	// Format is a registered archive format, zip when empty.
	Format string
	// Level is the compression level, archivers.DefaultLevel when nil.
	Level *int
	// Name is the archive base name. Defaults to the source directory name.
	Name               string
	Symlinks           discovery.SymlinkPolicy
	PreserveExecutable bool
	// Filter excludes entries during discovery. Optional.
	Filter engine.Filter
}

type Packer struct {
	fs         afero.Fs
	logger     *zap.Logger
	cfg        Config
	registry   *engine.Registry
	factory    engine.ArchiverFactory
	discoverer *discovery.Discoverer
}

type Option func(*Packer)

// WithFs replaces the OS filesystem, mostly for tests.
func WithFs(fsys afero.Fs) Option {
	return func(p *Packer) {
		p.fs = fsys
	}
}

// WithRegistry supplies the archive formats. The built-in formats are used
// when omitted.
func WithRegistry(registry *engine.Registry) Option {
	return func(p *Packer) {
		p.registry = registry
	}
}

// New validates cfg and resolves the archive format.
func New(logger *zap.Logger, cfg Config, opts ...Option) (*Packer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Packer{
		fs:     afero.NewOsFs(),
		logger: logger.Named("packer"),
	}
	for _, opt := range opts {
		opt(p)
	}

	cfg.Format = lo.CoalesceOrEmpty(cfg.Format, archivers.FormatZip)
	if cfg.Level == nil {
		cfg.Level = lo.ToPtr(archivers.DefaultLevel)
	}
	if cfg.Symlinks == "" {
		cfg.Symlinks = discovery.SymlinkFollow
	}
	if err := validateName(cfg.Name); err != nil {
		return nil, err
	}
	p.cfg = cfg

	if p.registry == nil {
		p.registry = engine.NewRegistry(p.logger)
		archivers.Register(p.registry)
	}

	factory, err := p.registry.Factory(cfg.Format, engine.ArchiveOptions{
		Level:              *cfg.Level,
		PreserveExecutable: cfg.PreserveExecutable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve archive format: %w", err)
	}
	p.factory = factory

	p.discoverer = discovery.New(p.fs,
		discovery.WithLogger(p.logger.Named("discovery")),
		discovery.WithSymlinkPolicy(cfg.Symlinks),
		discovery.WithFilter(cfg.Filter),
	)

	return p, nil
}

func validateName(name string) error {
	if name == "" {
		return nil
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid archive name %q: must be a plain file name", name)
	}
	return nil
}

// Write packs sourceDir into one archive directly inside workingDir and
// returns its handle. On failure nothing is left in workingDir.
func (p *Packer) Write(ctx context.Context, sourceDir, workingDir string) (engine.ArchiveHandle, error) {
	start := time.Now()

	workDir, err := p.checkWorkingDir(workingDir)
	if err != nil {
		return engine.ArchiveHandle{}, err
	}

	entries, err := p.discoverer.Discover(ctx, sourceDir)
	if err != nil {
		return engine.ArchiveHandle{}, err
	}

	base := p.archiveBase(sourceDir)
	tmp, err := afero.TempFile(p.fs, workDir, "."+base+".tmp-*")
	if err != nil {
		return engine.ArchiveHandle{}, engine.WrapFS("create temporary file", workDir, err)
	}
	tmpPath := tmp.Name()
	logger := p.logger.With(zap.String("temp_file", tmpPath))

	tmpOpen, promoted := true, false
	defer func() {
		if promoted {
			return
		}
		if tmpOpen {
			if closeErr := tmp.Close(); closeErr != nil {
				logger.Debug("failed to close temporary file", zap.Error(closeErr))
			}
		}
		if rmErr := p.fs.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			logger.Warn("failed to remove temporary file", zap.Error(rmErr))
		}
	}()

	hasher := sha256.New()
	archiver, err := p.factory(io.MultiWriter(tmp, hasher))
	if err != nil {
		return engine.ArchiveHandle{}, err
	}

	logger.Debug("writing archive", zap.Int("entries", len(entries)), zap.String("format", p.cfg.Format))
	if err := engine.WriteEntries(ctx, p.fs, archiver, entries); err != nil {
		return engine.ArchiveHandle{}, err
	}

	if err := tmp.Sync(); err != nil {
		return engine.ArchiveHandle{}, engine.WrapFS("sync", tmpPath, err)
	}
	info, err := tmp.Stat()
	if err != nil {
		return engine.ArchiveHandle{}, engine.WrapFS("stat", tmpPath, err)
	}
	tmpOpen = false
	if err := tmp.Close(); err != nil {
		return engine.ArchiveHandle{}, engine.WrapFS("close", tmpPath, err)
	}
	if err := p.fs.Chmod(tmpPath, archiveMode); err != nil {
		return engine.ArchiveHandle{}, engine.WrapFS("chmod", tmpPath, err)
	}

	if err := ctx.Err(); err != nil {
		return engine.ArchiveHandle{}, fmt.Errorf("context cancelled before promoting archive: %w", err)
	}

	ext := archiver.Extension()
	finalPath := filepath.Join(workDir, strings.TrimSuffix(base, ext)+ext)
	if err := p.fs.Rename(tmpPath, finalPath); err != nil {
		return engine.ArchiveHandle{}, engine.WrapFS("rename", finalPath, err)
	}
	promoted = true

	handle := engine.ArchiveHandle{
		Path:    finalPath,
		Size:    info.Size(),
		SHA256:  hex.EncodeToString(hasher.Sum(nil)),
		Entries: len(entries),
		Format:  p.cfg.Format,
	}

	p.logger.Info("archive written",
		zap.String("path", handle.Path),
		zap.Int64("size", handle.Size),
		zap.Int("entries", handle.Entries),
		zap.String("sha256", handle.SHA256),
		zap.Duration("duration", time.Since(start)),
	)

	return handle, nil
}

func (p *Packer) checkWorkingDir(workingDir string) (string, error) {
	workDir, err := filepath.Abs(workingDir)
	if err != nil {
		return "", engine.NewError(engine.KindIO, "resolve working directory", workingDir, err)
	}

	info, err := p.fs.Stat(workDir)
	if err != nil {
		return "", engine.WrapFS("stat working directory", workDir, err)
	}
	if !info.IsDir() {
		return "", engine.NewError(engine.KindNotADirectory, "stat working directory", workDir, nil)
	}

	return workDir, nil
}

// archiveBase returns the archive file name without extension.
func (p *Packer) archiveBase(sourceDir string) string {
	if p.cfg.Name != "" {
		return p.cfg.Name
	}

	abs, err := filepath.Abs(sourceDir)
	if err != nil {
		abs = filepath.Clean(sourceDir)
	}
	base := filepath.Base(abs)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return DefaultName
	}
	return base
}
