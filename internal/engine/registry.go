package engine

import (
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ArchiveOptions are fixed for a whole packaging run.
type ArchiveOptions struct {
	// Level is the compression level handed to the codec.
	Level int
	// PreserveExecutable stores 0755 instead of 0644 for files with an execute bit.
	PreserveExecutable bool
}

// ArchiverBuilder creates an Archiver for one format.
type ArchiverBuilder func(w io.Writer, opts ArchiveOptions) (Archiver, error)

// UnsupportedFormatError is returned when an archive format is not registered.
type UnsupportedFormatError struct {
	Format    string   // the requested format
	Available []string // registered formats
}

func (e *UnsupportedFormatError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("unsupported archive format %q: no formats registered", e.Format)
	}
	return fmt.Sprintf("unsupported archive format %q (available: %v)", e.Format, e.Available)
}

type Registry struct {
	mu       sync.RWMutex
	builders map[string]ArchiverBuilder
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		builders: make(map[string]ArchiverBuilder),
		logger:   logger,
	}
}

func (r *Registry) RegisterFormat(format string, builder ArchiverBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[format] = builder
}

// Factory binds the builder registered for format to opts. The returned
// factory is validated once here so codec misconfiguration surfaces before any
// file is touched.
func (r *Registry) Factory(format string, opts ArchiveOptions) (ArchiverFactory, error) {
	r.mu.RLock()
	builder, ok := r.builders[format]
	available := r.availableFormats()
	r.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedFormatError{Format: format, Available: available}
	}

	probe, err := builder(io.Discard, opts)
	if err != nil {
		return nil, err
	}
	if err := probe.Close(); err != nil {
		return nil, err
	}

	r.logger.Debug("resolved archive format",
		zap.String("format", format),
		zap.Int("level", opts.Level),
		zap.Bool("preserve_executable", opts.PreserveExecutable),
	)

	return func(w io.Writer) (Archiver, error) {
		return builder(w, opts)
	}, nil
}

func (r *Registry) AvailableFormats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.availableFormats()
}

func (r *Registry) availableFormats() []string {
	formats := lo.Keys(r.builders)
	slices.Sort(formats)
	return formats
}
