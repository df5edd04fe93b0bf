package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	v1 "github.com/infracollect/workerpack/apis/v1"
	"github.com/infracollect/workerpack/internal/engine"
	"github.com/infracollect/workerpack/internal/engine/discovery"
	"github.com/infracollect/workerpack/internal/engine/filters"
	"github.com/infracollect/workerpack/internal/packer"
)

// Runner packs the source directory of one job and publishes the archive.
type Runner struct {
	logger *zap.Logger
	job    v1.PackJob
	fs     afero.Fs
	stdout io.Writer
	packer *packer.Packer
	sinks  []engine.Sink
}

type Option func(*Runner)

// WithFs replaces the OS filesystem for packing and filesystem publishing.
func WithFs(fs afero.Fs) Option {
	return func(r *Runner) {
		r.fs = fs
	}
}

// WithStdout sets the writer used by stdout publish targets.
func WithStdout(w io.Writer) Option {
	return func(r *Runner) {
		r.stdout = w
	}
}

// WithSinks appends extra publish targets after the ones declared in the job.
func WithSinks(sinks ...engine.Sink) Option {
	return func(r *Runner) {
		r.sinks = append(r.sinks, sinks...)
	}
}

// New builds a runner for a parsed, expanded job whose paths are already
// resolved.
func New(ctx context.Context, logger *zap.Logger, job v1.PackJob, opts ...Option) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("creating runner", zap.String("job_name", job.Metadata.Name))

	r := &Runner{
		logger: logger,
		job:    job,
		fs:     afero.NewOsFs(),
		stdout: os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}

	cfg, err := buildPackerConfig(job.Spec)
	if err != nil {
		return nil, err
	}

	r.packer, err = packer.New(logger, cfg, packer.WithFs(r.fs))
	if err != nil {
		return nil, fmt.Errorf("failed to create packer: %w", err)
	}

	declared, err := r.buildSinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build publish targets: %w", err)
	}
	r.sinks = append(declared, r.sinks...)

	return r, nil
}

func buildPackerConfig(spec v1.PackJobSpec) (packer.Config, error) {
	var cfg packer.Config

	if archive := spec.Archive; archive != nil {
		symlinks, err := discovery.ParseSymlinkPolicy(archive.Symlinks)
		if err != nil {
			return packer.Config{}, err
		}
		cfg = packer.Config{
			Format:             archive.Format,
			Level:              archive.Level,
			Name:               archive.Name,
			Symlinks:           symlinks,
			PreserveExecutable: archive.PreserveExecutable,
		}
	}

	if spec.Filter != nil && spec.Filter.Exclude != "" {
		filter, err := filters.NewCELFilter(spec.Filter.Exclude)
		if err != nil {
			return packer.Config{}, fmt.Errorf("failed to build filter: %w", err)
		}
		cfg.Filter = filter
	}

	return cfg, nil
}

// Run packs the job's source directory and publishes the archive to every
// sink in order. The archive stays in the working directory either way.
func (r *Runner) Run(ctx context.Context) (engine.ArchiveHandle, error) {
	defer func() {
		// Sinks are closed with a fresh context so cleanup still runs after
		// cancellation.
		cleanupCtx := context.Background()
		for _, sink := range r.sinks {
			if err := sink.Close(cleanupCtx); err != nil {
				r.logger.Error("failed to close sink", zap.String("sink", sink.Name()), zap.Error(err))
			}
		}
	}()

	workdir := r.job.Spec.Workdir
	if err := r.fs.MkdirAll(workdir, 0o755); err != nil {
		return engine.ArchiveHandle{}, engine.WrapFS("create working directory", workdir, err)
	}

	handle, err := r.packer.Write(ctx, r.job.Spec.Source, workdir)
	if err != nil {
		return engine.ArchiveHandle{}, fmt.Errorf("failed to pack %s: %w", r.job.Spec.Source, err)
	}

	for _, sink := range r.sinks {
		if err := r.publish(ctx, sink, handle); err != nil {
			return handle, fmt.Errorf("failed to publish to %s: %w", sink.Name(), err)
		}
	}

	return handle, nil
}

func (r *Runner) publish(ctx context.Context, sink engine.Sink, handle engine.ArchiveHandle) (err error) {
	f, err := r.fs.Open(handle.Path)
	if err != nil {
		return engine.WrapFS("open archive", handle.Path, err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	name := filepath.Base(handle.Path)
	r.logger.Debug("publishing archive", zap.String("sink", sink.Name()), zap.String("name", name))

	if mw, ok := sink.(engine.MetadataWriter); ok {
		err = mw.WriteWithMetadata(ctx, name, f, engine.ObjectMetadata{SHA256: handle.SHA256, Size: handle.Size})
	} else {
		err = sink.Write(ctx, name, f)
	}
	if err != nil {
		return err
	}

	r.logger.Info("published archive", zap.String("sink", sink.Name()), zap.String("name", name))
	return nil
}
