package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/infracollect/workerpack/internal/engine"
)

var errCannotReadlink = errors.New("filesystem does not support reading symlinks")

// Discoverer lists the files under a source directory.
type Discoverer struct {
	fs       afero.Fs
	logger   *zap.Logger
	symlinks SymlinkPolicy
	filter   engine.Filter
}

type Option func(*Discoverer)

func WithLogger(logger *zap.Logger) Option {
	return func(d *Discoverer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithSymlinkPolicy(policy SymlinkPolicy) Option {
	return func(d *Discoverer) {
		d.symlinks = policy
	}
}

// WithFilter drops every entry for which filter reports an exclusion.
func WithFilter(filter engine.Filter) Option {
	return func(d *Discoverer) {
		d.filter = filter
	}
}

func New(fsys afero.Fs, opts ...Option) *Discoverer {
	d := &Discoverer{
		fs:       fsys,
		logger:   zap.NewNop(),
		symlinks: SymlinkFollow,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover returns one entry per regular file under sourceDir, sorted by
// relative path. An empty directory yields an empty, non-nil slice.
func (d *Discoverer) Discover(ctx context.Context, sourceDir string) ([]engine.FileEntry, error) {
	root, err := filepath.Abs(sourceDir)
	if err != nil {
		return nil, engine.NewError(engine.KindIO, "resolve source directory", sourceDir, err)
	}

	info, err := d.fs.Stat(root)
	if err != nil {
		return nil, engine.WrapFS("stat source directory", root, err)
	}
	if !info.IsDir() {
		return nil, engine.NewError(engine.KindNotADirectory, "stat source directory", root, nil)
	}

	w := &walker{Discoverer: d, ctx: ctx, entries: []engine.FileEntry{}}
	if err := w.walkDir(root, "", []os.FileInfo{info}); err != nil {
		return nil, err
	}

	slices.SortFunc(w.entries, func(a, b engine.FileEntry) int {
		return strings.Compare(a.RelativePath, b.RelativePath)
	})

	d.logger.Debug("discovered files",
		zap.String("source", root),
		zap.Int("files", len(w.entries)),
		zap.Int("excluded", w.excluded),
		zap.Int("skipped", w.skipped),
	)

	return w.entries, nil
}

type walker struct {
	*Discoverer
	ctx      context.Context
	entries  []engine.FileEntry
	excluded int
	skipped  int
}

// walkDir lists absDir. ancestors holds the directories on the current path,
// root first, and is used to stop followed links from looping.
func (w *walker) walkDir(absDir, relDir string, ancestors []os.FileInfo) error {
	if err := w.ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled while walking %s: %w", absDir, err)
	}

	infos, err := afero.ReadDir(w.fs, absDir)
	if err != nil {
		return engine.WrapFS("read directory", absDir, err)
	}

	for _, info := range infos {
		abs := filepath.Join(absDir, info.Name())
		rel := path.Join(relDir, info.Name())

		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			err = w.visitSymlink(abs, rel, info, ancestors)
		case info.IsDir():
			err = w.walkDir(abs, rel, append(ancestors, info))
		case info.Mode().IsRegular():
			err = w.add(abs, rel, info, "")
		default:
			w.skip(rel, "not a regular file", info.Mode())
		}
		if err != nil {
			return err
		}
	}

	return nil
}

func (w *walker) visitSymlink(abs, rel string, info os.FileInfo, ancestors []os.FileInfo) error {
	switch w.symlinks {
	case SymlinkSkip:
		w.skip(rel, "symlink", info.Mode())
		return nil

	case SymlinkPreserve:
		reader, ok := w.fs.(afero.LinkReader)
		if !ok {
			return engine.NewError(engine.KindIO, "read symlink", abs, errCannotReadlink)
		}
		target, err := reader.ReadlinkIfPossible(abs)
		if err != nil {
			return engine.WrapFS("read symlink", abs, err)
		}
		return w.add(abs, rel, info, filepath.ToSlash(target))

	default:
		target, err := w.fs.Stat(abs)
		if err != nil {
			return engine.WrapFS("resolve symlink", abs, err)
		}

		if target.IsDir() {
			for _, ancestor := range ancestors {
				if os.SameFile(ancestor, target) {
					return engine.NewError(engine.KindIO, "resolve symlink", abs, ErrSymlinkCycle)
				}
			}
			return w.walkDir(abs, rel, append(ancestors, target))
		}

		if !target.Mode().IsRegular() {
			w.skip(rel, "symlink to non-regular file", target.Mode())
			return nil
		}
		return w.add(abs, rel, target, "")
	}
}

func (w *walker) add(abs, rel string, info os.FileInfo, linkTarget string) error {
	entry := engine.FileEntry{
		RelativePath: rel,
		AbsolutePath: abs,
		Size:         info.Size(),
		ModTime:      info.ModTime(),
		Mode:         info.Mode(),
		LinkTarget:   linkTarget,
	}
	if linkTarget != "" {
		entry.Size = 0
	}

	if w.filter != nil {
		excluded, err := w.filter.Exclude(entry)
		if err != nil {
			return fmt.Errorf("evaluate filter for %s: %w", rel, err)
		}
		if excluded {
			w.excluded++
			w.logger.Debug("excluded file", zap.String("path", rel))
			return nil
		}
	}

	w.entries = append(w.entries, entry)
	return nil
}

func (w *walker) skip(rel, reason string, mode fs.FileMode) {
	w.skipped++
	w.logger.Debug("skipping entry",
		zap.String("path", rel),
		zap.String("reason", reason),
		zap.Stringer("mode", mode),
	)
}
