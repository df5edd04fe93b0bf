package archivers

import (
	"io/fs"
	"time"

	"github.com/infracollect/workerpack/internal/engine"
)

const (
	FormatZip     = "zip"
	FormatTarGzip = "tar.gz"
	FormatTarZstd = "tar.zst"

	// DefaultLevel is the compression level used when none is configured.
	DefaultLevel = 6
)

// FixedModTime is stamped on every entry so archives are byte-for-byte
// reproducible (1980-01-01 UTC, the earliest time a zip header can hold).
var FixedModTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Register adds every archive format of this package to registry.
func Register(registry *engine.Registry) {
	registry.RegisterFormat(FormatZip, NewZipArchiver)
	registry.RegisterFormat(FormatTarGzip, NewTarGzipArchiver)
	registry.RegisterFormat(FormatTarZstd, NewTarZstdArchiver)
}

// entryMode returns the canonical permission bits stored for entry.
func entryMode(entry engine.FileEntry, opts engine.ArchiveOptions) fs.FileMode {
	if entry.IsSymlink() {
		return fs.ModeSymlink | 0o777
	}
	if opts.PreserveExecutable && entry.IsExecutable() {
		return 0o755
	}
	return 0o644
}
