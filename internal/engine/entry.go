package engine

import (
	"io/fs"
	"time"
)

// FileEntry describes one file picked up by discovery. It lives only for the
// duration of a single packaging run.
type FileEntry struct {
	// RelativePath is the entry name: forward slashes, no leading slash,
	// no "." or ".." segments.
	RelativePath string
	// AbsolutePath is where the content is read from.
	AbsolutePath string
	Size         int64
	ModTime      time.Time
	Mode         fs.FileMode
	// LinkTarget is set only when symlinks are preserved as link entries.
	LinkTarget string
}

// IsSymlink reports whether the entry is stored as a link rather than content.
func (e FileEntry) IsSymlink() bool {
	return e.LinkTarget != ""
}

// IsExecutable reports whether any execute bit is set on the source file.
func (e FileEntry) IsExecutable() bool {
	return e.Mode&0o111 != 0
}

// ArchiveHandle is the result of a packaging run. The caller owns the file.
type ArchiveHandle struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	SHA256  string `json:"sha256"`
	Entries int    `json:"entries"`
	Format  string `json:"format"`
}

// Filter lets callers drop entries before they reach the archiver.
type Filter interface {
	Exclude(entry FileEntry) (bool, error)
}

// FilterFunc adapts a plain function to Filter.
type FilterFunc func(entry FileEntry) (bool, error)

func (f FilterFunc) Exclude(entry FileEntry) (bool, error) {
	return f(entry)
}
