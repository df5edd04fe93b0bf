package archivers

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infracollect/workerpack/internal/engine"
)

type zipEntry struct {
	file    *zip.File
	content string
}

// readZipEntries returns the entries of a zip archive in central directory order.
func readZipEntries(t *testing.T, data []byte) []zipEntry {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	found := make([]zipEntry, 0, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		found = append(found, zipEntry{file: f, content: string(content)})
	}
	return found
}

func TestNewZipArchiver(t *testing.T) {
	tests := []struct {
		name    string
		level   int
		wantErr bool
	}{
		{name: "default level", level: DefaultLevel},
		{name: "no compression", level: 0},
		{name: "best compression", level: 9},
		{name: "library default", level: -1},
		{name: "out of range", level: 42, wantErr: true},
		{name: "negative out of range", level: -7, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archiver, err := NewZipArchiver(io.Discard, engine.ArchiveOptions{Level: tt.level})
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, engine.ErrCompression)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ".zip", archiver.Extension())
		})
	}
}

func TestZipArchiver_MultipleFiles(t *testing.T) {
	var buf bytes.Buffer
	archiver, err := NewZipArchiver(&buf, engine.ArchiveOptions{Level: DefaultLevel})
	require.NoError(t, err)

	files := []struct{ name, content string }{
		{"a/b.txt", "content b"},
		{"a/c.txt", "content c"},
		{"foo.json", `{"key1":"value1","key2":"value2"}`},
	}
	for _, f := range files {
		err = archiver.AddFile(t.Context(), entryFor(f.name, f.content), strings.NewReader(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, archiver.Close())

	found := readZipEntries(t, buf.Bytes())
	require.Len(t, found, len(files))
	for i, f := range files {
		assert.Equal(t, f.name, found[i].file.Name)
		assert.Equal(t, f.content, found[i].content)
		assert.Equal(t, zip.Deflate, found[i].file.Method)
		assert.Equal(t, fs.FileMode(0o644), found[i].file.Mode())
		assert.True(t, found[i].file.Modified.Equal(FixedModTime), "entry %s has modified time %s", f.name, found[i].file.Modified)
	}
}

func TestZipArchiver_Deterministic(t *testing.T) {
	build := func() []byte {
		var buf bytes.Buffer
		archiver, err := NewZipArchiver(&buf, engine.ArchiveOptions{Level: DefaultLevel})
		require.NoError(t, err)
		for _, name := range []string{"index.js", "lib/util.js", "package.json"} {
			content := strings.Repeat(name, 200)
			require.NoError(t, archiver.AddFile(t.Context(), entryFor(name, content), strings.NewReader(content)))
		}
		require.NoError(t, archiver.Close())
		return buf.Bytes()
	}

	assert.Equal(t, build(), build())
}

func TestZipArchiver_Empty(t *testing.T) {
	var buf bytes.Buffer
	archiver, err := NewZipArchiver(&buf, engine.ArchiveOptions{Level: DefaultLevel})
	require.NoError(t, err)
	require.NoError(t, archiver.Close())

	assert.NotEmpty(t, buf.Bytes(), "an empty archive still has an end of central directory record")
	assert.Empty(t, readZipEntries(t, buf.Bytes()))
}

func TestZipArchiver_ExecutableMode(t *testing.T) {
	tests := []struct {
		name               string
		preserveExecutable bool
		wantMode           fs.FileMode
	}{
		{name: "normalized by default", preserveExecutable: false, wantMode: 0o644},
		{name: "kept when preserving executables", preserveExecutable: true, wantMode: 0o755},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			archiver, err := NewZipArchiver(&buf, engine.ArchiveOptions{Level: DefaultLevel, PreserveExecutable: tt.preserveExecutable})
			require.NoError(t, err)

			entry := entryFor("bootstrap", "#!/bin/sh")
			entry.Mode = 0o711
			require.NoError(t, archiver.AddFile(t.Context(), entry, strings.NewReader("#!/bin/sh")))
			require.NoError(t, archiver.Close())

			found := readZipEntries(t, buf.Bytes())
			require.Len(t, found, 1)
			assert.Equal(t, tt.wantMode, found[0].file.Mode())
		})
	}
}

func TestZipArchiver_Symlink(t *testing.T) {
	var buf bytes.Buffer
	archiver, err := NewZipArchiver(&buf, engine.ArchiveOptions{Level: DefaultLevel})
	require.NoError(t, err)

	entry := engine.FileEntry{RelativePath: "node_modules/.bin/tsc", LinkTarget: "../typescript/bin/tsc"}
	require.NoError(t, archiver.AddFile(t.Context(), entry, nil))
	require.NoError(t, archiver.Close())

	found := readZipEntries(t, buf.Bytes())
	require.Len(t, found, 1)
	assert.NotZero(t, found[0].file.Mode()&fs.ModeSymlink)
	assert.Equal(t, "../typescript/bin/tsc", found[0].content)
}

func TestZipArchiver_NameTooLong(t *testing.T) {
	archiver, err := NewZipArchiver(io.Discard, engine.ArchiveOptions{Level: DefaultLevel})
	require.NoError(t, err)

	name := strings.Repeat("a", 1<<16)
	err = archiver.AddFile(t.Context(), entryFor(name, "x"), strings.NewReader("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrCompression)
}

func TestZipArchiver_CancelledContext(t *testing.T) {
	archiver, err := NewZipArchiver(io.Discard, engine.ArchiveOptions{Level: DefaultLevel})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err = archiver.AddFile(ctx, entryFor("a.txt", "a"), strings.NewReader("a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestZipArchiver_CloseTwice(t *testing.T) {
	archiver, err := NewZipArchiver(io.Discard, engine.ArchiveOptions{Level: DefaultLevel})
	require.NoError(t, err)

	require.NoError(t, archiver.Close())
	require.Error(t, archiver.Close(), "Close() second call should error")
}

func TestZipArchiver_AddFileAfterClose(t *testing.T) {
	archiver, err := NewZipArchiver(io.Discard, engine.ArchiveOptions{Level: DefaultLevel})
	require.NoError(t, err)

	require.NoError(t, archiver.Close())

	err = archiver.AddFile(t.Context(), entryFor("test.txt", "content"), strings.NewReader("content"))
	require.Error(t, err, "AddFile() after Close() should error")
}

func TestRegister(t *testing.T) {
	registry := engine.NewRegistry(nil)
	Register(registry)

	assert.Equal(t, []string{FormatTarGzip, FormatTarZstd, FormatZip}, registry.AvailableFormats())

	for _, format := range registry.AvailableFormats() {
		t.Run(format, func(t *testing.T) {
			factory, err := registry.Factory(format, engine.ArchiveOptions{Level: DefaultLevel})
			require.NoError(t, err)

			archiver, err := factory(io.Discard)
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(archiver.Extension(), strings.TrimPrefix(format, "tar")))
		})
	}
}
