package packer

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/infracollect/workerpack/internal/engine"
	"github.com/infracollect/workerpack/internal/engine/archivers"
	"github.com/infracollect/workerpack/internal/engine/discovery"
)

// failingOpenFs fails Open for a single path.
type failingOpenFs struct {
	afero.Fs
	path string
	err  error
}

func (f *failingOpenFs) Open(name string) (afero.File, error) {
	if name == f.path {
		return nil, &os.PathError{Op: "open", Path: name, Err: f.err}
	}
	return f.Fs.Open(name)
}

func newFixture(t *testing.T, files map[string]string, workDirs ...string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/src/app", 0o755))
	for name, content := range files {
		p := filepath.Join("/src/app", filepath.FromSlash(name))
		require.NoError(t, fsys.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, afero.WriteFile(fsys, p, []byte(content), 0o644))
	}
	for _, dir := range append([]string{"/work"}, workDirs...) {
		require.NoError(t, fsys.MkdirAll(dir, 0o755))
	}
	return fsys
}

func newPacker(t *testing.T, fsys afero.Fs, cfg Config) *Packer {
	t.Helper()
	p, err := New(zap.NewNop(), cfg, WithFs(fsys))
	require.NoError(t, err)
	return p
}

func readZip(t *testing.T, fsys afero.Fs, path string) map[string]string {
	t.Helper()
	data, err := afero.ReadFile(fsys, path)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	contents := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		contents[f.Name] = string(b)
	}
	return contents
}

func zipNames(t *testing.T, fsys afero.Fs, path string) []string {
	t.Helper()
	data, err := afero.ReadFile(fsys, path)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return lo.Map(zr.File, func(f *zip.File, _ int) string { return f.Name })
}

func dirNames(t *testing.T, fsys afero.Fs, dir string) []string {
	t.Helper()
	infos, err := afero.ReadDir(fsys, dir)
	require.NoError(t, err)
	return lo.Map(infos, func(fi os.FileInfo, _ int) string { return fi.Name() })
}

func TestWrite_SingleJSONFile(t *testing.T) {
	fsys := newFixture(t, map[string]string{"foo.json": `{"key1":"value1","key2":"value2"}`})
	p := newPacker(t, fsys, Config{})

	handle, err := p.Write(t.Context(), "/src/app", "/work")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/work", "app.zip"), handle.Path)
	assert.Equal(t, 1, handle.Entries)
	assert.Equal(t, archivers.FormatZip, handle.Format)

	contents := readZip(t, fsys, handle.Path)
	require.Len(t, contents, 1)

	var got, want map[string]string
	require.NoError(t, json.Unmarshal([]byte(contents["foo.json"]), &got))
	require.NoError(t, json.Unmarshal([]byte(`{"key1":"value1","key2":"value2"}`), &want))
	assert.Equal(t, want, got)

	assert.Equal(t, []string{"app.zip"}, dirNames(t, fsys, "/work"))
}

func TestWrite_HandleMatchesFile(t *testing.T) {
	fsys := newFixture(t, map[string]string{"index.js": "export default {}"})
	p := newPacker(t, fsys, Config{})

	handle, err := p.Write(t.Context(), "/src/app", "/work")
	require.NoError(t, err)

	data, err := afero.ReadFile(fsys, handle.Path)
	require.NoError(t, err)
	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), handle.SHA256)
	assert.Equal(t, int64(len(data)), handle.Size)

	info, err := fsys.Stat(handle.Path)
	require.NoError(t, err)
	assert.Equal(t, archiveMode, info.Mode().Perm())
}

func TestWrite_EntryOrder(t *testing.T) {
	fsys := newFixture(t, map[string]string{
		"a/c.txt":      "c",
		"a/b.txt":      "b",
		"z.txt":        "z",
		".hidden/x":    "x",
		"B/upper.txt":  "B",
		"a/b/deep.txt": "deep",
	})
	p := newPacker(t, fsys, Config{})

	handle, err := p.Write(t.Context(), "/src/app", "/work")
	require.NoError(t, err)

	assert.Equal(t,
		[]string{".hidden/x", "B/upper.txt", "a/b.txt", "a/b/deep.txt", "a/c.txt", "z.txt"},
		zipNames(t, fsys, handle.Path),
	)
}

func TestWrite_Deterministic(t *testing.T) {
	files := map[string]string{
		"index.js":          strings.Repeat("console.log('hi');\n", 100),
		"lib/util.js":       "module.exports = {}",
		"node_modules/x.js": "x",
	}

	for _, format := range []string{archivers.FormatZip, archivers.FormatTarGzip, archivers.FormatTarZstd} {
		t.Run(format, func(t *testing.T) {
			fsys := newFixture(t, files, "/work1", "/work2")

			first, err := newPacker(t, fsys, Config{Format: format}).Write(t.Context(), "/src/app", "/work1")
			require.NoError(t, err)

			// Touching mtimes must not change the output.
			later := time.Date(2031, 5, 4, 3, 2, 1, 0, time.UTC)
			require.NoError(t, fsys.Chtimes("/src/app/index.js", later, later))

			second, err := newPacker(t, fsys, Config{Format: format}).Write(t.Context(), "/src/app", "/work2")
			require.NoError(t, err)

			a, err := afero.ReadFile(fsys, first.Path)
			require.NoError(t, err)
			b, err := afero.ReadFile(fsys, second.Path)
			require.NoError(t, err)

			assert.Equal(t, a, b)
			assert.Equal(t, first.SHA256, second.SHA256)
			assert.NotEqual(t, first.Path, second.Path)
		})
	}
}

func TestWrite_EmptySource(t *testing.T) {
	fsys := newFixture(t, nil)
	p := newPacker(t, fsys, Config{})

	handle, err := p.Write(t.Context(), "/src/app", "/work")
	require.NoError(t, err)

	assert.Zero(t, handle.Entries)
	assert.Empty(t, readZip(t, fsys, handle.Path))
}

func TestWrite_TarGzipRoundTrip(t *testing.T) {
	files := map[string]string{"a/b.txt": "b", "a/c.txt": "c", "main.py": "print('ok')"}
	fsys := newFixture(t, files)
	p := newPacker(t, fsys, Config{Format: archivers.FormatTarGzip, Name: "bundle"})

	handle, err := p.Write(t.Context(), "/src/app", "/work")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/work", "bundle.tar.gz"), handle.Path)

	f, err := fsys.Open(handle.Path)
	require.NoError(t, err)
	defer func() { lo.Must0(f.Close()) }()

	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gr)

	var names []string
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		assert.Equal(t, files[h.Name], string(content))
		names = append(names, h.Name)
	}
	assert.Equal(t, []string{"a/b.txt", "a/c.txt", "main.py"}, names)
}

func TestWrite_Filter(t *testing.T) {
	fsys := newFixture(t, map[string]string{"index.js": "x", "index.js.map": "map"})
	p := newPacker(t, fsys, Config{
		Filter: engine.FilterFunc(func(e engine.FileEntry) (bool, error) {
			return strings.HasSuffix(e.RelativePath, ".map"), nil
		}),
	})

	handle, err := p.Write(t.Context(), "/src/app", "/work")
	require.NoError(t, err)
	assert.Equal(t, []string{"index.js"}, zipNames(t, fsys, handle.Path))
	assert.Equal(t, 1, handle.Entries)
}

func TestWrite_FailureLeavesWorkingDirUntouched(t *testing.T) {
	base := newFixture(t, map[string]string{"a.txt": "a", "secret.txt": "s", "z.txt": "z"})
	fsys := &failingOpenFs{
		Fs:   base,
		path: filepath.Join("/src/app", "secret.txt"),
		err:  os.ErrPermission,
	}
	p := newPacker(t, fsys, Config{})

	_, err := p.Write(t.Context(), "/src/app", "/work")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrPermission)

	assert.Empty(t, dirNames(t, base, "/work"))
}

func TestWrite_CancelledAfterDiscovery(t *testing.T) {
	fsys := newFixture(t, map[string]string{"a.txt": "a", "b.txt": "b"})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	// The filter runs during discovery; cancelling there lets the temporary
	// file be created before the archiver notices.
	p := newPacker(t, fsys, Config{
		Filter: engine.FilterFunc(func(engine.FileEntry) (bool, error) {
			cancel()
			return false, nil
		}),
	})

	_, err := p.Write(ctx, "/src/app", "/work")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dirNames(t, fsys, "/work"))
}

func TestWrite_InvalidDirectories(t *testing.T) {
	fsys := newFixture(t, map[string]string{"a.txt": "a"})
	require.NoError(t, afero.WriteFile(fsys, "/plain-file", []byte("x"), 0o644))

	tests := []struct {
		name    string
		source  string
		workDir string
		wantErr error
	}{
		{name: "missing source", source: "/nope", workDir: "/work", wantErr: engine.ErrNotFound},
		{name: "source is a file", source: "/plain-file", workDir: "/work", wantErr: engine.ErrNotADirectory},
		{name: "missing working directory", source: "/src/app", workDir: "/nope", wantErr: engine.ErrNotFound},
		{name: "working directory is a file", source: "/src/app", workDir: "/plain-file", wantErr: engine.ErrNotADirectory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPacker(t, fsys, Config{})
			_, err := p.Write(t.Context(), tt.source, tt.workDir)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, dirNames(t, fsys, "/work"))
		})
	}
}

func TestWrite_ReplacesExistingArchive(t *testing.T) {
	fsys := newFixture(t, map[string]string{"a.txt": "new"})
	require.NoError(t, afero.WriteFile(fsys, "/work/app.zip", []byte("stale"), 0o600))
	p := newPacker(t, fsys, Config{})

	handle, err := p.Write(t.Context(), "/src/app", "/work")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.txt": "new"}, readZip(t, fsys, handle.Path))
	assert.Equal(t, []string{"app.zip"}, dirNames(t, fsys, "/work"))
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown format", cfg: Config{Format: "rar"}},
		{name: "level out of range", cfg: Config{Level: lo.ToPtr(42)}},
		{name: "name with separator", cfg: Config{Name: "../escape"}},
		{name: "dot name", cfg: Config{Name: ".."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(zap.NewNop(), tt.cfg, WithFs(afero.NewMemMapFs()))
			require.Error(t, err)
			assert.Nil(t, p)
		})
	}

	t.Run("unknown format lists available formats", func(t *testing.T) {
		_, err := New(zap.NewNop(), Config{Format: "rar"})
		var unsupported *engine.UnsupportedFormatError
		require.ErrorAs(t, err, &unsupported)
		assert.Equal(t, []string{"tar.gz", "tar.zst", "zip"}, unsupported.Available)
	})
}

func TestArchiveBase(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		source string
		want   string
	}{
		{name: "source base name", source: "/build/my-worker", want: "my-worker"},
		{name: "trailing slash", source: "/build/my-worker/", want: "my-worker"},
		{name: "filesystem root", source: "/", want: DefaultName},
		{name: "configured name", cfg: Config{Name: "release"}, source: "/build/dist", want: "release"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Packer{cfg: tt.cfg}
			assert.Equal(t, tt.want, p.archiveBase(tt.source))
		})
	}
}

func TestWrite_ConfiguredNameWithExtension(t *testing.T) {
	fsys := newFixture(t, map[string]string{"a.txt": "a"})
	p := newPacker(t, fsys, Config{Name: "worker.zip"})

	handle, err := p.Write(t.Context(), "/src/app", "/work")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/work", "worker.zip"), handle.Path)
}

func TestWrite_PreserveSymlinks(t *testing.T) {
	src := t.TempDir()
	work := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "target.txt"), []byte("t"), 0o644))
	require.NoError(t, os.Symlink("target.txt", filepath.Join(src, "link")))

	p, err := New(zap.NewNop(), Config{Symlinks: discovery.SymlinkPreserve, Name: "links"})
	require.NoError(t, err)

	handle, err := p.Write(t.Context(), src, work)
	require.NoError(t, err)
	assert.Equal(t, 2, handle.Entries)

	zr, err := zip.OpenReader(handle.Path)
	require.NoError(t, err)
	defer func() { lo.Must0(zr.Close()) }()

	require.Len(t, zr.File, 2)
	assert.Equal(t, "link", zr.File[0].Name)
	assert.NotZero(t, zr.File[0].Mode()&os.ModeSymlink)
	assert.Equal(t, "target.txt", zr.File[1].Name)
}
