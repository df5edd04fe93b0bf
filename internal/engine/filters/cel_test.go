package filters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infracollect/workerpack/internal/engine"
)

func TestNewCELFilter_Invalid(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{name: "syntax error", expr: `path.endsWith(`},
		{name: "unknown variable", expr: `name == "x"`},
		{name: "non bool result", expr: `size + 1`},
		{name: "string result", expr: `path`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := NewCELFilter(tt.expr)
			require.Error(t, err)
			assert.Nil(t, filter)
		})
	}
}

func TestCELFilter_Exclude(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		entry engine.FileEntry
		want  bool
	}{
		{
			name:  "suffix match",
			expr:  `path.endsWith(".map")`,
			entry: engine.FileEntry{RelativePath: "dist/index.js.map"},
			want:  true,
		},
		{
			name:  "suffix miss",
			expr:  `path.endsWith(".map")`,
			entry: engine.FileEntry{RelativePath: "dist/index.js"},
			want:  false,
		},
		{
			name:  "size threshold",
			expr:  `size > 1024`,
			entry: engine.FileEntry{RelativePath: "big.bin", Size: 4096},
			want:  true,
		},
		{
			name:  "executable bit",
			expr:  `executable`,
			entry: engine.FileEntry{RelativePath: "bootstrap", Mode: 0o755},
			want:  true,
		},
		{
			name:  "symlink",
			expr:  `symlink`,
			entry: engine.FileEntry{RelativePath: "current", LinkTarget: "v2"},
			want:  true,
		},
		{
			name:  "combined with string extension",
			expr:  `path.lowerAscii().startsWith("test/") || path.matches("^docs/.*\\.md$")`,
			entry: engine.FileEntry{RelativePath: "Test/fixtures.json"},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := NewCELFilter(tt.expr)
			require.NoError(t, err)

			got, err := filter.Exclude(tt.entry)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.expr, filter.String())
		})
	}
}

func TestCELFilter_RuntimeError(t *testing.T) {
	filter, err := NewCELFilter(`size / 0 == 1`)
	require.NoError(t, err)

	_, err = filter.Exclude(engine.FileEntry{RelativePath: "a.txt", Size: 1})
	require.Error(t, err)
}
