// Package filters holds engine.Filter implementations.
package filters

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"github.com/infracollect/workerpack/internal/engine"
)

// CELFilter excludes every entry for which a CEL expression evaluates to true.
//
// The expression sees the following variables:
//
//	path        string  forward-slash relative path
//	size        int     size in bytes
//	executable  bool    any execute bit set on the source file
//	symlink     bool    entry is stored as a link
//
// Example: path.endsWith(".map") || path.startsWith("test/")
type CELFilter struct {
	expr    string
	program cel.Program
}

var _ engine.Filter = (*CELFilter)(nil)

// NewCELFilter compiles expr. Expressions that cannot produce a bool are
// rejected here.
func NewCELFilter(expr string) (*CELFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("path", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("executable", cel.BoolType),
		cel.Variable("symlink", cel.BoolType),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid exclude expression %q: %w", expr, issues.Err())
	}

	outputType := ast.OutputType()
	if !outputType.IsExactType(cel.BoolType) && !outputType.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("exclude expression %q must evaluate to bool, got %s", expr, outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build program for %q: %w", expr, err)
	}

	return &CELFilter{expr: expr, program: program}, nil
}

// Exclude reports whether entry should be left out of the archive.
func (f *CELFilter) Exclude(entry engine.FileEntry) (bool, error) {
	out, _, err := f.program.Eval(map[string]any{
		"path":       entry.RelativePath,
		"size":       entry.Size,
		"executable": entry.IsExecutable(),
		"symlink":    entry.IsSymlink(),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", f.expr, err)
	}

	excluded, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("exclude expression %q returned %T, want bool", f.expr, out.Value())
	}
	return excluded, nil
}

// String returns the source expression.
func (f *CELFilter) String() string {
	return f.expr
}
