// Package v1 defines the PackJob file format.
//
// Fields tagged `template` accept ${VAR} references, see internal/runner.
package v1

//go:generate go run ../../scripts/gen-docs.go
