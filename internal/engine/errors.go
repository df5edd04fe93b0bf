package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// ErrorKind classifies packaging failures so callers can tell configuration
// mistakes apart from transient I/O problems.
type ErrorKind int

const (
	KindIO ErrorKind = iota
	KindNotFound
	KindNotADirectory
	KindPermission
	KindCompression
)

var (
	ErrIO            = errors.New("i/o error")
	ErrNotFound      = errors.New("not found")
	ErrNotADirectory = errors.New("not a directory")
	ErrPermission    = errors.New("permission denied")
	ErrCompression   = errors.New("compression error")
	errUnknownKind   = errors.New("unknown error")
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindNotFound:
		return "not_found"
	case KindNotADirectory:
		return "not_a_directory"
	case KindPermission:
		return "permission"
	case KindCompression:
		return "compression"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindIO:
		return ErrIO
	case KindNotFound:
		return ErrNotFound
	case KindNotADirectory:
		return ErrNotADirectory
	case KindPermission:
		return ErrPermission
	case KindCompression:
		return ErrCompression
	default:
		return errUnknownKind
	}
}

// Error is the typed error returned by discovery, archiving and the writer.
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("%s: %v", msg, e.Kind.sentinel())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind, so errors.Is(err, ErrNotFound)
// works regardless of the underlying cause.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// NewError builds an Error of the given kind.
func NewError(kind ErrorKind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// WrapFS classifies an error coming from the filesystem. Errors that are
// already typed and context errors are returned unchanged.
func WrapFS(op, path string, err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return NewError(classify(err), op, path, err)
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, fs.ErrPermission):
		return KindPermission
	case errors.Is(err, syscall.ENOTDIR):
		return KindNotADirectory
	default:
		return KindIO
	}
}

// KindOf reports the kind of a typed error anywhere in the chain.
func KindOf(err error) (ErrorKind, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind, true
	}
	return KindIO, false
}
