package engine

import (
	"context"
	"io"
)

// Sink is a destination a finished archive is published to.
type Sink interface {
	Named
	Closer
	Write(ctx context.Context, path string, data io.Reader) error
}

// ObjectMetadata describes a published archive.
type ObjectMetadata struct {
	SHA256 string
	Size   int64
}

// MetadataWriter is implemented by sinks that can store metadata next to
// the object, such as object stores.
type MetadataWriter interface {
	WriteWithMetadata(ctx context.Context, path string, data io.Reader, meta ObjectMetadata) error
}
