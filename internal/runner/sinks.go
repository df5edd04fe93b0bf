package runner

import (
	"context"
	"fmt"

	v1 "github.com/infracollect/workerpack/apis/v1"
	"github.com/infracollect/workerpack/internal/engine"
	"github.com/infracollect/workerpack/internal/engine/sinks"
)

// buildSinks creates one sink per publish entry, in declaration order.
func (r *Runner) buildSinks(ctx context.Context) ([]engine.Sink, error) {
	built := make([]engine.Sink, 0, len(r.job.Spec.Publish))

	for i, spec := range r.job.Spec.Publish {
		var (
			sink engine.Sink
			err  error
		)

		switch {
		case spec.Filesystem != nil:
			sink, err = sinks.NewFilesystemSinkFromPath(r.fs, spec.Filesystem.Path)
		case spec.S3 != nil:
			sink, err = sinks.NewS3Sink(ctx, buildS3Config(spec.S3))
		case spec.Stdout != nil:
			sink = sinks.NewStreamSink(r.stdout)
		default:
			err = fmt.Errorf("invalid publish configuration: no target type specified")
		}
		if err != nil {
			return nil, fmt.Errorf("publish[%d]: %w", i, err)
		}

		built = append(built, sink)
	}

	return built, nil
}

func buildS3Config(spec *v1.S3PublishSpec) sinks.S3Config {
	cfg := sinks.S3Config{
		Bucket:         spec.Bucket,
		ForcePathStyle: spec.ForcePathStyle,
	}

	if spec.Region != nil {
		cfg.Region = *spec.Region
	}

	if spec.Endpoint != nil {
		cfg.Endpoint = *spec.Endpoint
	}

	if spec.Prefix != nil {
		cfg.Prefix = *spec.Prefix
	}

	if spec.Credentials != nil {
		cfg.AccessKeyID = spec.Credentials.AccessKeyID
		cfg.SecretAccessKey = spec.Credentials.SecretAccessKey
	}

	return cfg
}
