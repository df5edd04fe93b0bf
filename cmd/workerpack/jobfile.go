package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	v1 "github.com/infracollect/workerpack/apis/v1"
	"github.com/infracollect/workerpack/internal/runner"
)

// readJobFile returns the job file content and the directory relative paths
// in it resolve against. "-" reads the job from stdin relative to the
// current directory.
func readJobFile(ctx context.Context, filename string) ([]byte, string, error) {
	logger := getLogger(ctx)

	if filename == "-" {
		logger.Debug("reading job from stdin")
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read stdin: %w", err)
		}
		wd, err := os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("failed to get working directory: %w", err)
		}
		return data, wd, nil
	}

	abs, err := filepath.Abs(filename)
	if err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, "", err
	}

	return data, filepath.Dir(abs), nil
}

// loadJob reads, validates and expands a job file.
func loadJob(ctx context.Context, filename string, allowedEnv []string) (v1.PackJob, error) {
	data, baseDir, err := readJobFile(ctx, filename)
	if err != nil {
		return v1.PackJob{}, fmt.Errorf("failed to read job file '%s': %w", filename, err)
	}

	job, err := runner.ParseJob(data)
	if err != nil {
		return v1.PackJob{}, err
	}

	variables, err := runner.BuildVariables(job, allowedEnv, time.Now())
	if err != nil {
		return v1.PackJob{}, fmt.Errorf("failed to build variables: %w", err)
	}

	if err := runner.ExpandTemplates(&job, variables); err != nil {
		return v1.PackJob{}, fmt.Errorf("failed to expand templates: %w", err)
	}

	runner.ResolvePaths(&job, baseDir)
	getLogger(ctx).Debug("loaded job",
		zap.String("job_name", job.Metadata.Name),
		zap.String("source", job.Spec.Source),
		zap.String("workdir", job.Spec.Workdir),
	)

	return job, nil
}
