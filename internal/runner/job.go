package runner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"

	v1 "github.com/infracollect/workerpack/apis/v1"
	"github.com/infracollect/workerpack/internal/engine"
)

var (
	defaultValidator = validator.New(validator.WithRequiredStructEnabled())
)

// ParseJob parses a YAML or JSON job file and validates it against the
// constraints declared on v1.PackJob.
func ParseJob(data []byte) (v1.PackJob, error) {
	var job v1.PackJob
	if err := yaml.UnmarshalWithOptions(data, &job, yaml.Strict()); err != nil {
		return v1.PackJob{}, fmt.Errorf("failed to unmarshal job data: %w", err)
	}

	if err := ValidateJob(job); err != nil {
		return v1.PackJob{}, err
	}

	return job, nil
}

// ValidateJob checks a job built in code, such as from command line flags.
func ValidateJob(job v1.PackJob) error {
	if err := defaultValidator.Struct(job); err != nil {
		return fmt.Errorf("failed to validate job: %w", err)
	}
	return nil
}

// BuildVariables creates the variables map for expansion from the built-in
// job variables and the allowed environment variables. An allowed variable
// that is not set is an error.
func BuildVariables(job v1.PackJob, allowedEnv []string, now time.Time) (map[string]string, error) {
	date := now.UTC()
	variables := map[string]string{
		"JOB_NAME":         job.Metadata.Name,
		"JOB_DATE_ISO8601": date.Format(engine.ISO8601Basic),
		"JOB_DATE_RFC3339": date.Format(time.RFC3339),
	}

	var errs error
	for _, envName := range allowedEnv {
		val, ok := os.LookupEnv(envName)
		if !ok {
			errs = errors.Join(errs, fmt.Errorf("environment variable %q is not set", envName))
			continue
		}
		variables[envName] = val
	}

	if errs != nil {
		return nil, errs
	}

	return variables, nil
}

// ResolvePaths makes the local paths of job absolute, relative to baseDir
// (normally the directory holding the job file).
func ResolvePaths(job *v1.PackJob, baseDir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}

	job.Spec.Source = resolve(job.Spec.Source)
	job.Spec.Workdir = resolve(job.Spec.Workdir)
	for _, publish := range job.Spec.Publish {
		if publish.Filesystem != nil {
			publish.Filesystem.Path = resolve(publish.Filesystem.Path)
		}
	}
}
