package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/samber/lo"
	"github.com/urfave/cli/v3"

	v1 "github.com/infracollect/workerpack/apis/v1"
	"github.com/infracollect/workerpack/internal/engine"
	"github.com/infracollect/workerpack/internal/engine/archivers"
	"github.com/infracollect/workerpack/internal/runner"
)

func allowedEnvFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:  "allowed-env",
		Usage: "Environment variables allowed in job configuration (can be repeated)",
	}
}

var packCommand = &cli.Command{
	Name:  "pack",
	Usage: "Package a directory into an archive",
	UsageText: "workerpack pack job.yaml\n" +
		"workerpack pack --source DIR --workdir DIR [--format zip] [--level 6]",
	Flags: []cli.Flag{
		allowedEnvFlag(),
		&cli.StringFlag{
			Name:  "source",
			Usage: "Directory to package",
		},
		&cli.StringFlag{
			Name:  "workdir",
			Usage: "Directory receiving the archive",
		},
		&cli.StringFlag{
			Name:  "format",
			Value: archivers.FormatZip,
			Usage: "Archive format (zip, tar.gz, tar.zst)",
		},
		&cli.IntFlag{
			Name:  "level",
			Value: archivers.DefaultLevel,
			Usage: "Compression level",
		},
		&cli.StringFlag{
			Name:  "symlinks",
			Value: "follow",
			Usage: "Symlink handling (follow, preserve, skip)",
		},
		&cli.StringFlag{
			Name:  "name",
			Usage: "Archive name without extension (default: source directory name)",
		},
		&cli.StringFlag{
			Name:  "exclude",
			Usage: "CEL expression; files for which it is true are left out",
		},
		&cli.BoolFlag{
			Name:  "preserve-executable",
			Usage: "Store 0755 for executable files instead of 0644",
		},
	},
	Arguments: []cli.Argument{
		&cli.StringArg{
			Name:      "job",
			UsageText: "The job file describing what to pack",
		},
	},
	Action: func(ctx context.Context, command *cli.Command) error {
		logger := getLogger(ctx)

		job, err := jobFromCommand(ctx, command)
		if err != nil {
			return err
		}

		r, err := runner.New(ctx, logger.Named("runner"), job)
		if err != nil {
			return fmt.Errorf("failed to create runner: %w", err)
		}

		handle, err := r.Run(ctx)
		if err != nil {
			return fmt.Errorf("failed to run job: %w", err)
		}

		// A stdout publish target owns stdout.
		var out io.Writer = os.Stdout
		if lo.ContainsBy(job.Spec.Publish, func(p v1.PublishSpec) bool { return p.Stdout != nil }) {
			out = os.Stderr
		}

		return printHandle(out, handle, isInteractive(ctx))
	},
}

// jobFromCommand loads the job file argument or builds a job from flags.
func jobFromCommand(ctx context.Context, command *cli.Command) (v1.PackJob, error) {
	jobFilename := command.StringArg("job")
	if jobFilename != "" {
		if command.IsSet("source") || command.IsSet("workdir") {
			return v1.PackJob{}, fmt.Errorf("--source and --workdir cannot be combined with a job file")
		}
		job, err := loadJob(ctx, jobFilename, command.StringSlice("allowed-env"))
		if err != nil {
			return v1.PackJob{}, formatValidationError(err)
		}
		return job, nil
	}

	source, workdir := command.String("source"), command.String("workdir")
	if source == "" || workdir == "" {
		return v1.PackJob{}, fmt.Errorf("either a job file or both --source and --workdir are required")
	}

	absSource, err := filepath.Abs(source)
	if err != nil {
		return v1.PackJob{}, err
	}
	absWorkdir, err := filepath.Abs(workdir)
	if err != nil {
		return v1.PackJob{}, err
	}

	job := v1.PackJob{
		Kind:     v1.KindPackJob,
		Metadata: v1.Metadata{Name: lo.CoalesceOrEmpty(command.String("name"), filepath.Base(absSource))},
		Spec: v1.PackJobSpec{
			Source:  absSource,
			Workdir: absWorkdir,
			Archive: &v1.ArchiveSpec{
				Name:               command.String("name"),
				Format:             command.String("format"),
				Level:              lo.ToPtr(int(command.Int("level"))),
				Symlinks:           command.String("symlinks"),
				PreserveExecutable: command.Bool("preserve-executable"),
			},
		},
	}
	if exclude := command.String("exclude"); exclude != "" {
		job.Spec.Filter = &v1.FilterSpec{Exclude: exclude}
	}

	if err := runner.ValidateJob(job); err != nil {
		return v1.PackJob{}, formatValidationError(err)
	}

	return job, nil
}

func printHandle(w io.Writer, handle engine.ArchiveHandle, interactive bool) error {
	if !interactive {
		return json.NewEncoder(w).Encode(handle)
	}

	_, err := fmt.Fprintf(w, "✓ Packed %d file(s) into %s\n  format: %s\n  size:   %s\n  sha256: %s\n",
		handle.Entries, handle.Path, handle.Format, humanSize(handle.Size), handle.SHA256)
	return err
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
