package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/urfave/cli/v3"
)

// buildInfo is read from the module build information at startup.
type buildInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"built,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
}

var build = readBuildInfo()

func readBuildInfo() buildInfo {
	b := buildInfo{Version: "unknown", GoVersion: "unknown"}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}

	b.Version = info.Main.Version
	b.GoVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			b.Commit = setting.Value
		case "vcs.time":
			b.BuildTime = setting.Value
		case "vcs.modified":
			b.Modified = setting.Value == "true"
		}
	}

	return b
}

func (b buildInfo) print(w io.Writer) {
	fmt.Fprintf(w, "version: %s\n", b.Version)
	fmt.Fprintf(w, "go: %s\n", b.GoVersion)
	if b.Commit != "" {
		if b.Modified {
			fmt.Fprintf(w, "commit: %s (dirty)\n", b.Commit)
		} else {
			fmt.Fprintf(w, "commit: %s\n", b.Commit)
		}
	}
	if b.BuildTime != "" {
		fmt.Fprintf(w, "built: %s\n", b.BuildTime)
	}
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Print version information",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print build information as JSON",
		},
	},
	Action: func(ctx context.Context, command *cli.Command) error {
		if command.Bool("json") {
			return json.NewEncoder(os.Stdout).Encode(build)
		}
		build.print(os.Stdout)
		return nil
	},
}
