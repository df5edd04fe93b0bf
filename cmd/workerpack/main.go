package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// The first SIGINT/SIGTERM cancels packing; the temp archive is removed on the way out.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = newApp().Run(ctx, os.Args)
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "workerpack",
		Usage: "Package build output into deterministic archives for serverless workers",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "info",
				Usage:   "Log Level (debug, info, warn, error, fatal)",
				Action: func(_ context.Context, _ *cli.Command, s string) error {
					if _, err := zapcore.ParseLevel(s); err != nil {
						return fmt.Errorf("invalid log level %s: %w", s, err)
					}
					return nil
				},
			},
		},
		Commands: []*cli.Command{
			packCommand,
			validateCommand,
			versionCommand,
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			logger, _, err := createLogger(command.Bool("debug"), command.String("log-level"))
			if err != nil {
				return nil, err
			}
			logger.Debug("logger created", zap.String("log_level", command.String("log-level")))

			ctx = withInteractive(ctx, isInteractiveEnvironment())
			return withLogger(ctx, logger), nil
		},
		After: func(ctx context.Context, _ *cli.Command) error {
			if logger := tryLogger(ctx); logger != nil {
				// Syncing stderr fails on some platforms; nothing useful to report.
				_ = logger.Sync()
			}
			return nil
		},
		ExitErrHandler: func(ctx context.Context, _ *cli.Command, err error) {
			if err == nil {
				return
			}

			if logger := tryLogger(ctx); logger != nil {
				logger.Fatal("failed to run application", zap.Error(err))
			}
			log.Fatal(fmt.Errorf("failed to run application: %w", err))
		},
	}
}
