package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samcharles93/blockwise/internal/logger"
	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "blockwise",
		Usage: "Decode and run convolution blocks from flat float32 weight buffers",
		Flags: loggingFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			applyLoggingConfig(cmd, LoadConfig())
			level := logger.ParseLevel(logLevel)
			if debug {
				level = logger.ParseLevel("debug")
			}
			return logger.WithContext(ctx, logger.ForFormat(os.Stderr, logFormat, level)), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			inspectCmd(),
			runCmd(),
			packCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.Run(ctx, os.Args)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
