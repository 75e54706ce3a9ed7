package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v3"

	"splice.sh/core/log"
	"splice.sh/core/splice"
	"splice.sh/core/splice/local"
)

func main() {
	cmd := &cli.Command{
		Name:    "splice",
		Usage:   "prompt-driven media pipelines over ffmpeg, magick and sox",
		Version: versioninfo.Short(),
		Commands: []*cli.Command{
			splice.Command(),
			local.ValidateCommand(),
			local.RunCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New("splice")
	ctx = log.IntoContext(ctx, logger.With("command", cmd.Name))

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		stop()
		os.Exit(-1)
	}
}
