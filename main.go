package main

import (
	"context"
	"os"

	"PPRealtime/cmd"
	"PPRealtime/logger"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func main() {
	defer logger.Sync()

	app := &cli.Command{
		Name:    "pp-realtime",
		Usage:   "Presence and message fan-out gateway",
		Version: cmd.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Configuration file path",
				Value:   "config.toml",
				Sources: cli.EnvVars("PPRT_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Action: cmd.Serve,
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.TokenCommand(),
			cmd.VersionCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logger.Error("exit", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}
