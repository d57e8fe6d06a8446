package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// Version is set at build time with -ldflags "-X PPRealtime/cmd.Version=...".
var Version = "dev"

func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(ctx context.Context, c *cli.Command) error {
			fmt.Fprintln(c.Root().Writer, Version)
			return nil
		},
	}
}
