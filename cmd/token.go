package cmd

import (
	"context"
	"fmt"
	"time"

	"PPRealtime/tools/security"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
)

// TokenCommand mints a session token with the configured JWT secret. It is
// meant for local testing against a running gateway.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Print a session token for a user id",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:     "user",
				Usage:    "User id placed in the sub claim",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime (defaults to auth.token_ttl)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			conf, err := loadConfig(c)
			if err != nil {
				return err
			}
			userID := c.Int("user")
			if userID <= 0 {
				return errors.Errorf("user id must be positive, got %d", userID)
			}
			ttl := conf.Auth.TokenTTL.Duration
			if d := c.Duration("ttl"); d > 0 {
				ttl = d
			}
			tok, exp, err := security.Generate(security.Options{
				Secret: []byte(conf.Auth.JwtSecret),
				Alg:    conf.Auth.Algorithm,
				TTL:    ttl,
			}, userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, tok)
			fmt.Fprintf(c.Root().ErrWriter, "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
}
