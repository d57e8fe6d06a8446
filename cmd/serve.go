package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"PPRealtime/global/config"
	"PPRealtime/logger"
	"PPRealtime/service/app"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// ServeCommand runs the gateway until SIGINT or SIGTERM.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the realtime gateway",
		Action: Serve,
	}
}

// Serve is also the root action, so running the binary bare starts the
// gateway.
func Serve(ctx context.Context, c *cli.Command) error {
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, conf, logger.Log)
	if err != nil {
		return errors.Wrap(err, "init gateway")
	}
	defer a.Close()

	logger.Info("realtime gateway starting",
		zap.String("node_id", conf.NodeId),
		zap.Int("port", conf.Server.Port),
		zap.Int("grpc_port", conf.Server.GrpcPort),
		zap.Bool("redis", conf.Redis.Enabled),
		zap.Bool("nats", conf.Nats.Enabled),
		zap.Bool("kafka", conf.Kafka.Enabled))

	if err := a.Run(ctx); err != nil {
		return err
	}
	logger.Info("realtime gateway stopped")
	return nil
}

// loadConfig reads --config and applies the log level. --debug wins over
// the configured level.
func loadConfig(c *cli.Command) (*config.AppConfig, error) {
	conf, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	logger.SetLevel(conf.Log.Level)
	if c.Bool("debug") {
		logger.SetLevel("debug")
	}
	return conf, nil
}
