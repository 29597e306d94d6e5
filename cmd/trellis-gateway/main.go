package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/trellisflow/trellis/pkg/auth"
	"github.com/trellisflow/trellis/pkg/cmd"
	"github.com/trellisflow/trellis/pkg/log"
	"github.com/trellisflow/trellis/pkg/otelhelper"
)

const (
	defaultPort        = 9093
	defaultMetricsPort = 9103
)

func main() {
	command := &cli.Command{
		Name:                  "trellis-gateway",
		Usage:                 "Stream execution progress to subscribed clients",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the WebSocket server",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.IntFlag{
				Name:    "metrics-port",
				Usage:   "Port for the Prometheus metrics endpoint",
				Value:   defaultMetricsPort,
				Sources: cli.EnvVars("METRICS_PORT"),
			},
			&cli.StringFlag{
				Name:     "token-secret",
				Usage:    "Shared secret for verifying identity tokens",
				Required: true,
				Sources:  cli.EnvVars("GATEWAY_TOKEN_SECRET"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus driver (gochannel, kafka, redis)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka broker addresses for the kafka event bus",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL for the redis event bus",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))
	logger := log.WithModule("gateway")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := otelhelper.Setup(ctx, "trellis-gateway")
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("Failed to shutdown tracer provider", "error", err)
		}
	}()

	logger.InfoContext(ctx, "Initializing Trellis Gateway")

	tokens, err := auth.NewTokenService(command.String("token-secret"))
	if err != nil {
		return err
	}

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), cmd.EventBusConfig{
		KafkaBrokers: command.StringSlice("kafka-brokers"),
		RedisURL:     command.String("redis-url"),
		Group:        fmt.Sprintf("trellis-gateway-%s", uuid.New().String()[:8]),
	}, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	gw := NewGateway(
		logger,
		eventBus,
		tokens,
		command.Int("port"),
		command.Int("metrics-port"),
	)

	return gw.Start(ctx)
}
