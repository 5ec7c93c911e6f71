package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/flywheelhq/flywheel/pkg/cmd"
	"github.com/flywheelhq/flywheel/pkg/config"
	"github.com/flywheelhq/flywheel/pkg/log"
	"github.com/flywheelhq/flywheel/pkg/mailer"
	"github.com/flywheelhq/flywheel/pkg/pipeline"
	"github.com/flywheelhq/flywheel/pkg/scheduler"
	"github.com/flywheelhq/flywheel/pkg/webhook"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"
)

func main() {
	root := &cli.Command{
		Name:                  "flywheel",
		Usage:                 "Customer lifecycle automation platform",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   "flywheel.yaml",
				Sources: cli.EnvVars("FLYWHEEL_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL (postgres://...); empty uses the in-memory store",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker list",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			apiCommand(),
			workerCommand(),
			schedulerCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.Run(ctx, os.Args); err != nil {
		panic(err)
	}
}

// loadConfig builds the effective configuration: YAML file, then environment,
// then explicit CLI flags, each layer overriding the previous.
func loadConfig(command *cli.Command) config.Config {
	cfg := config.LoadOrDefault(command.String("config"))

	if command.IsSet("database-url") {
		cfg.Database.URL = command.String("database-url")
	}

	if command.IsSet("event-bus") {
		cfg.Events.Bus = command.String("event-bus")
	}

	if command.IsSet("kafka-brokers") {
		cfg.Events.KafkaBrokers = command.String("kafka-brokers")
	}

	if command.IsSet("log-level") {
		cfg.LogLevel = command.String("log-level")
	}

	return cfg
}

func newMailer(cfg config.Config, logger *slog.Logger) mailer.Mailer {
	var m mailer.Mailer = mailer.NewLogMailer(logger)

	if cfg.Mailer.FromName != "" || cfg.Mailer.ReplyTo != "" {
		m = mailer.WithDefaults(m, cfg.Mailer.FromName, cfg.Mailer.ReplyTo)
	}

	return m
}

func apiCommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the HTTP ingest and management API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Sources: cli.EnvVars("PORT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg := loadConfig(command)
			if command.IsSet("port") {
				cfg.Server.Port = int(command.Int("port"))
			}

			log.Setup(cfg.LogLevel)
			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing Flywheel API")

			store := cmd.NewPersistence(ctx, logger, cfg.Database.URL)
			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close store", "error", err)
				}
			}()

			bus := cmd.NewEventBus(cfg.Events.Bus, cfg.Events.KafkaBrokers, "api", logger)
			defer func() {
				if err := bus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			clock := clockwork.NewRealClock()
			webhooks := webhook.New(store, clock, logger)
			defer func() {
				if err := webhooks.Shutdown(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Webhook dispatcher shutdown incomplete", "error", err)
				}
			}()

			actions := pipeline.NewActionDispatcher(store, newMailer(cfg, logger), logger)

			// With the in-process bus there is no separate worker, so the
			// pipeline delivers webhooks itself. With kafka the worker
			// command owns delivery.
			var pipelineWebhooks *webhook.Dispatcher
			if cfg.Events.Bus != "kafka" {
				pipelineWebhooks = webhooks
			}

			p := pipeline.New(store, actions, bus, pipelineWebhooks, clock, logger)

			api := NewAPI(logger, store, p, webhooks)

			return api.Start(cfg.Server.Port)
		},
	}
}

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Deliver notifications from the event bus to webhook endpoints",
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg := loadConfig(command)

			log.Setup(cfg.LogLevel)
			logger := log.WithModule("worker")

			logger.InfoContext(ctx, "Initializing Flywheel webhook worker")

			store := cmd.NewPersistence(ctx, logger, cfg.Database.URL)
			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close store", "error", err)
				}
			}()

			bus := cmd.NewEventBus(cfg.Events.Bus, cfg.Events.KafkaBrokers, "worker", logger)
			defer func() {
				if err := bus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			webhooks := webhook.New(store, clockwork.NewRealClock(), logger)
			defer func() {
				if err := webhooks.Shutdown(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Webhook dispatcher shutdown incomplete", "error", err)
				}
			}()

			worker := NewWorker(bus, webhooks, logger)

			return worker.Run(ctx)
		},
	}
}

func schedulerCommand() *cli.Command {
	return &cli.Command{
		Name:  "scheduler",
		Usage: "Run the periodic due-enrollment sweep",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the sweep lock; empty runs unlocked (single process)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.IntFlag{
				Name:    "batch",
				Usage:   "Maximum enrollments processed per sweep",
				Sources: cli.EnvVars("SWEEP_BATCH"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg := loadConfig(command)

			if command.IsSet("redis-url") {
				cfg.Redis.URL = command.String("redis-url")
			}

			if command.IsSet("batch") {
				cfg.Sweep.Batch = int(command.Int("batch"))
			}

			log.Setup(cfg.LogLevel)
			logger := log.WithModule("scheduler")

			logger.InfoContext(ctx, "Initializing Flywheel scheduler")

			store := cmd.NewPersistence(ctx, logger, cfg.Database.URL)
			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close store", "error", err)
				}
			}()

			bus := cmd.NewEventBus(cfg.Events.Bus, cfg.Events.KafkaBrokers, "scheduler", logger)
			defer func() {
				if err := bus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			clock := clockwork.NewRealClock()
			webhooks := webhook.New(store, clock, logger)
			actions := pipeline.NewActionDispatcher(store, newMailer(cfg, logger), logger)

			var pipelineWebhooks *webhook.Dispatcher
			if cfg.Events.Bus != "kafka" {
				pipelineWebhooks = webhooks
			}

			p := pipeline.New(store, actions, bus, pipelineWebhooks, clock, logger)

			var redisClient *redis.Client

			if cfg.Redis.URL != "" {
				opts, err := redis.ParseURL(cfg.Redis.URL)
				if err != nil {
					return err
				}

				redisClient = redis.NewClient(opts)
				defer func() {
					if err := redisClient.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close redis client", "error", err)
					}
				}()
			}

			sched := scheduler.New(p, redisClient, cfg.Sweep.Batch, logger)
			if err := sched.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			sched.Stop()

			return webhooks.Shutdown(context.WithoutCancel(ctx))
		},
	}
}
