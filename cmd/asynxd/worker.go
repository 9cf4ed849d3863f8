package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/asynx/internal/config"
	"github.com/dmitrymomot/asynx/pkg/broker"
	"github.com/dmitrymomot/asynx/pkg/redis"
	"github.com/dmitrymomot/asynx/pkg/taskqueue"
)

func workerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the task execution worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runWorker(cfg)
		},
	}
}

func runWorker(cfg config.Config) error {
	log := newLogger(cfg)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := redis.Open(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close() //nolint:errcheck // closing on shutdown

	b := broker.New(client, broker.WithLogger(log))
	runner := taskqueue.NewRunner(client, b,
		taskqueue.WithRunnerLocation(loc),
		taskqueue.WithRunnerLogger(log),
	)

	w := broker.NewWorker(client,
		func(ctx context.Context, msg broker.Message) error {
			return runner.Run(ctx, msg.App, msg.Queue, msg.TaskID)
		},
		broker.WithConcurrency(cfg.WorkerConcurrency),
		broker.WithWorkerLogger(log),
	)
	return w.Run(ctx)
}
