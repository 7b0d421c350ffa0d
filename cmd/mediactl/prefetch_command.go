package main

import (
	"errors"
	"fmt"

	"github.com/azin/mediacache-service/internal/model"
	"github.com/azin/mediacache-service/internal/worker"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
)

func newPrefetchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prefetch <kind> <id>",
		Short: "Queue a background prefetch on the worker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := model.ParseKind(args[0])
			if !ok {
				return fmt.Errorf("unknown kind %q", args[0])
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.RedisEnabled() {
				return errors.New("redis is not configured, set REDIS_URL")
			}

			task, err := worker.NewPrefetchTask(worker.PrefetchPayload{Service: string(kind), ID: args[1]}, cfg.Worker.MaxRetry)
			if err != nil {
				return err
			}

			client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.URL, DB: cfg.Redis.DB})
			defer client.Close()

			info, err := client.EnqueueContext(cmd.Context(), task)
			if errors.Is(err, asynq.ErrTaskIDConflict) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s:%s is already queued\n", kind, args[1])
				return nil
			}
			if err != nil {
				return fmt.Errorf("enqueue prefetch: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (queue %s)\n", info.ID, info.Queue)
			return nil
		},
	}
}
