package main

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-care-sensor/camera-shm/internal/backoff"
	"github.com/e7canasta/orion-care-sensor/camera-shm/internal/config"
	"github.com/e7canasta/orion-care-sensor/camera-shm/registry"
)

func newRevokeCommand(c *cli) *cobra.Command {
	var broker string

	cmd := &cobra.Command{
		Use:   "revoke <task-id>",
		Short: "Mark a task REVOKED so its session stops",
		Long: `Revoke publishes a retained REVOKED status for the task. Sessions bound to
the task stop within one poll interval.

Example:
  camera-shm revoke job-1 --broker tcp://broker:1883`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("broker") {
				c.cfg.Registry.Broker = broker
			}
			reg, closeRegistry, err := openTaskRegistry(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer closeRegistry()

			ctx, cancel := context.WithTimeout(cmd.Context(), c.cfg.Watcher.QueryTimeout)
			defer cancel()
			if err := reg.Publish(ctx, args[0], registry.StatusRevoked); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], registry.StatusRevoked)
			return nil
		},
	}
	cmd.Flags().StringVar(&broker, "broker", "", "MQTT broker address")
	return cmd
}

func newStatusCommand(c *cli) *cobra.Command {
	var broker string

	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Print the registry status of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("broker") {
				c.cfg.Registry.Broker = broker
			}
			reg, closeRegistry, err := openTaskRegistry(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer closeRegistry()

			status, ok, err := awaitStatus(cmd.Context(), reg, args[0], c.cfg.Watcher.QueryTimeout, clock.WallClock)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s UNKNOWN\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], status)
			return nil
		},
	}
	cmd.Flags().StringVar(&broker, "broker", "", "MQTT broker address")
	return cmd
}

// openTaskRegistry connects to the configured MQTT registry. The memory
// registry lives inside one process, so revoke and status cannot use it.
func openTaskRegistry(ctx context.Context, cfg *config.Config) (taskRegistry, func(), error) {
	if cfg.Registry.Kind != "mqtt" {
		return nil, nil, fmt.Errorf("registry %q is process-local; revoke and status need the mqtt registry", cfg.Registry.Kind)
	}
	return buildRegistry(ctx, cfg.Registry, cfg.Watcher.QueryTimeout)
}

// awaitStatus queries the registry until it reports a status or timeout
// elapses. Retained records may arrive shortly after the first subscription.
func awaitStatus(ctx context.Context, reg registry.Registry, taskID string, timeout time.Duration, clk clock.Clock) (registry.Status, bool, error) {
	if err := registry.ValidateTaskID(taskID); err != nil {
		return "", false, err
	}

	if timeout <= 0 {
		return reg.Status(ctx, taskID)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := backoff.New(backoff.Config{Initial: 20 * time.Millisecond, Max: 200 * time.Millisecond})
	for {
		status, ok, err := reg.Status(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return "", false, nil
			}
			return "", false, err
		}
		if ok {
			return status, true, nil
		}
		if !backoff.Sleep(clk, b.Next(), ctx.Done()) {
			return "", false, nil
		}
	}
}
