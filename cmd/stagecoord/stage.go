package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/stagecoord/pkg/argmap"
	"github.com/ravi-parthasarathy/stagecoord/pkg/protocol"
	"github.com/ravi-parthasarathy/stagecoord/pkg/stage"
)

// stageFlags are shared by every command that acts as a stage.
type stageFlags struct {
	coordinator string
	self        protocol.Endpoint
	timeout     time.Duration
	retries     int
}

func (f *stageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.coordinator, "coordinator", "localhost:50051", "coordinator address (host:port)")
	cmd.Flags().StringVar(&f.self.Name, "name", "", "this stage's name")
	cmd.Flags().StringVar(&f.self.IP, "ip", "", "this stage's IP (defaults to the connection's source address)")
	cmd.Flags().StringVar(&f.self.Port, "port", "", "this stage's port")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "per-call timeout")
	cmd.Flags().IntVar(&f.retries, "retries", 1, "attempts for calls failing at the transport level")
}

// call dials the coordinator and runs fn with retries on transport errors.
func (f *stageFlags) call(ctx context.Context, fn func(ctx context.Context, c *stage.Client) error) error {
	c, err := stage.Dial(f.coordinator, f.self)
	if err != nil {
		return err
	}
	defer c.Close()

	return stage.WithRetry(ctx, f.retries, func() error {
		cctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		return fn(cctx, c)
	})
}

// ─── inform-previous ──────────────────────────────────────────────────────────

func informPreviousCmd() *cobra.Command {
	var (
		sf   stageFlags
		prev protocol.Endpoint
		kvs  []string
	)

	cmd := &cobra.Command{
		Use:   "inform-previous <task-id>",
		Short: "Report the stage that handed a task to this one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskArgs, err := argmap.Parse(kvs)
			if err != nil {
				return err
			}
			return sf.call(cmd.Context(), func(ctx context.Context, c *stage.Client) error {
				return c.InformPreviousServiceInfo(ctx, args[0], prev, taskArgs)
			})
		},
	}

	sf.register(cmd)
	cmd.Flags().StringVar(&prev.Name, "prev-name", "", "previous stage name")
	cmd.Flags().StringVar(&prev.IP, "prev-ip", "", "previous stage IP")
	cmd.Flags().StringVar(&prev.Port, "prev-port", "", "previous stage port")
	cmd.Flags().StringArrayVar(&kvs, "arg", nil, "argument as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("prev-name")
	return cmd
}

// ─── inform-current ───────────────────────────────────────────────────────────

func informCurrentCmd() *cobra.Command {
	var (
		sf  stageFlags
		kvs []string
	)

	cmd := &cobra.Command{
		Use:   "inform-current <task-id>",
		Short: "Report this stage for a task and print the arguments it should run with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskArgs, err := argmap.Parse(kvs)
			if err != nil {
				return err
			}
			var injected argmap.Map
			err = sf.call(cmd.Context(), func(ctx context.Context, c *stage.Client) error {
				m, err := c.InformCurrentServiceInfo(ctx, args[0], taskArgs)
				injected = m
				return err
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd, injected)
		},
	}

	sf.register(cmd)
	cmd.Flags().StringArrayVar(&kvs, "arg", nil, "argument as key=value (repeatable)")
	return cmd
}

// ─── start / stop ─────────────────────────────────────────────────────────────

func startCmd() *cobra.Command {
	var sf stageFlags
	cmd := &cobra.Command{
		Use:   "start <task-id>",
		Short: "Mark a fully informed task as running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sf.call(cmd.Context(), func(ctx context.Context, c *stage.Client) error {
				return c.Start(ctx, args[0])
			})
		},
	}
	sf.register(cmd)
	return cmd
}

func stopCmd() *cobra.Command {
	var sf stageFlags
	cmd := &cobra.Command{
		Use:   "stop <task-id>",
		Short: "Mark a running task as stopped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sf.call(cmd.Context(), func(ctx context.Context, c *stage.Client) error {
				return c.Stop(ctx, args[0])
			})
		},
	}
	sf.register(cmd)
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
