package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTaskCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect, cancel and run heartbeat tasks",
	}

	status := &cobra.Command{
		Use:   "status <task>",
		Short: "Print the sentinel of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			st, ok, err := s.Locks.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "state=none")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "state=%s owner=%s expires_at=%s\n",
				st.State, st.Owner, st.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel <task>",
		Short: "Ask the process running a task to stop it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			ok, err := s.Locks.Cancel(cmd.Context(), args[0], a.cfg.Lock.TTL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "canceled=%v\n", ok)
			return nil
		},
	}

	var duration time.Duration
	run := &cobra.Command{
		Use:   "run <task>",
		Short: "Run a placeholder task that only waits, honouring remote cancellation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			name := args[0]
			started, err := s.Locks.RunWithHeartbeatStatus(ctx, name, a.cfg.Lock.TTL, a.cfg.Lock.HeartbeatInterval,
				func(ctx context.Context) error {
					a.log.Info("task started", zap.String("task", name), zap.Duration("duration", duration))
					select {
					case <-time.After(duration):
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				})
			if err != nil {
				return err
			}
			if !started {
				fmt.Fprintln(cmd.OutOrStdout(), "started=false")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "started=true")
			return nil
		},
	}
	run.Flags().DurationVar(&duration, "duration", time.Minute, "how long the task runs")

	cmd.AddCommand(status, cancel, run)
	return cmd
}
