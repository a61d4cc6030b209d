package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newLockCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Work with advisory locks",
	}

	var (
		ttl  time.Duration
		hold time.Duration
	)
	try := &cobra.Command{
		Use:   "try <resource>",
		Short: "Take a lock, hold it, release it and report whether it was acquired",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = a.cfg.Lock.TTL
			}
			ok, err := s.Locks.WithLock(cmd.Context(), args[0], ttl, func(ctx context.Context) error {
				select {
				case <-time.After(hold):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "acquired=%v\n", ok)
			return nil
		},
	}
	try.Flags().DurationVar(&ttl, "ttl", 0, "lock ttl (defaults to lock-ttl)")
	try.Flags().DurationVar(&hold, "hold", 0, "how long to hold the lock")

	cmd.AddCommand(try)
	return cmd
}
