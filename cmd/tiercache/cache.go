package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-tiercache/v1/adapter"
	"github.com/mirkobrombin/go-tiercache/v1/core"
	"github.com/mirkobrombin/go-tiercache/v1/keys"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Read and evict distributed cache entries",
	}

	get := &cobra.Command{
		Use:   "get <template> [params...]",
		Short: "Print the value stored under a key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			k, err := s.Keys.PrepareForDefault(keys.Definition{Template: args[0]}, parseParams(args[1:])...)
			if err != nil {
				return err
			}
			v, ok, err := core.Lookup[any](cmd.Context(), s.Manager, k)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: not found", k.Key)
			}
			out, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <template> [params...]",
		Short: "Evict one key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			k, err := keys.Resolve(args[0], parseParams(args[1:])...)
			if err != nil {
				return err
			}
			return s.Manager.RemoveKey(cmd.Context(), k.Key)
		},
	}

	removePrefix := &cobra.Command{
		Use:   "remove-prefix <template> [params...]",
		Short: "Evict every key under a prefix",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			return s.Manager.RemoveByPrefix(cmd.Context(), args[0], parseParams(args[1:])...)
		},
	}

	flush := &cobra.Command{
		Use:   "flush",
		Short: "Drop every entry in the store namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			return s.Manager.Clear(cmd.Context())
		},
	}

	list := &cobra.Command{
		Use:   "keys [prefix]",
		Short: "List stored keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			kl, ok := s.Store.(adapter.KeyLister)
			if !ok {
				return fmt.Errorf("store %T cannot list keys", s.Store)
			}
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			ks, err := kl.Keys(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			for _, k := range ks {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}

	cmd.AddCommand(get, remove, removePrefix, flush, list)
	return cmd
}
