package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-tiercache/v1/keys"
)

func newKeyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Resolve key templates",
	}
	var shortTerm bool
	resolve := &cobra.Command{
		Use:   "resolve <template> [params...]",
		Short: "Print the key a template resolves to, with its ttl",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := keys.NewBuilder(a.cfg.Cache)
			def := keys.Definition{Template: args[0]}
			prepare := b.PrepareForDefault
			if shortTerm {
				prepare = b.PrepareForShortTerm
			}
			k, err := prepare(def, parseParams(args[1:])...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tttl=%dm\n", k.Key, k.TTL)
			return nil
		},
	}
	resolve.Flags().BoolVar(&shortTerm, "short-term", false, "use the short term cache time")

	prefix := &cobra.Command{
		Use:   "prefix <template> [params...]",
		Short: "Print the prefix a template resolves to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := keys.ResolvePrefix(args[0], parseParams(args[1:])...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.AddCommand(resolve, prefix)
	return cmd
}
