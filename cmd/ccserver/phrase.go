// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

package main

import (
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// NewPhraseCmd creates the phrase subcommand, a wordlist sanity check.
func NewPhraseCmd(deps *Deps) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "phrase",
		Short: "Print sample recovery phrases and their entropy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count < 1 {
				return oops.Code("INVALID_COUNT").Errorf("count must be at least 1, got %d", count)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			codec, err := newCodec(cfg, deps.secrets())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wordlist: %d words, %d dice per word\n",
				codec.Wordlist().Len(), codec.Wordlist().DieCount())
			fmt.Fprintf(cmd.OutOrStdout(), "Entropy:  %.1f bits (%d words)\n", codec.EntropyBits(), codec.WordCount())
			for range count {
				phrase, err := codec.Generate()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), phrase)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of sample phrases")
	return cmd
}
