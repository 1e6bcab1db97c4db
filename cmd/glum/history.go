package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bdobrica/glum/internal/glum/app"
	"github.com/bdobrica/glum/internal/glum/history"
)

func newHistoryCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history <thread-id>",
		Short: "Print the stored transcript of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			backend, _, st, err := app.Backends(cfg, slog.Default())
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}

			msgs, err := backend.Load(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load history of %s: %w", args[0], err)
			}
			if asJSON {
				if msgs == nil {
					msgs = []history.Message{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(msgs)
			}
			if len(msgs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no history for %s\n", args[0])
				return nil
			}
			for _, m := range msgs {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", m.Role, m.Content)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d message(s), about %d tokens\n", len(msgs), history.EstimateTokens(msgs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the transcript as JSON")
	return cmd
}
