package main

import (
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bdobrica/glum/common/environment"
	"github.com/bdobrica/glum/internal/glum/persona"
)

func newPersonasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "personas [dir]",
		Short: "List and validate the persona files in a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := environment.StringOr("GLUM_PERSONAS_DIR", "./personas")
			if len(args) == 1 {
				dir = args[0]
			}

			reg := persona.NewRegistry(slog.Default())
			loadErr := reg.Load(dir)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDISPLAY NAME\tMODEL\tALIASES")
			for _, name := range reg.Names() {
				p, _ := reg.Lookup(name)
				model := p.Params.Model
				if model == "" {
					model = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, p.Label(), model, strings.Join(p.Aliases, ", "))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d persona(s) loaded from %s; fallback is %q\n", reg.Len(), dir, reg.Fallback().Label())

			if loadErr != nil {
				return fmt.Errorf("invalid persona files:\n%w", loadErr)
			}
			return nil
		},
	}
}
