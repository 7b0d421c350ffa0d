package main

import (
	"fmt"

	"github.com/azin/mediacache-service/internal/errcode"
	"github.com/spf13/cobra"
)

func newErrcodeCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:         "errcode <code>...",
		Short:       "Describe error codes",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			p := errcode.Prioritize(args)
			if asJSON {
				details := make([]errcode.Info, 0, len(args))
				for _, c := range args {
					details = append(details, errcode.Describe(c))
				}
				return writeJSON(cmd, map[string]any{"priority": p, "details": details})
			}

			out := cmd.OutOrStdout()
			for _, group := range []struct {
				name  string
				codes []string
			}{{"main", p.Main}, {"sub", p.Sub}, {"other", p.Other}} {
				for _, c := range group.codes {
					info := errcode.Describe(c)
					fmt.Fprintf(out, "[%s] %s  %s: %s\n", group.name, c, info.Title, info.Description)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
