package main

import (
	"fmt"

	"github.com/azin/mediacache-service/internal/service/link"
	"github.com/spf13/cobra"
)

func newParseCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "parse <url>",
		Short:       "Resolve a URL to its resource key and request paths",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := link.Parse(args[0])
			if err != nil {
				return err
			}
			id := key.FileStem()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Resource: %s\n", key)
			fmt.Fprintf(out, "Info:     /%s/%s/json\n", key.Kind, id)
			if key.Kind.HasSource() {
				fmt.Fprintf(out, "Audio:    /%s/%s/audio\n", key.Kind, id)
			}
			fmt.Fprintf(out, "Parse:    /parse/%s/json\n", link.EncodeParam(args[0]))
			return nil
		},
	}
}
