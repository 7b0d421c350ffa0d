package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// writeJSON 以缩进 JSON 输出到命令的 stdout
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
