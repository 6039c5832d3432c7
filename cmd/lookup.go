package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newLookupCmd() *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "lookup <id>",
		Short: "Print the metadata and stream an id resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			id := args[0]
			result := map[string]any{"id": id, "lang": lang, "meta": nil, "stream": nil}
			if meta, ok := appInstance.Meta(cmd.Context(), id, lang); ok {
				result["meta"] = meta
			}
			if desc, ok := appInstance.Stream(cmd.Context(), id, lang); ok {
				result["stream"] = desc
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "hindi", "catalog language")
	return cmd
}
