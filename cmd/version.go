package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/einthusan-addon/internal/api"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the addon version",
		Annotations: map[string]string{"skipApp": "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", api.AddonName, api.Version)
		},
	}
}
