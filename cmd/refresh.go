package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/einthusan-addon/internal/catalog"
)

func newRefreshCmd() *cobra.Command {
	var (
		lang string
		mode string
	)
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh recent catalogs once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			refreshMode := catalog.RefreshMode(strings.ToLower(mode))
			if refreshMode != catalog.RefreshFull && refreshMode != catalog.RefreshIncremental {
				return fmt.Errorf("unknown mode %q (want full or incremental)", mode)
			}
			runs, runErr := appInstance.Refresh(cmd.Context(), strings.ToLower(lang), refreshMode)
			out := cmd.OutOrStdout()
			for _, run := range runs {
				fmt.Fprintf(out, "%s\t%s\t%s\trecords=%d new=%d failed_pages=%d\n",
					run.Language, run.Mode, run.Status, run.Records, run.NewRecords, run.FailedPages)
			}
			if runErr != nil {
				appInstance.Logger().Error("refresh finished with errors", zap.Error(runErr))
				return runErr
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "language to refresh (default: every configured language)")
	cmd.Flags().StringVar(&mode, "mode", string(catalog.RefreshFull), "refresh mode: full or incremental")
	return cmd
}
