// Package cmd defines and implements the CLI commands for the addon executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/einthusan-addon/internal/app"
	"github.com/JakeFAU/einthusan-addon/internal/catalog"
	"github.com/JakeFAU/einthusan-addon/internal/config"
	"github.com/JakeFAU/einthusan-addon/internal/logging"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application surface the commands use.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
	Refresh(ctx context.Context, lang string, mode catalog.RefreshMode) ([]catalog.RefreshRun, error)
	Stream(ctx context.Context, id, lang string) (catalog.StreamDescriptor, bool)
	Meta(ctx context.Context, id, lang string) (catalog.MetaRecord, bool)
}

// newApp is the application factory. Tests replace it with a fake.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build app: %w", err)
	}
	return appAdapter{App: a}, nil
}

type appAdapter struct {
	*app.App
}

func (a appAdapter) Refresh(ctx context.Context, lang string, mode catalog.RefreshMode) ([]catalog.RefreshRun, error) {
	if lang == "" {
		runs, err := a.Refresher().RunAll(ctx, mode)
		if err != nil {
			return runs, fmt.Errorf("refresh all: %w", err)
		}
		return runs, nil
	}
	run, err := a.Refresher().Run(ctx, lang, mode)
	if err != nil {
		return []catalog.RefreshRun{run}, fmt.Errorf("refresh %s: %w", lang, err)
	}
	return []catalog.RefreshRun{run}, nil
}

func (a appAdapter) Stream(ctx context.Context, id, lang string) (catalog.StreamDescriptor, bool) {
	return a.Service().ResolveStream(ctx, id, lang)
}

func (a appAdapter) Meta(ctx context.Context, id, lang string) (catalog.MetaRecord, bool) {
	return a.Service().ResolveMeta(ctx, id, lang)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "einthusan-addon",
		Short: "Catalog, metadata, and stream addon for the Einthusan movie site.",
		Long: `einthusan-addon serves per-language movie catalogs, metadata, and playable
stream links scraped from the Einthusan site, keeps recent catalogs warm in
the cache, and cross-references titles against an external movie database.`,
		SilenceUsage: true,

		// Builds the application once config is known and stores it in the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["skipApp"] == "true" {
				return nil
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				if err := appInstance.Close(context.WithoutCancel(cmd.Context())); err != nil {
					appInstance.Logger().Warn("close failed", zap.Error(err))
				}
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env overrides use the CATALOG_ prefix)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRefreshCmd())
	cmd.AddCommand(newLookupCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logger := logging.Must(logging.New(logging.Options{}))
		logger.Fatal("command execution failed", zap.Error(err))
	}
}
