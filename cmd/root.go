// Package cmd defines and implements the CLI commands for the wiki-mirror executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-mirror/internal/app"
	"github.com/JakeFAU/wiki-mirror/internal/config"
	"github.com/JakeFAU/wiki-mirror/internal/logging"
	"github.com/JakeFAU/wiki-mirror/internal/notify"
	"github.com/JakeFAU/wiki-mirror/internal/scheduler"
	"github.com/JakeFAU/wiki-mirror/internal/syncer"
	"github.com/JakeFAU/wiki-mirror/internal/telemetry"
	"github.com/JakeFAU/wiki-mirror/internal/temporal"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Logger() *zap.Logger
	Config() config.Config
	RunSync(ctx context.Context, instanceID string, in syncer.Input) (app.Run[syncer.Result], error)
	SyncAndWait(ctx context.Context, instanceID string, in syncer.Input) (app.Run[syncer.Result], error)
	RunOnThisDay(ctx context.Context, instanceID string, in temporal.Input) (app.Run[temporal.ExtractorResult], error)
	RunIndex(ctx context.Context, instanceID string) (app.Run[temporal.IndexResult], error)
	RunNotify(ctx context.Context, instanceID string) (app.Run[notify.Result], error)
	RunWorker(ctx context.Context) error
	ScheduledJobs() []scheduler.Job
	Ready(ctx context.Context) error
	Close() error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	tp, err := telemetry.InitTracerProvider(ctx, "wiki-mirror", cfg.Telemetry.SampleRatio)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		_ = logger.Sync()
		return nil, err
	}
	a.OnClose(func() error {
		return tp.Shutdown(context.Background())
	})
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "wiki-mirror",
		Short: "Mirrors a hosted wiki and maintains on-this-day cross references.",
		Long: `wiki-mirror copies recently changed pages of a hosted wiki project into
object storage and a relational index, links day pages to the pages they
reference per year, publishes an aggregated on-this-day index and sends a
digest of pages awaiting classification.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Build the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env MIRROR_* overrides)")

	cmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newSyncCmd(),
		newOnThisDayCmd(),
		newIndexCmd(),
		newNotifyCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := execute(ctx, newRootCmd())
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// execute runs root and closes the App the executed command built, whether
// or not the command succeeded. cobra skips post-run hooks after a RunE
// error, so the close happens here.
func execute(ctx context.Context, root *cobra.Command) error {
	cmd, err := root.ExecuteContextC(ctx)
	if cmd != nil && cmd.Context() != nil {
		if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
			if closeErr := appInstance.Close(); closeErr != nil {
				appInstance.Logger().Warn("closing application services failed", zap.Error(closeErr))
			}
			_ = appInstance.Logger().Sync()
		}
	}
	return err
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
