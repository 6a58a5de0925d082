package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wiki-mirror/internal/api"
	"github.com/JakeFAU/wiki-mirror/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	var noWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the scheduler and a batch worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), a, !noWorker)
		},
	}
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "do not consume batches in this process")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume and execute sync batches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			a.Logger().Info("worker started")
			if err := a.RunWorker(cmd.Context()); err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			a.Logger().Info("worker stopped")
			return nil
		},
	}
}

func serve(ctx context.Context, a App, withWorker bool) error {
	cfg := a.Config()
	logger := a.Logger()

	g, ctx := errgroup.WithContext(ctx)
	apiServer := api.NewServer(ctx, a, cfg, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		apiServer.Wait()
		return nil
	})
	if withWorker {
		g.Go(func() error {
			logger.Info("worker started")
			return a.RunWorker(ctx)
		})
	}
	if cfg.Schedule.Enabled {
		sched, err := scheduler.New(a.ScheduledJobs(), logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return sched.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
