// Package worker runs retrain jobs requested through a separate serve process.
package worker

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/wildlife-reid/internal/app"
	"github.com/tphakala/wildlife-reid/internal/buildinfo"
	"github.com/tphakala/wildlife-reid/internal/cli"
	"github.com/tphakala/wildlife-reid/internal/conf"
	"github.com/tphakala/wildlife-reid/internal/logger"
	"github.com/tphakala/wildlife-reid/internal/retrain"
)

// Command creates the worker command
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run retrain jobs found in the shared job store",
		Long: `Poll the job store for created retrain jobs and run them. Use this with a serve process
that shares the same database and blob store when training should not run next to the API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cli.SignalContext(cmd.Context())
			defer stop()
			return cli.WithApp(settings, build, func(a *app.App) error {
				return run(ctx, a)
			})
		},
	}

	setupFlags(cmd)

	return cmd
}

func run(ctx context.Context, a *app.App) error {
	log := logger.Global().Module("worker")

	w, err := a.Worker()
	if err != nil {
		return err
	}
	queue := a.Queue()
	poller := retrain.NewPoller(a.Jobs, retrain.NewQueueDispatcher(queue, w), a.Settings.Retrain.PollInterval)

	log.Info("retrain worker started",
		logger.Int("workers", a.Settings.Retrain.Workers),
		logger.Duration("poll_interval", a.Settings.Retrain.PollInterval))

	g, gctx := errgroup.WithContext(ctx)
	queue.Start(gctx)
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return queue.Stop()
	})
	err = g.Wait()
	log.Info("retrain worker stopped")
	return err
}

func setupFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("poll-interval", 0, "How often to look for created jobs")
	cmd.Flags().Int("workers", 0, "Concurrent retrain jobs")

	if err := viper.BindPFlag("retrain.pollinterval", cmd.Flags().Lookup("poll-interval")); err != nil {
		logger.Global().Module("worker").Warn("binding flag failed", logger.String("flag", "poll-interval"), logger.Error(err))
	}
	if err := viper.BindPFlag("retrain.workers", cmd.Flags().Lookup("workers")); err != nil {
		logger.Global().Module("worker").Warn("binding flag failed", logger.String("flag", "workers"), logger.Error(err))
	}
}
