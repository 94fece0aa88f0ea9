// Package serve runs the HTTP API together with the in-process retrain queue.
package serve

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

// Command creates the serve command
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run retrain jobs",
		Long:  `Serve the HTTP API. Retrain requests are executed by a worker pool inside this process.`,
		Args:  cobra.NoArgs,
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
	log := logger.Global().Module("serve")

	w, err := a.Worker()
	if err != nil {
		return err
	}
	queue := a.Queue()
	dispatcher := retrain.NewQueueDispatcher(queue, w)
	server, err := a.Server(a.Orchestrator(dispatcher))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	queue.Start(gctx)

	// jobs created while no server was running
	if n := retrain.NewPoller(a.Jobs, dispatcher, 0).Poll(gctx); n > 0 {
		log.Info("requeued pending retrain jobs", logger.Int("count", n))
	}

	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		if err := queue.Stop(); err != nil {
			log.Warn("retrain queue did not drain", logger.Error(err))
		}
		return nil
	})
	return g.Wait()
}

func setupFlags(cmd *cobra.Command) {
	cmd.Flags().String("listen", "", "Address to listen on, e.g. :8080")

	if err := viper.BindPFlag("webserver.listen", cmd.Flags().Lookup("listen")); err != nil {
		logger.Global().Module("serve").Warn("binding flag failed", logger.String("flag", "listen"), logger.Error(err))
	}
}
