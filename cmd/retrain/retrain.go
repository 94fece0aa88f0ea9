// Package retrain requests, runs and inspects classifier retraining from the command line.
package retrain

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/wildlife-reid/internal/app"
	"github.com/tphakala/wildlife-reid/internal/buildinfo"
	"github.com/tphakala/wildlife-reid/internal/cli"
	"github.com/tphakala/wildlife-reid/internal/conf"
	"github.com/tphakala/wildlife-reid/internal/httpclient"
	"github.com/tphakala/wildlife-reid/internal/retrain"
)

// Command creates the retrain command and its subcommands
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retrain",
		Short: "Retrain the per-species classifiers from reviewed annotations",
		Long: `Retraining runs as a job per collection. Jobs requested here without --server are picked up
by a running "reid worker"; "retrain run" executes the job in this process instead.`,
	}

	h := &handler{settings: settings, build: build}
	cmd.AddCommand(
		h.jobCommand("request <collection>", "Request retraining", (*httpclient.Client).RequestRetrain,
			func(ctx context.Context, o *retrain.Orchestrator, id string) (retrain.Job, error) { return o.Request(ctx, id) }),
		h.jobCommand("status <collection>", "Show the retrain job", (*httpclient.Client).RetrainJob,
			func(ctx context.Context, o *retrain.Orchestrator, id string) (retrain.Job, error) { return o.Status(ctx, id) }),
		h.jobCommand("abort <collection>", "Abort a created or started job", (*httpclient.Client).AbortRetrain,
			func(ctx context.Context, o *retrain.Orchestrator, id string) (retrain.Job, error) { return o.Abort(ctx, id) }),
		h.logsCommand(),
		h.runCommand(),
		h.clearCommand(),
		h.promoteCommand(),
		h.sampleCommand(),
	)

	return cmd
}

type handler struct {
	settings *conf.Settings
	build    *buildinfo.Context
}

type remoteJobFunc func(*httpclient.Client, context.Context, string) (httpclient.JobView, error)

type localJobFunc func(context.Context, *retrain.Orchestrator, string) (retrain.Job, error)

func (h *handler) jobCommand(use, short string, remote remoteJobFunc, local localJobFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cli.Remote(cmd)
			if err != nil {
				return err
			}
			if client != nil {
				defer client.Close()
				view, err := remote(client, cmd.Context(), args[0])
				if err != nil {
					return err
				}
				cli.Printf(cmd, "%s\n", JobTable(view.Job, view.Stale))
				return nil
			}
			return cli.WithApp(h.settings, h.build, func(a *app.App) error {
				job, err := local(cmd.Context(), a.Orchestrator(nil), args[0])
				if err != nil {
					return err
				}
				stale := job.Stale(time.Now(), h.settings.Retrain.StaleTimeout)
				cli.Printf(cmd, "%s\n", JobTable(job, stale))
				return nil
			})
		},
	}
	cli.AddServerFlag(cmd)
	return cmd
}

func (h *handler) logsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs <collection>",
		Short: "Show the retrain job's progress log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cli.Remote(cmd)
			if err != nil {
				return err
			}
			if client != nil {
				defer client.Close()
				events, err := client.RetrainLogs(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				cli.Printf(cmd, "%s\n", EventTable(events))
				return nil
			}
			return cli.WithApp(h.settings, h.build, func(a *app.App) error {
				events, err := a.Orchestrator(nil).Events(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				cli.Printf(cmd, "%s\n", EventTable(events))
				return nil
			})
		},
	}
	cli.AddServerFlag(cmd)
	return cmd
}

// runCommand trains in this process, reusing a job that is still waiting for a worker
func (h *handler) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <collection>",
		Short: "Retrain now in this process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cli.SignalContext(cmd.Context())
			defer stop()
			return cli.WithApp(h.settings, h.build, func(a *app.App) error {
				w, err := a.Worker()
				if err != nil {
					return err
				}
				orch := a.Orchestrator(nil)
				job, err := orch.Status(ctx, args[0])
				if err != nil {
					return err
				}
				if job.Status != retrain.StatusCreated {
					if job, err = orch.Request(ctx, args[0]); err != nil {
						return err
					}
				}

				runErr := w.Run(ctx, args[0], job.Generation)

				events, err := orch.Events(context.WithoutCancel(ctx), args[0])
				if err != nil {
					return err
				}
				cli.Printf(cmd, "%s\n", EventTable(events))
				if runErr != nil {
					return runErr
				}
				job, err = orch.Status(context.WithoutCancel(ctx), args[0])
				if err != nil {
					return err
				}
				cli.Printf(cmd, "%s\n", JobTable(job, false))
				return nil
			})
		},
	}
}

func (h *handler) clearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <collection>",
		Short: "Reset a finished job and empty its log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.WithApp(h.settings, h.build, func(a *app.App) error {
				if err := a.Orchestrator(nil).Clear(cmd.Context(), args[0]); err != nil {
					return err
				}
				cli.Printf(cmd, "cleared retrain job of %s\n", args[0])
				return nil
			})
		},
	}
}

func (h *handler) promoteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "promote <collection>",
		Short: "Copy accepted crops into the durable training sets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.WithApp(h.settings, h.build, func(a *app.App) error {
				n, err := a.Promoter.Promote(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				cli.Printf(cmd, "promoted %d crops from %s\n", n, args[0])
				return nil
			})
		},
	}
}

func (h *handler) sampleCommand() *cobra.Command {
	var seed uint64

	cmd := &cobra.Command{
		Use:   "sample <collection>",
		Short: "Write the backbone training manifest of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("seed") {
				seed = uint64(time.Now().UnixNano())
			}
			return cli.WithApp(h.settings, h.build, func(a *app.App) error {
				m, key, err := a.Sampler.Build(cmd.Context(), args[0], seed)
				if err != nil {
					return err
				}
				cli.Printf(cmd, "%s\n", cli.RenderTable(
					[]string{"New", "Old", "Total", "Manifest"},
					[][]string{{strconv.Itoa(m.Plan.New), strconv.Itoa(len(m.Old)), strconv.Itoa(m.Plan.Total), key}},
					[]cli.Alignment{cli.AlignRight, cli.AlignRight, cli.AlignRight, cli.AlignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().Uint64Var(&seed, "seed", 0, "Sampling seed recorded in the manifest, taken from the clock when unset")

	return cmd
}

// JobTable renders one job
func JobTable(job retrain.Job, stale bool) string {
	errText := job.Error
	if errText == "" {
		errText = "-"
	}
	row := []string{
		job.CollectionID,
		string(job.Status),
		strconv.FormatInt(job.Generation, 10),
		cli.FormatUnix(job.CreatedAt),
		cli.FormatUnix(job.HeartbeatAt),
		strconv.FormatBool(stale),
		errText,
	}
	return cli.RenderTable(
		[]string{"Collection", "Status", "Generation", "Created", "Heartbeat", "Stale", "Error"},
		[][]string{row},
		[]cli.Alignment{cli.AlignLeft, cli.AlignLeft, cli.AlignRight},
	)
}

// EventTable renders the progress log, oldest first
func EventTable(events []retrain.Event) string {
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{cli.FormatUnix(e.CreatedAt), e.Message})
	}
	return cli.RenderTable([]string{"Time", "Message"}, rows, nil)
}
