// Package backbone swaps the embedding backbone of a running server or checks a model file.
package backbone

import (
	"image"

	"github.com/spf13/cobra"

	"github.com/tphakala/wildlife-reid/internal/app"
	"github.com/tphakala/wildlife-reid/internal/buildinfo"
	"github.com/tphakala/wildlife-reid/internal/cli"
	"github.com/tphakala/wildlife-reid/internal/conf"
	"github.com/tphakala/wildlife-reid/internal/embedding"
	"github.com/tphakala/wildlife-reid/internal/errors"
)

// Command creates the backbone command and its subcommands
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backbone",
		Short: "Manage the embedding backbone",
	}

	reload := &cobra.Command{
		Use:   "reload <model.tflite>",
		Short: "Load a retrained backbone",
		Long: `With --server the running server swaps its backbone for the given file. Without it the
file is loaded here and a probe embedding is computed, which checks the model before deploying it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cli.Remote(cmd)
			if err != nil {
				return err
			}
			if client != nil {
				defer client.Close()
				path, err := client.ReloadBackbone(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				cli.Printf(cmd, "server now uses backbone %s\n", path)
				return nil
			}
			return cli.WithApp(settings, build, func(a *app.App) error {
				ext, err := a.Extractor()
				if err != nil {
					return err
				}
				if err := ext.Reload(args[0]); err != nil {
					return err
				}
				dim, err := Probe(cmd, ext)
				if err != nil {
					return err
				}
				cli.Printf(cmd, "backbone %s loaded: input %dx%d, %d features\n",
					ext.ModelPath(), ext.InputSize(), ext.InputSize(), dim)
				return nil
			})
		},
	}
	cli.AddServerFlag(reload)

	cmd.AddCommand(reload)
	return cmd
}

// Probe embeds a blank image and returns the feature dimension
func Probe(cmd *cobra.Command, ext *embedding.Extractor) (int, error) {
	size := ext.InputSize()
	blank := image.NewRGBA(image.Rect(0, 0, size, size))
	rows, err := ext.Extract(cmd.Context(), []image.Image{blank})
	if err != nil {
		return 0, err
	}
	if len(rows) != 1 || len(rows[0]) == 0 {
		return 0, errors.Newf("backbone produced no features").
			Component("backbone").
			Category(errors.CategoryModelInit).
			Build()
	}
	return len(rows[0]), nil
}
