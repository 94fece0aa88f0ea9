// Package images uploads and lists the input images of a collection.
package images

import (
	"os"
	"path"

	"github.com/spf13/cobra"

	"github.com/tphakala/wildlife-reid/internal/app"
	"github.com/tphakala/wildlife-reid/internal/buildinfo"
	"github.com/tphakala/wildlife-reid/internal/cli"
	"github.com/tphakala/wildlife-reid/internal/conf"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/logger"
)

// Command creates the images command and its subcommands
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Add and list a collection's input images",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <collection> <file>...",
			Short: "Upload local photos into a collection",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cli.WithApp(settings, build, func(a *app.App) error {
					log := logger.Global().Module("images")
					for _, p := range args[1:] {
						f, err := os.Open(p)
						if err != nil {
							return errors.New(err).
								Component("images").
								Category(errors.CategoryFileIO).
								Context("file", p).
								Build()
						}
						key, err := a.Collections.AddImage(cmd.Context(), args[0], p, f)
						_ = f.Close()
						if err != nil {
							return err
						}
						log.Debug("image uploaded", logger.String("file", p), logger.String("key", key))
						cli.Printf(cmd, "%s\n", key)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list <collection>",
			Short: "List a collection's input images",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cli.WithApp(settings, build, func(a *app.App) error {
					keys, err := a.Collections.Images(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					rows := make([][]string, 0, len(keys))
					for _, k := range keys {
						rows = append(rows, []string{path.Base(k), k})
					}
					cli.Printf(cmd, "%s\n", cli.RenderTable([]string{"Image", "Key"}, rows, nil))
					return nil
				})
			},
		},
	)

	return cmd
}
