// Package collections manages collections from the command line.
package collections

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/wildlife-reid/internal/app"
	"github.com/tphakala/wildlife-reid/internal/buildinfo"
	"github.com/tphakala/wildlife-reid/internal/cli"
	"github.com/tphakala/wildlife-reid/internal/collection"
	"github.com/tphakala/wildlife-reid/internal/conf"
)

// Command creates the collections command and its subcommands
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"collection"},
		Short:   "List, create and delete collections",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List collections",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return cli.WithApp(settings, build, func(a *app.App) error {
					list, err := a.Collections.List(cmd.Context())
					if err != nil {
						return err
					}
					cli.Printf(cmd, "%s\n", Table(list))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "create <name>",
			Short: "Create a collection",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cli.WithApp(settings, build, func(a *app.App) error {
					c, err := a.Collections.Create(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					cli.Printf(cmd, "created collection %s\n", c.ID)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a collection, its annotations and its input images",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cli.WithApp(settings, build, func(a *app.App) error {
					if err := a.Collections.Delete(cmd.Context(), args[0]); err != nil {
						return err
					}
					cli.Printf(cmd, "deleted collection %s\n", args[0])
					return nil
				})
			},
		},
	)

	return cmd
}

// Table renders collections one row each
func Table(list []collection.Collection) string {
	rows := make([][]string, 0, len(list))
	for _, c := range list {
		created := "-"
		if !c.CreatedAt.IsZero() {
			created = c.CreatedAt.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{c.ID, c.Name, created})
	}
	return cli.RenderTable([]string{"ID", "Name", "Created"}, rows, nil)
}
