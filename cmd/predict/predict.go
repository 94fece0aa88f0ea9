// Package predict annotates the images of a collection from the command line.
package predict

import (
	"path"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tphakala/wildlife-reid/internal/annotation"
	"github.com/tphakala/wildlife-reid/internal/app"
	"github.com/tphakala/wildlife-reid/internal/buildinfo"
	"github.com/tphakala/wildlife-reid/internal/cli"
	"github.com/tphakala/wildlife-reid/internal/conf"
)

// Command creates the predict command
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict <collection>",
		Short: "Detect and identify animals in a collection's images",
		Long: `Run detection, cropping, embedding and classification over every input image of the
collection, replace its stored annotations and print them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cli.SignalContext(cmd.Context())
			defer stop()
			return cli.WithApp(settings, build, func(a *app.App) error {
				p, err := a.Pipeline()
				if err != nil {
					return err
				}
				list, err := p.Predict(ctx, args[0])
				if err != nil {
					return err
				}
				cli.Printf(cmd, "%s\n", Table(list))
				cli.Printf(cmd, "%d annotations\n", len(list))
				return nil
			})
		},
	}

	return cmd
}

// Table renders annotations one row each
func Table(list []annotation.Annotation) string {
	rows := make([][]string, 0, len(list))
	for _, a := range list {
		confidence := "-"
		crop := "-"
		if !a.IsUndetected() {
			confidence = strconv.FormatFloat(a.BBoxConfidence, 'f', 2, 64)
			crop = path.Base(a.CroppedFileName)
		}
		rows = append(rows, []string{
			path.Base(a.FileName),
			crop,
			a.PredictedSpecies,
			a.PredictedName,
			confidence,
		})
	}
	return cli.RenderTable(
		[]string{"Image", "Crop", "Species", "Individual", "Confidence"},
		rows,
		[]cli.Alignment{cli.AlignLeft, cli.AlignLeft, cli.AlignLeft, cli.AlignLeft, cli.AlignRight},
	)
}
