// Package count runs the single species counter over local photos.
package count

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/wildlife-reid/internal/app"
	"github.com/tphakala/wildlife-reid/internal/blobstore"
	"github.com/tphakala/wildlife-reid/internal/buildinfo"
	"github.com/tphakala/wildlife-reid/internal/cli"
	"github.com/tphakala/wildlife-reid/internal/conf"
	"github.com/tphakala/wildlife-reid/internal/detector"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/imageio"
)

// Counter counts one label in a photo
type Counter interface {
	Count(ctx context.Context, img *imageio.InputImage) (*detector.CountResult, error)
	InputSize() int
	Label() string
}

// Result is the count of one photo and where its overlay was written
type Result struct {
	File    string
	Count   int
	Overlay string
}

// Command creates the count command
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "count <image>...",
		Short: "Count one species in photos and draw the boxes",
		Long: `Count confident detections of the configured counter label in each photo and write a copy
with every counted box drawn. Overlays are written next to the inputs unless --output is set.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cli.SignalContext(cmd.Context())
			defer stop()
			return cli.WithApp(settings, build, func(a *app.App) error {
				counter, err := a.Counter()
				if err != nil {
					return err
				}
				results, err := Run(ctx, counter, args, outputDir, settings.Storage.JPEGQuality)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					rows = append(rows, []string{r.File, counter.Label(), strconv.Itoa(r.Count), r.Overlay})
				}
				cli.Printf(cmd, "%s\n", cli.RenderTable(
					[]string{"File", "Animal", "Count", "Overlay"},
					rows,
					[]cli.Alignment{cli.AlignLeft, cli.AlignLeft, cli.AlignRight, cli.AlignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for the overlay images")

	return cmd
}

// Run counts every photo in paths, stopping at the first failure
func Run(ctx context.Context, counter Counter, paths []string, outputDir string, quality int) ([]Result, error) {
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, blobstore.PermDir); err != nil {
			return nil, errors.New(err).
				Component("count").
				Category(errors.CategoryFileIO).
				Build()
		}
	}

	results := make([]Result, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.New(err).
				Component("count").
				Category(errors.CategoryFileIO).
				Context("file", p).
				Build()
		}
		img, err := imageio.Load(p, data, counter.InputSize())
		if err != nil {
			return nil, err
		}
		res, err := counter.Count(ctx, img)
		if err != nil {
			return nil, err
		}

		overlay := OverlayPath(p, outputDir)
		err = blobstore.WriteFileAtomic(overlay, blobstore.PermFile, func(w io.Writer) error {
			return imageio.EncodeJPEG(w, res.Annotated, quality)
		})
		if err != nil {
			return nil, errors.New(err).
				Component("count").
				Category(errors.CategoryFileIO).
				Context("file", overlay).
				Build()
		}
		results = append(results, Result{File: p, Count: res.Count, Overlay: overlay})
	}
	return results, nil
}

// OverlayPath returns where the overlay of src is written
func OverlayPath(src, outputDir string) string {
	base := filepath.Base(src)
	name := strings.TrimSuffix(base, filepath.Ext(base)) + "_counted.jpg"
	if outputDir == "" {
		outputDir = filepath.Dir(src)
	}
	return filepath.Join(outputDir, name)
}
