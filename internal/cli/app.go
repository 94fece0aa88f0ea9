package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/wildlife-reid/internal/app"
	"github.com/tphakala/wildlife-reid/internal/buildinfo"
	"github.com/tphakala/wildlife-reid/internal/conf"
	"github.com/tphakala/wildlife-reid/internal/httpclient"
	"github.com/tphakala/wildlife-reid/internal/logger"
)

// ServerFlag names the flag pointing commands at a running server
const ServerFlag = "server"

// SignalContext returns a context cancelled on SIGINT or SIGTERM
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// WithApp opens the service graph, runs fn and closes it
func WithApp(settings *conf.Settings, build *buildinfo.Context, fn func(*app.App) error) error {
	a, err := app.New(settings, build)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			app.GetLogger().Warn("closing services failed", logger.Error(cerr))
		}
	}()
	return fn(a)
}

// Remote returns a client for the server named by --server, or nil when the flag is empty
func Remote(cmd *cobra.Command) (*httpclient.Client, error) {
	f := cmd.Flags().Lookup(ServerFlag)
	if f == nil || f.Value.String() == "" {
		return nil, nil
	}
	return httpclient.New(httpclient.Config{BaseURL: f.Value.String()})
}

// AddServerFlag registers --server on cmd
func AddServerFlag(cmd *cobra.Command) {
	cmd.Flags().String(ServerFlag, "", "Base URL of a running reid server, e.g. http://localhost:8080")
}

// FormatUnix renders fractional unix seconds in local time, or "-" for zero
func FormatUnix(sec float64) string {
	if sec == 0 {
		return "-"
	}
	whole := int64(sec)
	return time.Unix(whole, int64((sec-float64(whole))*1e9)).Local().Format(time.DateTime)
}

// Printf writes to the command's output stream
func Printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
