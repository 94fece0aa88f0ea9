package main

import (
	"fmt"
	"os"

	"github.com/tphakala/wildlife-reid/cmd"
	"github.com/tphakala/wildlife-reid/internal/buildinfo"
	"github.com/tphakala/wildlife-reid/internal/conf"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	build := buildinfo.NewContext(version, buildDate, "")
	settings := &conf.Settings{}

	if err := cmd.RootCommand(settings, build).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
