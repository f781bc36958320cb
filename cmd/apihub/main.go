// Package main is the entry point for the apihub server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version can be overridden at release time with
// -ldflags "-X main.version=v...".
var version = "2.0.0"

// Global flags.
var (
	configPath string
	logLevel   string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "apihub",
		Short: "Proxy hub for third-party chat and image-processing upstreams",
		Long: `apihub fronts scraped third-party services behind a stable JSON API:
chat sessions with nonce handshake and idle expiry, asynchronous
image-processing tasks with daily per-caller limits, and an endpoint
catalog for front-ends.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newCheckConfigCmd())

	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
