package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/peterfisher/canvas-parent/lib/telemetry"

	"github.com/spf13/cobra"
)

var configFile *string
var verbose *bool

var rootCmd = &cobra.Command{
	Use:   "canvas-parent",
	Short: "canvas-parent scrapes a Canvas portal and renders a grade dashboard for parents.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)
	},
}

func init() {
	configFile = rootCmd.PersistentFlags().String("config", "config.json5", "The configuration file to use.")
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
