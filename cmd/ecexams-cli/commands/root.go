package commands

import (
	"context"
	"fmt"
	"os"

	"ecexams-crawler/lib/telemetry"

	"github.com/spf13/cobra"
)

var verbose *bool

var rootCmd = &cobra.Command{
	Use:   "ecexams-cli",
	Short: "ecexams-cli downloads past exam papers from the Eastern Cape examination archive.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)
	},
}

func init() {
	verbose = rootCmd.PersistentFlags().Bool("verbose", false, "Log at debug level, including progress lines and HTTP transcripts.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
