package cli

import (
	"fmt"
	"runtime"

	"github.com/pulsepoint/fsmonitor/internal/protocol"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "unison-fsmonitor %s\n", version)
		fmt.Fprintf(out, "  built:    %s\n", buildDate)
		fmt.Fprintf(out, "  protocol: %s\n", protocol.Version)
		fmt.Fprintf(out, "  go:       %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}
