// Package main is the entry point for unison-fsmonitor
package main

import (
	"fmt"
	"os"

	"github.com/pulsepoint/fsmonitor/internal/cli"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func main() {
	cli.SetVersionInfo(Version, BuildDate)

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
