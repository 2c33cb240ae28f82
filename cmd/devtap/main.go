package main

import (
	"os"

	"github.com/brianly1003/devtap/cmd/devtap/cmd"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, buildTime, gitCommit)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
