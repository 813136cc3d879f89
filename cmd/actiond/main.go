package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/actiond/actiond/internal/cli"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	cmd := cli.NewRootCommand()
	cmd.Version = version

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed, color.Bold).Sprintf("error: %v", err))
		os.Exit(cli.GetExitCode(err))
	}
}
