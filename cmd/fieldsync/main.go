// Package main is the entry point for the fieldsync CLI.
package main

import (
	"os"

	"github.com/roach88/fieldsync/internal/cli"
)

func main() {
	// Commands report their own errors through the output formatter.
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
