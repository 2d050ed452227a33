// Package main provides the CLI for the LeapGuard data quality and governance core.
package main

import (
	"os"

	"github.com/leapstack-labs/leapguard/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
