// Package main provides the entry point for the awe CLI.
package main

import (
	"os"

	"github.com/randalmurphal/awe/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
