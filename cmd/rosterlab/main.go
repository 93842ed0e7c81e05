// Package main provides the rosterlab CLI.
package main

import (
	"fmt"
	"os"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
