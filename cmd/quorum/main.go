// Package main provides the entry point for the Quorum coordinator.
package main

import (
	"fmt"
	"os"

	"github.com/quorumlabs/quorum/cmd/quorum/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
