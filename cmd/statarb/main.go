package main

import (
	"os"

	"github.com/jmlee/statarb/cmd/statarb/commands"
)

// main is the entry point for the statarb CLI
// ⭐ unified CLI entry point: go run ./cmd/statarb [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
