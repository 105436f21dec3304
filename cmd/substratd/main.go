// Package main provides the entry point for substratd, the daemon that
// orchestrates a hierarchy of LLM agents.
package main

import (
	"fmt"
	"os"

	"github.com/substratai/substrat/cmd/substratd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
