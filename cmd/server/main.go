// Package main is the entry point for the imagine server and operator CLI.
//
// The main package is kept minimal: all logic lives in internal/cli and the
// packages it wires together.
//
// WHY cmd/server/?
// The cmd/ directory is a Go convention for executable entry points. Each
// executable gets its own directory with its own main.go.
package main

import (
	"fmt"
	"os"

	"github.com/sakif/imagine/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
