// Package main is photovaultctl's entry point: a thin HTTP client CLI
// for photovaultd.
package main

import (
	"os"

	"github.com/localphoto/photovault/cmd/photovaultctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
