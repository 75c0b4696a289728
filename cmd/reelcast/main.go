// Package main is the entry point for the reelcast application.
package main

import (
	"os"

	"github.com/jmylchreest/reelcast/cmd/reelcast/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
