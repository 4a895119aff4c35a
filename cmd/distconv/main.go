// Package main is the entry point for the distconv coordinator.
package main

import (
	"os"

	"github.com/distconv/distconv/cmd/distconv/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
