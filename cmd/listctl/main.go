// Package main is the entry point for the listctl CLI.
// The CLI is the operator terminal tool for the listsync daemons.
package main

import (
	"os"

	"listsync/cmd/listctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
