// Package main implements the go-mask-analysis CLI (gma).
// It loads IR fixtures, builds their mask graphs and lowers them to
// boolean mask values.
package main

import (
	"os"

	"github.com/l3aro/go-mask-analysis/cmd/gma/commands"
)

var (
	version   = "dev"
	buildTime = ""
)

func main() {
	commands.Version = version
	commands.BuildTime = buildTime

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
