// Package main is the entry point for pipectl, the test-pipeline CLI.
package main

import (
	"os"

	"testpipe/cmd/pipectl/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
