// Package main is the entry point for the maskflow binary.
package main

import (
	"os"

	cli "maskflow/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
