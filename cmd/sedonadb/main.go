// Package main is the entry point for the sedonadb CLI binary.
package main

import (
	"os"

	"github.com/sedonadb/go-sedonadb/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
