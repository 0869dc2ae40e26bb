// Command graphx lays out and explores the legal knowledge graph from the
// terminal, and can run the exploration daemon.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
