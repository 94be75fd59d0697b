// Command enginectl is a local client for submitting and polling
// questions against the dispatch engine during development.
package main

import (
	"fmt"
	"os"

	"github.com/nl2sql/queryengine/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
