// Command pipelinectl runs the metadata pipeline workers in pull mode and
// carries the operator tooling around them.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
