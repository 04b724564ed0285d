// Package main provides the glue CLI: it composes and runs servers from
// manifests.
package main

import (
	"os"

	"github.com/sirosfoundation/go-glue/cmd/glue/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
