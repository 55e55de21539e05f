// Package main provides the entry point for the amanfacet CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/amanfacet/cmd/amanfacet/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
