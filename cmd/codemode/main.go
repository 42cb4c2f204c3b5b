// Package main is the entry point for the codemode CLI.
package main

import (
	"os"

	"github.com/codemode-ai/codemode/cmd/codemode/app"
	"github.com/codemode-ai/codemode/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
