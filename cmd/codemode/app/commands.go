// Package app provides the entry point for the codemode command-line
// application.
package app

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:               "codemode",
	DisableAutoGenTag: true,
	Short:             "codemode runs agent-written code against tools, skills, and artifacts",
	Long: `codemode is an execution service for AI agents: it evaluates untrusted
code in an isolated interpreter whose namespaces expose tools, reusable
skills, persistent artifacts, and dependency management.

The CLI bundles the session service (serve), the subprocess interpreter
(kernel), and the catalog lifecycle utilities (store).`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// NewRootCmd creates the root command for the codemode CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newKernelCmd())
	rootCmd.AddCommand(newStoreCmd())
	return rootCmd
}
