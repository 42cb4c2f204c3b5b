package app

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/codemode-ai/codemode/pkg/executor/kernel"
)

func newKernelCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "kernel",
		Hidden: true,
		Short:  "Run the subprocess interpreter loop (spawned by the kernel executor)",
		Long: `Kernel speaks the newline-delimited JSON frame protocol on stdin and
stdout. It is launched by the kernel executor, never by hand; logs go to
stderr so stdout stays a clean protocol channel.`,
		RunE: func(*cobra.Command, []string) error {
			return kernel.Serve(os.Stdin, os.Stdout)
		},
	}
}
