package main

import (
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tlbsim",
	Short: "tlbsim simulates a paged memory system with a software TLB.",
	Long: `tlbsim runs the processes of a workload file on a simulated ` +
		`memory system. It can trace every TLB access, record them into a ` +
		`SQLite database, and serve the state of the simulation over HTTP.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
