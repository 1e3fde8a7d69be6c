package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "axond",
	Short: "AXON daemon - peer-to-peer agent communication",
	Long: `axond holds a node's cryptographic identity, discovers peers, establishes
mutually authenticated QUIC connections, and exchanges structured messages.
Local consumers drive the daemon through a Unix-socket IPC channel.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(runCmd)
}
