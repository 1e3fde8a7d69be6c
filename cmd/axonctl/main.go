package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagSocket string

var rootCmd = &cobra.Command{
	Use:   "axonctl",
	Short: "axonctl - talk to a running axond over its IPC socket",
	Long: `axonctl is a thin diagnostic client for axond's Unix-socket IPC
protocol: it authenticates, issues one command, prints the reply as
JSON, and exits (watch instead stays connected and prints pushed
events). It is not a supported integration surface - agents
should speak the IPC protocol directly.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	home, _ := os.UserHomeDir()
	rootCmd.PersistentFlags().StringVar(&flagSocket, "socket", home+"/.axon/axon.sock", "path to axond's IPC socket")
	rootCmd.AddCommand(statusCmd, peersCmd, sendCmd, watchCmd)
}
