// Command contestare runs the traffic-fine contest service and its
// maintenance tools.
//
// Usage:
//
//	contestare serve               Start the HTTP API
//	contestare analyze [flags]     Score a notice from the command line
//	contestare render [flags]      Score a notice and print the contest letter
//	contestare contracts           List the contract templates shipped with the binary
//	contestare events              Tail the JSONL audit log
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "contestare",
		Short:         "Contestare - traffic fine contest assistant",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (default ~/.contestare/config.json)")

	root.AddCommand(serveCmd())
	root.AddCommand(analyzeCmd())
	root.AddCommand(renderCmd())
	root.AddCommand(contractsCmd())
	root.AddCommand(eventsCmd())
	return root
}
