// Command ledgerflow submits transactions to a ledger gateway and follows
// ledger state.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/ledgerflow/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerflow:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
