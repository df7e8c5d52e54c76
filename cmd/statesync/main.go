// Command statesync runs the sync server and client.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/statesync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
