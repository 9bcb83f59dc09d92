// Command starcore applies patient events to a bitemporal record store.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/starcore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
