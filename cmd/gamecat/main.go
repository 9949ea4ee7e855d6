// Command gamecat browses a live game catalogue and tracks read status.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/gamecat/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
