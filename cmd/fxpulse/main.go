package main

import (
	"fmt"
	"os"

	"github.com/fxpulse/fxpulse/cmd/fxpulse/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fxpulse:", err)
		os.Exit(cmd.ExitCode(err))
	}
}
