package main

import (
	"fmt"
	"os"

	boterrors "agendabot/internal/shared/errors"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if boterrors.IsConfigError(err) {
		return 2
	}
	return 1
}
