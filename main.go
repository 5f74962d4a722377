package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tonimelisma/adminctl/internal/api"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		switch {
		case errors.Is(err, api.ErrSessionExpired):
			// The navigator already told the user to log in again.
			os.Exit(2)
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(os.Stderr, "Interrupted.")
			os.Exit(interruptExitCode)
		}

		exitOnError(err)
	}
}
