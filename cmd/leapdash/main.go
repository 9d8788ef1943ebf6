// Package main provides the leapdash CLI.
package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"github.com/leapstack-labs/leapdash/internal/cli"
)

func main() {
	// A .env file in the working directory seeds LEAPDASH_ variables
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = os.Stderr.WriteString("Warning: failed to load .env: " + err.Error() + "\n")
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
