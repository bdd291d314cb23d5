package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	cli "github.com/neboloop/browserpool/cmd/browserpool"
	"github.com/neboloop/browserpool/internal/defaults"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Ensure data directory exists with default files
	if _, err := defaults.EnsureDataDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize data directory: %v\n", err)
		os.Exit(1)
	}

	if err := cli.SetupRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
