package main

import (
	"os"

	"github.com/corvid-labs/foreman/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
