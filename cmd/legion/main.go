package main

import (
	"os"

	"github.com/legion/legion/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
