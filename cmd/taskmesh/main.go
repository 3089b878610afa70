package main

import (
	"os"

	"github.com/taskmesh/taskmesh/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
