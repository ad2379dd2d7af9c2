package main

import (
	"os"

	"github.com/go-dogma/dogma/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
