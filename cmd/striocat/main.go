package main

import (
	"os"

	"github.com/strio-net/strio/cmd/striocat/cmd"
)

func main() {
	if err := cmd.Root.Execute(); err != nil {
		os.Exit(1)
	}
}
