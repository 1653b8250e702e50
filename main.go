package main

import (
	"os"

	"github.com/kasuganosora/equipets/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
