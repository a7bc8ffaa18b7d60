package main

import (
	"os"

	"omniworker/internal/ui/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
