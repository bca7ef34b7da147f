package main

import (
	"os"

	"kiln/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
